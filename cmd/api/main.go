package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	appanalysis "github.com/bryanwahyu/healthdash/internal/application/analysis"
	appuploads "github.com/bryanwahyu/healthdash/internal/application/uploads"
	"github.com/bryanwahyu/healthdash/internal/config"
	domainuploads "github.com/bryanwahyu/healthdash/internal/domain/uploads"
	"github.com/bryanwahyu/healthdash/internal/infra/db"
	"github.com/bryanwahyu/healthdash/internal/infra/executor/process"
	"github.com/bryanwahyu/healthdash/internal/infra/httpserver"
	"github.com/bryanwahyu/healthdash/internal/infra/logging"
	"github.com/bryanwahyu/healthdash/internal/infra/storage"
	"github.com/bryanwahyu/healthdash/internal/middleware"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	health := map[string]middleware.HealthChecker{
		"engine": middleware.FileChecker{Path: cfg.Analysis.Script},
	}
	if cfg.Analysis.Interpreter != "" {
		health["interpreter"] = middleware.ExecutableChecker{Name: cfg.Analysis.Interpreter}
	}

	// run history
	runs, pool, err := db.OpenRunRepository(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("database init error")
	}
	if pool != nil {
		defer pool.Close()
		health["database"] = &middleware.DatabaseHealthChecker{DB: pool}
		log.Info().Str("driver", cfg.Database.Driver).Msg("run history enabled")
	}

	disk, err := storage.NewDisk(cfg.Uploads.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("upload dir init error")
	}

	var mirror domainuploads.ArtifactStore
	if cfg.Minio.Enabled {
		store, err := storage.NewObjectStore(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("minio init error")
		}
		mirror = store
		health["object_store"] = store
	}

	metrics := middleware.NewMetrics()

	runner := process.NewRunner(cfg.Analysis.Interpreter, cfg.Analysis.Timeout)

	analysisSvc := appanalysis.NewService(runner, cfg.Analysis.Script)
	analysisSvc.Observer = metrics
	analysisSvc.Runs = runs

	uploadsSvc := appuploads.NewService(disk, mirror)
	uploadsSvc.MaxBytes = cfg.Uploads.MaxBytes
	if len(cfg.Uploads.Allowed) > 0 {
		uploadsSvc.Allowed = cfg.Uploads.Allowed
	}

	opts := httpserver.Options{
		Logger:         logger,
		Metrics:        metrics,
		APIKeys:        cfg.Server.APIKeys,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Health:         health,
	}
	if cfg.Server.RateLimit.RPS > 0 {
		limiter := middleware.NewRateLimiter(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst)
		defer limiter.Close()
		opts.RateLimiter = limiter
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpserver.NewRouter(analysisSvc, uploadsSvc, opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", addr).
			Str("interpreter", cfg.Analysis.Interpreter).
			Str("engine", cfg.Analysis.Script).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
