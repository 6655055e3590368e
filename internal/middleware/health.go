package middleware

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/render"
)

// HealthChecker defines interface for health checking
type HealthChecker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// DatabaseHealthChecker checks database health
type DatabaseHealthChecker struct {
	DB *sql.DB
}

func (d *DatabaseHealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.DB.PingContext(ctx)
}

// ExecutableChecker reports whether the engine interpreter resolves on PATH.
type ExecutableChecker struct {
	Name string
}

func (e ExecutableChecker) Check(context.Context) error {
	if _, err := exec.LookPath(e.Name); err != nil {
		return errors.Wrapf(err, "interpreter %q", e.Name)
	}
	return nil
}

// FileChecker reports whether a regular file exists at Path.
type FileChecker struct {
	Path string
}

func (f FileChecker) Check(context.Context) error {
	info, err := os.Stat(f.Path)
	if err != nil {
		return errors.Wrapf(err, "stat %s", f.Path)
	}
	if info.IsDir() {
		return errors.Newf("%s is a directory", f.Path)
	}
	return nil
}

// HealthStatus represents the health status
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

type CheckStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthHandler runs every checker and answers 503 if any fails.
func HealthHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Checks:    make(map[string]CheckStatus, len(checkers)),
		}

		for name, checker := range checkers {
			if err := checker.Check(ctx); err != nil {
				health.Status = "unhealthy"
				health.Checks[name] = CheckStatus{Status: "unhealthy", Message: err.Error()}
				continue
			}
			health.Checks[name] = CheckStatus{Status: "healthy"}
		}

		if health.Status == "unhealthy" {
			render.Status(r, http.StatusServiceUnavailable)
		}
		render.JSON(w, r, health)
	}
}

// ReadinessHandler creates a readiness check handler (simpler than health)
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
	})
}

// LivenessHandler creates a liveness check handler (simplest check)
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
