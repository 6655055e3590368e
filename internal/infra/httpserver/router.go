package httpserver

import (
	"io"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"

	appanalysis "github.com/bryanwahyu/healthdash/internal/application/analysis"
	appuploads "github.com/bryanwahyu/healthdash/internal/application/uploads"
	domain "github.com/bryanwahyu/healthdash/internal/domain/analysis"
	"github.com/bryanwahyu/healthdash/internal/domain/uploads"
	"github.com/bryanwahyu/healthdash/internal/middleware"
)

const welcome = "Welcome to the Community Health Dashboard API"

// multipartOverhead is allowed on top of the upload limit for part headers.
const multipartOverhead = 1 << 20

// Options carries the optional collaborators of the router.
type Options struct {
	Logger         zerolog.Logger
	Metrics        *middleware.Metrics
	RateLimiter    *middleware.RateLimiter
	APIKeys        map[string]string
	AllowedOrigins []string
	Health         map[string]middleware.HealthChecker
}

type Router struct {
	analysisSvc *appanalysis.Service
	uploadsSvc  *appuploads.Service
	validate    *middleware.Validator
}

func NewRouter(analysisSvc *appanalysis.Service, uploadsSvc *appuploads.Service, opts Options) http.Handler {
	r := &Router{
		analysisSvc: analysisSvc,
		uploadsSvc:  uploadsSvc,
		validate:    middleware.NewValidator(),
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(middleware.RequestLogger(opts.Logger))
	mux.Use(chimw.Recoverer)
	if opts.Metrics != nil {
		mux.Use(opts.Metrics.Middleware)
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	mux.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(welcome))
	})
	mux.Get("/health", middleware.HealthHandler(opts.Health))
	mux.Get("/health/live", middleware.LivenessHandler)
	mux.Get("/health/ready", middleware.ReadinessHandler)
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics.Handler())
	}

	mux.Route("/api", func(rt chi.Router) {
		rt.Use(middleware.APIKeyAuth(opts.APIKeys))
		if opts.RateLimiter != nil {
			rt.Use(opts.RateLimiter.Handler)
		}
		rt.Post("/upload", r.wrap(r.handleUpload))
		rt.Post("/analyze", r.wrap(r.handleAnalyze))
		rt.Post("/data/analyze", r.wrap(r.handleDataAnalyze))
		rt.Get("/analyses", r.wrap(r.handleHistory))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			writeError(w, req, err)
		}
	}
}

// POST /api/upload (multipart, field "file")
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	if limit := r.uploadsSvc.MaxBytes; limit > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, limit+multipartOverhead)
	}

	mr, err := req.MultipartReader()
	if err != nil {
		return errors.Mark(err, uploads.ErrNoFile)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return uploads.ErrNoFile
		}
		if err != nil {
			return errors.Wrap(err, "read multipart body")
		}
		if part.FormName() != "file" || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		stored, err := r.uploadsSvc.Receive(req.Context(), part.FileName(), part)
		_ = part.Close()
		if err != nil {
			return err
		}
		render.JSON(w, req, stored)
		return nil
	}
}

type analyzeRequest struct {
	FilePath        string         `json:"filePath" validate:"max=4096"`
	CleaningOptions domain.Options `json:"cleaningOptions"`
	Filters         domain.Options `json:"filters"`
}

func (r *Router) decodeAnalyze(req *http.Request) (appanalysis.AnalyzeCommand, error) {
	var body analyzeRequest
	if err := render.DecodeJSON(req.Body, &body); err != nil && !errors.Is(err, io.EOF) {
		return appanalysis.AnalyzeCommand{}, badRequest(err, "invalid JSON body")
	}
	if err := r.validate.Struct(body); err != nil {
		return appanalysis.AnalyzeCommand{}, err
	}
	return appanalysis.AnalyzeCommand{
		FileRef:  domain.FileReference(body.FilePath),
		Cleaning: body.CleaningOptions,
		Filters:  body.Filters,
	}, nil
}

// POST /api/analyze
// Body: {"filePath": "...", "cleaningOptions": {...}, "filters": {...}}
// Responds with the engine's report as-is.
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	cmd, err := r.decodeAnalyze(req)
	if err != nil {
		return err
	}
	res, err := r.analysisSvc.Analyze(req.Context(), cmd)
	if err != nil {
		return err
	}
	render.JSON(w, req, res)
	return nil
}

// POST /api/data/analyze
// Same input as /api/analyze; the report is wrapped as {"analysis": ...}.
func (r *Router) handleDataAnalyze(w http.ResponseWriter, req *http.Request) error {
	cmd, err := r.decodeAnalyze(req)
	if err != nil {
		return err
	}
	res, err := r.analysisSvc.Analyze(req.Context(), cmd)
	if err != nil {
		return err
	}
	render.JSON(w, req, map[string]domain.Result{"analysis": res})
	return nil
}

// GET /api/analyses?page=&page_size=
func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) error {
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))
	if page <= 0 {
		page = 1
	}
	size = middleware.ValidateLimit(size)

	runs, err := r.analysisSvc.History(req.Context(), page, size)
	if err != nil {
		return err
	}
	render.JSON(w, req, map[string]any{
		"items":     runs,
		"page":      page,
		"page_size": size,
	})
	return nil
}
