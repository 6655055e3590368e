package httpserver

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"

	"github.com/bryanwahyu/healthdash/internal/domain/analysis"
	"github.com/bryanwahyu/healthdash/internal/domain/uploads"
	"github.com/bryanwahyu/healthdash/internal/middleware"
)

// errBadRequest marks request bodies that could not be decoded.
var errBadRequest = errors.New("bad request")

func badRequest(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), errBadRequest)
}

// statusFor maps an error from the services to an HTTP status.
func statusFor(err error) int {
	var (
		verr     *middleware.ValidationError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.Is(err, analysis.ErrMissingInput),
		errors.Is(err, analysis.ErrInvalidOptions),
		errors.Is(err, uploads.ErrNoFile),
		errors.Is(err, uploads.ErrUnsupportedType),
		errors.Is(err, errBadRequest),
		errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, uploads.ErrTooLarge), errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, analysis.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		// engine failures and launch errors included
		return http.StatusInternalServerError
	}
}

// errorBody builds the JSON payload for err. Engine failures expose the exit
// code and stderr so the dashboard can show what the engine reported.
func errorBody(err error) any {
	var (
		failure *analysis.InvocationFailure
		verr    *middleware.ValidationError
	)
	switch {
	case errors.Is(err, analysis.ErrMissingInput):
		return map[string]string{"msg": "CSV file path is required"}
	case errors.Is(err, uploads.ErrNoFile):
		return map[string]string{"error": "No file uploaded or invalid file type"}
	case errors.As(err, &verr):
		return map[string]any{"error": verr.Error(), "fields": verr.Fields}
	case errors.As(err, &failure):
		return map[string]any{
			"error":    failure.Error(),
			"exitCode": failure.ExitCode,
			"stderr":   failure.Stderr,
		}
	case errors.Is(err, analysis.ErrTimeout):
		return map[string]string{"error": analysis.ErrTimeout.Error()}
	case errors.Is(err, context.Canceled):
		return map[string]string{"error": "request canceled"}
	default:
		return map[string]string{"error": err.Error()}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	logger := zerolog.Ctx(r.Context())
	ev := logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = logger.Error()
	}
	if errors.Is(err, context.Canceled) {
		// client went away; nobody reads the body
		ev = logger.Info()
	}
	ev.Err(err).Int("status", status).Msg("request failed")

	render.Status(r, status)
	render.JSON(w, r, errorBody(err))
}
