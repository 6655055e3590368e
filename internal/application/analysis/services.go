package analysis

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bryanwahyu/healthdash/internal/application"
	domain "github.com/bryanwahyu/healthdash/internal/domain/analysis"
)

// DefaultEngine is the engine script shipped next to the server.
const DefaultEngine = "python/csv_processor.py"

// maxRecordedError caps how much stderr goes into the run history.
const maxRecordedError = 4096

// Service sequences one analysis: argument construction, a single engine
// invocation, and bookkeeping. It is safe for concurrent use.
type Service struct {
	Invoker domain.Invoker
	Engine  string

	// optional
	Runs     domain.RunRepository
	Observer domain.Observer
	Clock    application.Clock
}

func NewService(invoker domain.Invoker, engine string) *Service {
	return &Service{Invoker: invoker, Engine: engine, Clock: application.SystemClock{}}
}

// AnalyzeCommand is the input of one analysis request.
type AnalyzeCommand struct {
	FileRef  domain.FileReference
	Cleaning domain.Options
	Filters  domain.Options
}

// BuildArgs returns the engine arguments: file reference, cleaning options,
// filters. Absent option sets are sent as {} so the positions never shift.
func BuildArgs(file domain.FileReference, cleaning, filters domain.Options) ([]string, error) {
	cleaningJSON, err := encodeOptions(cleaning)
	if err != nil {
		return nil, errors.Wrap(err, "cleaning options")
	}
	filtersJSON, err := encodeOptions(filters)
	if err != nil {
		return nil, errors.Wrap(err, "filters")
	}
	return []string{string(file), cleaningJSON, filtersJSON}, nil
}

func encodeOptions(o domain.Options) (string, error) {
	if o == nil {
		return "{}", nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "encode"), domain.ErrInvalidOptions)
	}
	return string(b), nil
}

// Analyze runs the engine once for cmd. Engine results and failures are
// returned as the invoker produced them; nothing is retried.
func (s *Service) Analyze(ctx context.Context, cmd AnalyzeCommand) (domain.Result, error) {
	if cmd.FileRef == "" {
		return domain.Result{}, domain.ErrMissingInput
	}

	args, err := BuildArgs(cmd.FileRef, cmd.Cleaning, cmd.Filters)
	if err != nil {
		return domain.Result{}, err
	}

	start := s.now()
	res, err := s.Invoker.Invoke(ctx, domain.InvocationRequest{
		Executable: s.engine(),
		Args:       args,
	})
	s.record(ctx, cmd.FileRef, start, res, err)

	return res, err
}

// History lists recorded runs, newest first.
func (s *Service) History(ctx context.Context, page, pageSize int) ([]*domain.Run, error) {
	if s.Runs == nil {
		return []*domain.Run{}, nil
	}
	runs, err := s.Runs.Paginate(ctx, page, pageSize)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	if runs == nil {
		runs = []*domain.Run{}
	}
	return runs, nil
}

func (s *Service) record(ctx context.Context, file domain.FileReference, start time.Time, res domain.Result, err error) {
	elapsed := s.now().Sub(start)
	run := &domain.Run{
		ID:         domain.RunID(uuid.NewString()),
		FileRef:    string(file),
		Status:     domain.StatusSuccess,
		DurationMS: elapsed.Milliseconds(),
		CreatedAt:  start,
	}

	var failure *domain.InvocationFailure
	switch {
	case err == nil:
		run.ResultKind = res.Kind
	case errors.As(err, &failure):
		run.Status = domain.StatusFailed
		run.ExitCode = failure.ExitCode
		run.Error = truncate(failure.Stderr, maxRecordedError)
	default:
		run.Status = domain.StatusError
		run.ExitCode = -1
		run.Error = truncate(err.Error(), maxRecordedError)
	}

	if s.Observer != nil {
		s.Observer.ObserveInvocation(run.Status, run.ResultKind, elapsed)
	}

	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("run_id", string(run.ID)).
		Str("file", run.FileRef).
		Str("status", string(run.Status)).
		Int("exit_code", run.ExitCode).
		Int64("duration_ms", run.DurationMS).
		Msg("analysis finished")

	if s.Runs == nil {
		return
	}
	// the audit row outlives a disconnected client
	if err := s.Runs.Save(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn().Err(err).Str("run_id", string(run.ID)).Msg("failed to record analysis run")
	}
}

func (s *Service) engine() string {
	if s.Engine != "" {
		return s.Engine
	}
	return DefaultEngine
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

// truncate caps s at n bytes without splitting a character and replaces
// invalid UTF-8, so the text is accepted by utf8 database columns.
func truncate(s string, n int) string {
	if len(s) > n {
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}
