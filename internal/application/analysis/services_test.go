package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/healthdash/internal/application"
	domain "github.com/bryanwahyu/healthdash/internal/domain/analysis"
)

type fakeInvoker struct {
	mu       sync.Mutex
	requests []domain.InvocationRequest
	invoke   func(req domain.InvocationRequest) (domain.Result, error)
}

func (f *fakeInvoker) Invoke(_ context.Context, req domain.InvocationRequest) (domain.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.invoke == nil {
		return domain.Structured(map[string]any{}), nil
	}
	return f.invoke(req)
}

func (f *fakeInvoker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeRuns struct {
	mu   sync.Mutex
	runs []*domain.Run
	err  error
}

func (f *fakeRuns) Save(ctx context.Context, r *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.runs = append(f.runs, r)
	return nil
}

func (f *fakeRuns) Paginate(ctx context.Context, page, pageSize int) ([]*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs, f.err
}

type fakeObserver struct {
	statuses []domain.Status
}

func (f *fakeObserver) ObserveInvocation(status domain.Status, kind domain.ResultKind, elapsed time.Duration) {
	f.statuses = append(f.statuses, status)
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name     string
		cleaning domain.Options
		filters  domain.Options
		want     []string
	}{
		{
			name: "no options",
			want: []string{"uploads/1-data.csv", "{}", "{}"},
		},
		{
			name:     "cleaning only keeps filters position",
			cleaning: domain.Options{"removeDuplicates": true},
			want:     []string{"uploads/1-data.csv", `{"removeDuplicates":true}`, "{}"},
		},
		{
			name:    "filters only keeps cleaning position",
			filters: domain.Options{"column": "zip", "min": 10},
			want:    []string{"uploads/1-data.csv", "{}", `{"column":"zip","min":10}`},
		},
		{
			name:     "nested values",
			cleaning: domain.Options{"handleMissing": map[string]any{"strategy": "ffill"}},
			filters:  domain.Options{"range": []any{1, 2.5}},
			want:     []string{"uploads/1-data.csv", `{"handleMissing":{"strategy":"ffill"}}`, `{"range":[1,2.5]}`},
		},
		{
			name:     "empty maps",
			cleaning: domain.Options{},
			filters:  domain.Options{},
			want:     []string{"uploads/1-data.csv", "{}", "{}"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildArgs("uploads/1-data.csv", tt.cleaning, tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildArgs_Unserializable(t *testing.T) {
	_, err := BuildArgs("a.csv", domain.Options{"bad": math.Inf(1)}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidOptions))
}

func TestService_Analyze_MissingInput(t *testing.T) {
	inv := &fakeInvoker{}
	runs := &fakeRuns{}
	svc := &Service{Invoker: inv, Runs: runs}

	_, err := svc.Analyze(context.Background(), AnalyzeCommand{FileRef: ""})

	assert.True(t, errors.Is(err, domain.ErrMissingInput))
	assert.Zero(t, inv.calls(), "no process may be started")
	assert.Empty(t, runs.runs)
}

func TestService_Analyze_BlankReferenceReachesEngine(t *testing.T) {
	inv := &fakeInvoker{}
	svc := &Service{Invoker: inv}

	_, err := svc.Analyze(context.Background(), AnalyzeCommand{FileRef: "   "})

	require.NoError(t, err)
	assert.Equal(t, 1, inv.calls())
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 4095) + "é"
	got := truncate(long, 4096)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 4095), got)

	assert.Equal(t, "short", truncate("short", 4096))
	assert.Equal(t, "bad\uFFFDbyte", truncate("bad\xffbyte", 4096))
}

func TestService_Analyze_BuildsRequest(t *testing.T) {
	inv := &fakeInvoker{}
	svc := NewService(inv, "engines/csv.py")

	_, err := svc.Analyze(context.Background(), AnalyzeCommand{
		FileRef:  "uploads/1-data.csv",
		Cleaning: domain.Options{"handleMissing": true},
	})
	require.NoError(t, err)

	require.Len(t, inv.requests, 1)
	assert.Equal(t, domain.InvocationRequest{
		Executable: "engines/csv.py",
		Args:       []string{"uploads/1-data.csv", `{"handleMissing":true}`, "{}"},
	}, inv.requests[0])
}

func TestService_Analyze_DefaultEngine(t *testing.T) {
	inv := &fakeInvoker{}
	svc := &Service{Invoker: inv}

	_, err := svc.Analyze(context.Background(), AnalyzeCommand{FileRef: "a.csv"})
	require.NoError(t, err)
	assert.Equal(t, DefaultEngine, inv.requests[0].Executable)
}

func TestService_Analyze_PropagatesResults(t *testing.T) {
	report := map[string]any{"rows": json.Number("10"), "cols": json.Number("3")}
	failure := &domain.InvocationFailure{ExitCode: 1, Stderr: "FileNotFoundError", Stdout: "{}"}
	launch := &domain.LaunchError{Executable: "python3", Err: errors.New("not found")}

	tests := []struct {
		name    string
		result  domain.Result
		err     error
		status  domain.Status
		exit    int
		wantErr error
	}{
		{name: "structured", result: domain.Structured(report), status: domain.StatusSuccess},
		{name: "raw", result: domain.Raw("hello"), status: domain.StatusSuccess},
		{name: "non-zero exit", err: failure, status: domain.StatusFailed, exit: 1, wantErr: failure},
		{name: "launch failure", err: launch, status: domain.StatusError, exit: -1, wantErr: launch},
		{name: "timeout", err: errors.Wrap(domain.ErrTimeout, "killed"), status: domain.StatusError, exit: -1, wantErr: domain.ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInvoker{invoke: func(domain.InvocationRequest) (domain.Result, error) {
				return tt.result, tt.err
			}}
			runs := &fakeRuns{}
			obs := &fakeObserver{}
			svc := &Service{Invoker: inv, Runs: runs, Observer: obs}

			res, err := svc.Analyze(context.Background(), AnalyzeCommand{FileRef: "data/sample.csv"})

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Same(t, tt.err, err, "errors are returned unchanged")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.result, res)
			}
			assert.Equal(t, 1, inv.calls(), "no retries")

			require.Len(t, runs.runs, 1)
			assert.Equal(t, tt.status, runs.runs[0].Status)
			assert.Equal(t, tt.exit, runs.runs[0].ExitCode)
			assert.Equal(t, "data/sample.csv", runs.runs[0].FileRef)
			assert.Equal(t, []domain.Status{tt.status}, obs.statuses)
		})
	}
}

func TestService_Analyze_FailureDetails(t *testing.T) {
	inv := &fakeInvoker{invoke: func(domain.InvocationRequest) (domain.Result, error) {
		return domain.Result{}, &domain.InvocationFailure{ExitCode: 1, Stderr: "FileNotFoundError"}
	}}
	svc := &Service{Invoker: inv}

	_, err := svc.Analyze(context.Background(), AnalyzeCommand{FileRef: "missing.csv"})

	var failure *domain.InvocationFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 1, failure.ExitCode)
	assert.Contains(t, err.Error(), "FileNotFoundError")
}

func TestService_Analyze_RecordFailureIsNotSurfaced(t *testing.T) {
	svc := &Service{
		Invoker: &fakeInvoker{},
		Runs:    &fakeRuns{err: errors.New("db down")},
	}

	_, err := svc.Analyze(context.Background(), AnalyzeCommand{FileRef: "a.csv"})
	assert.NoError(t, err)
}

func TestService_Analyze_RecordsTiming(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	clock := application.ClockFunc(func() time.Time {
		calls++
		return base.Add(time.Duration(calls-1) * 1500 * time.Millisecond)
	})
	runs := &fakeRuns{}
	svc := &Service{Invoker: &fakeInvoker{}, Runs: runs, Clock: clock}

	_, err := svc.Analyze(context.Background(), AnalyzeCommand{FileRef: "a.csv"})
	require.NoError(t, err)

	require.Len(t, runs.runs, 1)
	assert.Equal(t, base, runs.runs[0].CreatedAt)
	assert.Equal(t, int64(1500), runs.runs[0].DurationMS)
	assert.Equal(t, domain.KindStructured, runs.runs[0].ResultKind)
	assert.NotEmpty(t, runs.runs[0].ID)
}

func TestService_Analyze_Concurrent(t *testing.T) {
	inv := &fakeInvoker{invoke: func(req domain.InvocationRequest) (domain.Result, error) {
		time.Sleep(time.Millisecond)
		return domain.Structured(map[string]any{"file": req.Args[0]}), nil
	}}
	svc := &Service{Invoker: inv}

	const n = 16
	results := make([]domain.Result, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := svc.Analyze(context.Background(), AnalyzeCommand{
				FileRef: domain.FileReference(fmt.Sprintf("uploads/%d.csv", i)),
			})
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i, res := range results {
		assert.Equal(t, map[string]any{"file": fmt.Sprintf("uploads/%d.csv", i)}, res.Value)
	}
}

func TestService_History(t *testing.T) {
	t.Run("without repository", func(t *testing.T) {
		runs, err := (&Service{}).History(context.Background(), 1, 20)
		require.NoError(t, err)
		assert.NotNil(t, runs)
		assert.Empty(t, runs)
	})

	t.Run("with repository", func(t *testing.T) {
		repo := &fakeRuns{runs: []*domain.Run{{ID: "r1"}}}
		runs, err := (&Service{Runs: repo}).History(context.Background(), 1, 20)
		require.NoError(t, err)
		assert.Len(t, runs, 1)
	})

	t.Run("repository error", func(t *testing.T) {
		repo := &fakeRuns{err: errors.New("db down")}
		_, err := (&Service{Runs: repo}).History(context.Background(), 1, 20)
		assert.Error(t, err)
	})
}
