package process

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	domain "github.com/bryanwahyu/healthdash/internal/domain/analysis"
)

const defaultWaitDelay = 2 * time.Second

// Runner starts the analysis engine as a child process and captures its
// stdout and stderr. It holds no per-invocation state and is safe for
// concurrent use.
type Runner struct {
	// Interpreter, when set, is launched with the engine executable as its
	// first argument (e.g. python3 script.py ...).
	Interpreter string
	// Timeout bounds one invocation. Zero leaves it to the caller's context.
	Timeout time.Duration
	// WaitDelay is how long to wait for the output pipes after the process
	// is killed or exits.
	WaitDelay time.Duration
}

func NewRunner(interpreter string, timeout time.Duration) *Runner {
	return &Runner{
		Interpreter: interpreter,
		Timeout:     timeout,
		WaitDelay:   defaultWaitDelay,
	}
}

// Invoke runs the engine once. A zero exit yields a Result; a non-zero exit
// yields *domain.InvocationFailure whatever stdout held.
func (r *Runner) Invoke(ctx context.Context, req domain.InvocationRequest) (domain.Result, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	name, args := r.commandLine(req)
	if name == "" {
		return domain.Result{}, &domain.LaunchError{Executable: name, Err: errors.New("no executable configured")}
	}
	logger := zerolog.Ctx(ctx).With().Str("executable", name).Logger()

	if err := ctx.Err(); err != nil {
		return domain.Result{}, r.contextError(err, 0)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.waitDelay()

	start := time.Now()
	if err := cmd.Start(); err != nil {
		logger.Error().Err(err).Msg("analysis engine failed to start")
		return domain.Result{}, &domain.LaunchError{Executable: name, Err: err}
	}
	logger.Debug().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("analysis engine started")

	err := cmd.Wait()
	elapsed := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Warn().Err(ctxErr).Dur("elapsed", elapsed).Msg("analysis engine killed")
			return domain.Result{}, r.contextError(ctxErr, elapsed)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Info().
				Int("exit_code", exitErr.ExitCode()).
				Int("stderr_bytes", stderr.Len()).
				Dur("elapsed", elapsed).
				Msg("analysis engine exited with failure")
			return domain.Result{}, &domain.InvocationFailure{
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
				Stdout:   stdout.String(),
			}
		}
		if !errors.Is(err, exec.ErrWaitDelay) || cmd.ProcessState == nil || !cmd.ProcessState.Success() {
			return domain.Result{}, errors.Wrapf(err, "wait for %s", name)
		}
		// the engine exited 0 but a descendant kept its pipes open
		logger.Warn().Dur("elapsed", elapsed).Msg("analysis engine output pipes left open after exit")
	}

	res := domain.ParseOutput(stdout.Bytes())
	logger.Debug().
		Str("kind", string(res.Kind)).
		Int("stdout_bytes", stdout.Len()).
		Int("stderr_bytes", stderr.Len()).
		Dur("elapsed", elapsed).
		Msg("analysis engine finished")
	return res, nil
}

func (r *Runner) commandLine(req domain.InvocationRequest) (string, []string) {
	if r.Interpreter == "" {
		return req.Executable, append([]string(nil), req.Args...)
	}
	args := make([]string, 0, len(req.Args)+1)
	if req.Executable != "" {
		args = append(args, req.Executable)
	}
	return r.Interpreter, append(args, req.Args...)
}

func (r *Runner) contextError(err error, elapsed time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrapf(domain.ErrTimeout, "killed after %s", elapsed.Round(time.Millisecond))
	}
	return errors.Wrap(err, "analysis engine canceled")
}

func (r *Runner) waitDelay() time.Duration {
	if r.WaitDelay > 0 {
		return r.WaitDelay
	}
	return defaultWaitDelay
}
