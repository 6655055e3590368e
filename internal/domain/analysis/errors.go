package analysis

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrMissingInput is returned before any process starts.
	ErrMissingInput = errors.New("file reference is required")
	// ErrInvalidOptions means cleaning options or filters could not be encoded.
	ErrInvalidOptions = errors.New("analysis options are not serializable")
	// ErrProcessLaunch marks every LaunchError.
	ErrProcessLaunch = errors.New("analysis engine could not be started")
	// ErrTimeout is returned when the engine is killed at its deadline.
	ErrTimeout = errors.New("analysis engine timed out")
)

// InvocationFailure is the engine exiting with a non-zero status.
type InvocationFailure struct {
	ExitCode int
	Stderr   string
	Stdout   string
}

func (f *InvocationFailure) Error() string {
	return fmt.Sprintf("analysis engine exited with code %d: %s", f.ExitCode, f.Stderr)
}

// LaunchError wraps the reason the executable could not be started.
type LaunchError struct {
	Executable string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Executable, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) Is(target error) bool { return target == ErrProcessLaunch }
