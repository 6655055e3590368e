package analysis

import (
	"context"
	"time"
)

// Invoker runs the external engine once and shapes its output.
type Invoker interface {
	Invoke(ctx context.Context, req InvocationRequest) (Result, error)
}

// RunRepository port (persistence for the invocation audit log)
type RunRepository interface {
	Save(ctx context.Context, r *Run) error
	Paginate(ctx context.Context, page, pageSize int) ([]*Run, error)
}

// Observer receives one call per finished invocation.
type Observer interface {
	ObserveInvocation(status Status, kind ResultKind, elapsed time.Duration)
}
