package analysis

import "time"

// FileReference points at a previously stored upload. The engine is the
// source of truth for whether it is readable.
type FileReference string

// Options holds named cleaning or filter options with arbitrary nested values.
type Options map[string]any

// RunID identifier type
type RunID string

// Status enum
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed" // engine exited non-zero
	StatusError   Status = "error"  // engine never ran to completion
)

// InvocationRequest is built per request and never reused.
type InvocationRequest struct {
	Executable string
	Args       []string
}

// Run is the audit record of one invocation. The report body is not kept.
type Run struct {
	ID         RunID      `json:"id"`
	FileRef    string     `json:"file_ref"`
	Status     Status     `json:"status"`
	ResultKind ResultKind `json:"result_kind,omitempty"`
	ExitCode   int        `json:"exit_code"`
	DurationMS int64      `json:"duration_ms"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
