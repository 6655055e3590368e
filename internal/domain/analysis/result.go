package analysis

import (
	"bytes"
	"encoding/json"
	"io"
)

// ResultKind tags which variant a Result holds.
type ResultKind string

const (
	KindStructured ResultKind = "structured"
	KindRaw        ResultKind = "raw"
)

// Result is what the engine produced on a successful exit: either a parsed
// JSON report or the raw text it printed.
type Result struct {
	Kind  ResultKind
	Value any    // set for KindStructured
	Text  string // set for KindRaw
}

func Structured(v any) Result { return Result{Kind: KindStructured, Value: v} }

func Raw(text string) Result { return Result{Kind: KindRaw, Text: text} }

func (r Result) IsStructured() bool { return r.Kind == KindStructured }

// MarshalJSON writes the report itself, or the raw text as a JSON string.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Kind == KindStructured {
		return json.Marshal(r.Value)
	}
	return json.Marshal(r.Text)
}

// ParseOutput turns captured stdout into a Result. Only a single JSON object
// or array counts as a report; bare scalars, trailing data and malformed
// output come back as Raw with the exact bytes.
func ParseOutput(stdout []byte) Result {
	dec := json.NewDecoder(bytes.NewReader(stdout))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Raw(string(stdout))
	}
	if _, err := dec.Token(); err != io.EOF {
		return Raw(string(stdout))
	}

	switch v.(type) {
	case map[string]any, []any:
		return Structured(v)
	default:
		return Raw(string(stdout))
	}
}
