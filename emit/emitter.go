// Package emit provides pluggable observability for the workflow engine:
// structured events describing tick, step, hook, dispatcher, and
// health-check lifecycle transitions (adapted from the graph engine's
// observability layer this project is descended from).
package emit

import "context"

// Event is a single observability record. Meta carries variant-specific
// structured data (attempt numbers, error details, clamp decisions, ...).
type Event struct {
	RunID         string
	StepInstance  string
	Msg           string
	Meta          map[string]any
}

// Emitter receives events from every engine component. Implementations must
// be non-blocking and safe for concurrent use — a slow or failing emitter
// must never stall a workflow tick or step attempt.
type Emitter interface {
	Emit(event Event)
	EmitBatch(ctx context.Context, events []Event) error
	Flush(ctx context.Context) error
}
