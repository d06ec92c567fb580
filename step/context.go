// Package step implements StepExecutor (spec.md §4.4): running a single
// attempt of a step function, classifying its outcome, and recording the
// resulting step_started/step_completed/step_failed/step_retry_scheduled
// events. Grounded on the teacher engine's node-execution path
// (graph/engine.go's runConcurrent worker loop and graph/policy.go's
// RetryPolicy), generalized from per-node in-process execution to
// per-attempt, queue-dispatched execution.
package step

import "context"

// ctxKey is an unexported type so this package's context keys never collide
// with keys set by other packages, matching the teacher's AttemptKey/RNGKey
// pattern in graph/engine.go.
type ctxKey int

const (
	ctxKeyRunID ctxKey = iota
	ctxKeyWorkflowName
	ctxKeyStepID
	ctxKeyInstanceID
	ctxKeyAttempt
	ctxKeyStreamWriter
)

// StreamWriter is the writable side-channel to named streams for the run a
// step is executing under (spec.md §4.4: "a writable side-channel to named
// streams for this run").
type StreamWriter interface {
	Write(ctx context.Context, streamName string, chunk []byte) error
}

// Context bundles the per-step values the executor installs on ctx before
// invoking a registered StepFunc. Registered functions never receive this
// struct directly — they read ctx through the accessor functions below —
// which is what keeps registry.StepFunc's signature free of a step-package
// dependency.
type Context struct {
	RunID        string
	WorkflowName string
	StepID       string
	InstanceID   string
	Attempt      int
	Streams      StreamWriter
}

// WithContext installs c's fields onto ctx for a single step invocation.
func WithContext(ctx context.Context, c Context) context.Context {
	ctx = context.WithValue(ctx, ctxKeyRunID, c.RunID)
	ctx = context.WithValue(ctx, ctxKeyWorkflowName, c.WorkflowName)
	ctx = context.WithValue(ctx, ctxKeyStepID, c.StepID)
	ctx = context.WithValue(ctx, ctxKeyInstanceID, c.InstanceID)
	ctx = context.WithValue(ctx, ctxKeyAttempt, c.Attempt)
	if c.Streams != nil {
		ctx = context.WithValue(ctx, ctxKeyStreamWriter, c.Streams)
	}
	return ctx
}

// RunIDFromContext returns the run id a step is executing under.
func RunIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyRunID).(string)
	return v, ok
}

// WorkflowNameFromContext returns the owning workflow's name.
func WorkflowNameFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyWorkflowName).(string)
	return v, ok
}

// StepIDFromContext returns the current step's stable identifier.
func StepIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyStepID).(string)
	return v, ok
}

// InstanceIDFromContext returns the current step invocation's instance id.
func InstanceIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyInstanceID).(string)
	return v, ok
}

// AttemptFromContext returns the 1-based attempt number of the current
// invocation.
func AttemptFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(ctxKeyAttempt).(int)
	return v, ok
}

// StreamsFromContext returns the run's stream side-channel, if one was
// installed.
func StreamsFromContext(ctx context.Context) (StreamWriter, bool) {
	v, ok := ctx.Value(ctxKeyStreamWriter).(StreamWriter)
	return v, ok
}
