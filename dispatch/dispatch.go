// Package dispatch implements the Dispatcher (spec.md §4.5): routing queue
// messages to the replay engine or step executor, clamping handler
// deadlines to each message's remaining lifetime (spec.md §5), and
// re-enqueuing messages whose lifetime has already run out instead of
// invoking the handler.
//
// Grounded on the teacher's scheduler.go Frontier/dispatch loop (a bounded
// work queue driving node execution) and timeout.go's per-handler deadline
// derivation, generalized from "one process-local frontier" to "messages
// arriving from a pluggable World.Queue()."
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/codec"
	"github.com/wkfcore/wkf/emit"
	"github.com/wkfcore/wkf/hook"
	"github.com/wkfcore/wkf/id"
	"github.com/wkfcore/wkf/metrics"
	"github.com/wkfcore/wkf/registry"
	"github.com/wkfcore/wkf/replay"
	"github.com/wkfcore/wkf/step"
	"github.com/wkfcore/wkf/world"
)

// Dispatcher routes a single delivered message to the right handler. One
// Dispatcher is shared process-wide; it holds no per-run state (that lives
// entirely in the event log).
type Dispatcher struct {
	World     world.World
	Codec     codec.Codec
	Emitter   emit.Emitter
	Metrics   *metrics.Metrics
	Budget    LifetimeBudget // zero value: DefaultLifetimeBudget()
	Replay    *replay.Engine
	Steps     *step.Executor
	Workflows *registry.WorkflowRegistry
	Hooks     *hook.Manager
	Stats     *RunStats

	// Clock supplies "now" for lifetime clamping. Defaults to time.Now().UTC().
	Clock func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now().UTC()
}

// defaultRequestedTimeout is the handler timeout HandleMessage requests
// before clamping: long enough for most step/tick work, short enough that
// LifetimeBudget.Clamp's reduction is the common case only very late in a
// message's life. Handlers needing a different budget can wrap Dispatcher
// and call HandleMessageWithTimeout directly.
const defaultRequestedTimeout = 5 * time.Minute

// HandleMessage is the single entry point a queue consumer calls with one
// delivered message, per spec.md §4.5's four-step per-message handling:
// validate, clamp-or-reenqueue, invoke with a deadline, surface the result
// via ack. queue is the name the message was received from (workflow tick,
// per-step, or health-check), which selects the decoding/handling path.
func (d *Dispatcher) HandleMessage(ctx context.Context, queue string, msg wkf.QueueMessage) error {
	return d.HandleMessageWithTimeout(ctx, queue, msg, defaultRequestedTimeout)
}

// HandleMessageWithTimeout is HandleMessage with an explicit
// handler-requested timeout, for callers that know a particular handler
// needs more or less than defaultRequestedTimeout before lifetime clamping
// applies.
func (d *Dispatcher) HandleMessageWithTimeout(ctx context.Context, queue string, msg wkf.QueueMessage, requested time.Duration) error {
	now := d.now()

	budget := d.Budget
	if budget == (LifetimeBudget{}) {
		budget = DefaultLifetimeBudget()
	}
	clamped, expired := budget.Clamp(requested, msg.CreatedAt, now)
	if expired {
		return d.reenqueueExpired(ctx, msg, now)
	}
	if d.Metrics != nil && clamped < requested {
		d.Metrics.IncrementLifetimeClamped()
	}

	hctx, cancel := context.WithDeadline(ctx, now.Add(clamped))
	defer cancel()

	if hc, ok := isHealthCheck(msg.Payload); ok {
		return d.handleHealthCheck(hctx, queue, msg, hc)
	}

	switch {
	case queue == wkf.WorkflowQueueName(""):
		return d.handleWorkflowMessage(hctx, msg)
	default:
		return d.handleStepMessage(hctx, msg)
	}
}

func (d *Dispatcher) reenqueueExpired(ctx context.Context, msg wkf.QueueMessage, now time.Time) error {
	if err := d.World.Queue().Ack(ctx, msg.QueueName, msg.MessageID); err != nil {
		return fmt.Errorf("dispatch: acking expired message: %w", err)
	}
	fresh := msg
	fresh.MessageID = id.NewEventID()
	fresh.CreatedAt = now
	fresh.IdempotencyKey = msg.IdempotencyKey + ":reenqueue:" + msg.MessageID
	if err := d.World.Queue().Enqueue(ctx, fresh, 0); err != nil {
		return fmt.Errorf("dispatch: re-enqueuing expired message: %w", err)
	}
	return nil
}

// handleWorkflowMessage decodes a workflow tick payload, runs (or resumes)
// the run's replay.Engine.Tick, and translates any newly recorded
// step_requested/sleep_scheduled intentions into queue actions (spec.md
// §4.3's tick semantics plus §4.5's routing responsibility).
func (d *Dispatcher) handleWorkflowMessage(ctx context.Context, msg wkf.QueueMessage) error {
	payload, err := decodeWorkflowTick(msg.Payload)
	if err != nil {
		return err
	}
	runID := payload.RunID

	events, err := d.World.Events().LoadAll(ctx, runID)
	if err != nil {
		return fmt.Errorf("dispatch: loading run %s: %w", runID, err)
	}

	created, ok := findRunCreated(ctx, d.Codec, events)
	if !ok {
		return fmt.Errorf("%w: run %s has no run_created event", wkf.ErrBadMessage, runID)
	}

	fn, ok := d.Workflows.Lookup(created.WorkflowName)
	if !ok {
		return fmt.Errorf("%w: workflow %q is not registered", wkf.ErrBadMessage, created.WorkflowName)
	}

	now := d.now()
	if !hasRunStarted(events) {
		startEvent := wkf.Event{
			EventID:   id.NewEventID(),
			RunID:     runID,
			EventType: wkf.EventRunStarted,
			CreatedAt: now,
		}
		if err := d.World.Events().Append(ctx, runID, []wkf.Event{startEvent}); err != nil {
			return fmt.Errorf("dispatch: appending run_started: %w", err)
		}
		events = append(events, startEvent)
	}
	workflowStartedAt := runStartedAt(events, now)

	result, err := d.Replay.Tick(ctx, runID, created.WorkflowName, fn, created.Arguments)
	if err != nil {
		return fmt.Errorf("dispatch: ticking run %s: %w", runID, err)
	}

	if d.Stats != nil {
		d.Stats.RecordTick(runID)
	}

	if err := d.dispatchNewIntentions(ctx, runID, created.WorkflowName, workflowStartedAt, now, result.Appended); err != nil {
		return err
	}

	if err := d.World.Queue().Ack(ctx, msg.QueueName, msg.MessageID); err != nil {
		return fmt.Errorf("dispatch: acking workflow tick: %w", err)
	}
	return nil
}

// dispatchNewIntentions walks the events this tick just appended and turns
// each step_requested into a first-attempt step queue message, and each
// unresolved sleep_scheduled whose wake time has already passed into an
// immediate wait_completed + re-tick, or (wake time still in the future) a
// delayed workflow tick message. There is no separate scheduler clock
// (spec.md §13's explicit Non-goal); the workflow queue itself carries
// delayed wakeups.
func (d *Dispatcher) dispatchNewIntentions(ctx context.Context, runID, workflowName string, workflowStartedAt, now time.Time, appended []wkf.Event) error {
	for _, e := range appended {
		switch e.EventType {
		case wkf.EventStepRequested:
			if err := d.dispatchStepRequest(ctx, runID, workflowName, workflowStartedAt, e); err != nil {
				return err
			}
		case wkf.EventSleepScheduled:
			if err := d.dispatchSleep(ctx, runID, e, now); err != nil {
				return err
			}
		case wkf.EventHookCreated:
			if err := d.indexHookToken(ctx, runID, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// indexHookToken records a freshly created hook's token -> {runID,
// correlationID} mapping so a later external ResumeHook/GetHookByToken call
// can find it without a cross-run index on World itself. No-op if no
// hook.Manager is configured (a Dispatcher used purely for steps/ticks has
// no reason to carry one).
func (d *Dispatcher) indexHookToken(ctx context.Context, runID string, e wkf.Event) error {
	if d.Hooks == nil {
		return nil
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := d.Codec.Decode(ctx, e.EventData, &payload); err != nil {
		return fmt.Errorf("dispatch: decoding hook_created for run %s: %w", runID, err)
	}
	return d.Hooks.IndexToken(ctx, payload.Token, runID, e.CorrelationID)
}

func (d *Dispatcher) dispatchStepRequest(ctx context.Context, runID, workflowName string, workflowStartedAt time.Time, e wkf.Event) error {
	var payload struct {
		StepID     string           `json:"stepId"`
		InstanceID string           `json:"instanceId"`
		Input      wkf.EncodedValue `json:"input"`
	}
	if err := d.Codec.Decode(ctx, e.EventData, &payload); err != nil {
		return fmt.Errorf("dispatch: decoding step_requested for run %s: %w", runID, err)
	}

	req := step.Request{
		WorkflowName:      workflowName,
		RunID:             runID,
		WorkflowStartedAt: workflowStartedAt,
		StepID:            wkf.StepID(payload.StepID),
		InstanceID:        wkf.InstanceID(payload.InstanceID),
		Attempt:           1,
		Input:             payload.Input,
	}
	msg, err := step.NewQueueMessage(req, d.now())
	if err != nil {
		return err
	}
	if err := d.World.Queue().Enqueue(ctx, msg, 0); err != nil {
		return fmt.Errorf("dispatch: enqueuing step request for run %s: %w", runID, err)
	}
	return nil
}

func (d *Dispatcher) dispatchSleep(ctx context.Context, runID string, e wkf.Event, now time.Time) error {
	var payload struct {
		WakeAt string `json:"wakeAt"`
	}
	if err := d.Codec.Decode(ctx, e.EventData, &payload); err != nil {
		return fmt.Errorf("dispatch: decoding sleep_scheduled for run %s: %w", runID, err)
	}
	wakeAt, err := time.Parse(time.RFC3339Nano, payload.WakeAt)
	if err != nil {
		return fmt.Errorf("dispatch: parsing sleep wakeAt for run %s: %w", runID, err)
	}

	delay := wakeAt.Sub(now)
	if delay <= 0 {
		done := wkf.Event{
			EventID:       id.NewEventID(),
			RunID:         runID,
			EventType:     wkf.EventWaitCompleted,
			CreatedAt:     now,
			CorrelationID: e.CorrelationID,
		}
		if err := d.World.Events().Append(ctx, runID, []wkf.Event{done}); err != nil {
			return fmt.Errorf("dispatch: appending wait_completed for run %s: %w", runID, err)
		}
		delay = 0
	}

	return d.enqueueWorkflowTick(ctx, runID, delay)
}

func (d *Dispatcher) enqueueWorkflowTick(ctx context.Context, runID string, delay time.Duration) error {
	payload, err := json.Marshal(workflowTickPayload{RunID: runID})
	if err != nil {
		return fmt.Errorf("dispatch: marshaling workflow tick payload: %w", err)
	}
	msg := wkf.QueueMessage{
		MessageID:      id.NewEventID(),
		QueueName:      wkf.WorkflowQueueName(""),
		Payload:        payload,
		CreatedAt:      d.now(),
		IdempotencyKey: fmt.Sprintf("%s:wake:%d", runID, d.now().Add(delay).UnixNano()),
		Attempt:        1,
	}
	if err := d.World.Queue().Enqueue(ctx, msg, delay); err != nil {
		return fmt.Errorf("dispatch: enqueuing workflow tick for run %s: %w", runID, err)
	}
	return nil
}

// handleStepMessage decodes a step queue payload and runs one attempt
// through the step executor.
func (d *Dispatcher) handleStepMessage(ctx context.Context, msg wkf.QueueMessage) error {
	payload, err := decodeStepRequest(msg.Payload)
	if err != nil {
		return err
	}
	req := payload.toRequest()

	if d.Stats != nil {
		start := d.now()
		defer func() { d.Stats.RecordAttempt(req.RunID, time.Since(start)) }()
	}

	if err := d.Steps.Execute(ctx, req); err != nil {
		return fmt.Errorf("dispatch: executing step %s for run %s: %w", req.StepID, req.RunID, err)
	}
	if err := d.World.Queue().Ack(ctx, msg.QueueName, msg.MessageID); err != nil {
		return fmt.Errorf("dispatch: acking step message: %w", err)
	}
	return nil
}

func (w wirePayload) toRequest() step.Request {
	return step.Request{
		WorkflowName:      w.WorkflowName,
		RunID:             w.WorkflowRunID,
		WorkflowStartedAt: time.UnixMilli(w.WorkflowStartedAt).UTC(),
		StepID:            wkf.StepID(w.StepID),
		InstanceID:        wkf.InstanceID(w.StepInstanceID),
		Attempt:           w.Attempt,
		Input:             w.Input,
	}
}

// findRunCreated scans events for the run's originating run_created entry
// and decodes its payload.
func findRunCreated(ctx context.Context, c codec.Codec, events []wkf.Event) (wkf.RunCreatedPayload, bool) {
	for _, e := range events {
		if e.EventType == wkf.EventRunCreated {
			var payload wkf.RunCreatedPayload
			if err := c.Decode(ctx, e.EventData, &payload); err != nil {
				return wkf.RunCreatedPayload{}, false
			}
			return payload, true
		}
	}
	return wkf.RunCreatedPayload{}, false
}

func hasRunStarted(events []wkf.Event) bool {
	for _, e := range events {
		if e.EventType == wkf.EventRunStarted {
			return true
		}
	}
	return false
}

// runStartedAt returns the run's run_started timestamp, falling back to now
// if somehow absent (defensive; hasRunStarted is always checked first).
func runStartedAt(events []wkf.Event, fallback time.Time) time.Time {
	for _, e := range events {
		if e.EventType == wkf.EventRunStarted {
			return e.CreatedAt
		}
	}
	return fallback
}
