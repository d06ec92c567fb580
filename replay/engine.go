package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/codec"
	"github.com/wkfcore/wkf/emit"
	"github.com/wkfcore/wkf/id"
	"github.com/wkfcore/wkf/world"
)

// Engine re-executes workflow functions against a run's recorded event
// prefix (spec.md §4.3). One Engine instance is shared across runs; all
// per-run state lives in the Ctx built fresh for each Tick.
type Engine struct {
	World   world.World
	Codec   codec.Codec
	Emitter emit.Emitter

	// Clock supplies the tick's frozen replay-time clock. Defaults to
	// time.Now().UTC(); tests should override it for reproducible
	// sleep-deadline assertions.
	Clock clockFunc
}

func (e *Engine) clock() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return defaultClock()
}

func (e *Engine) emit(runID, msg string, meta map[string]any) {
	if e.Emitter == nil {
		return
	}
	e.Emitter.Emit(emit.Event{RunID: runID, Msg: msg, Meta: meta})
}

// Tick loads runID's event log, runs fn against it, and persists whatever
// the tick decided: a suspending request event, or a terminal run_completed
// / run_failed. input is only consulted on a run's very first tick (the
// workflow's arguments); later ticks ignore it since Ctx's replayed call
// sites source everything from the log instead.
func (e *Engine) Tick(ctx context.Context, runID, workflowName string, fn WorkflowFunc, input wkf.EncodedValue) (TickResult, error) {
	events, err := e.World.Events().LoadAll(ctx, runID)
	if err != nil {
		return TickResult{}, fmt.Errorf("replay: loading run %s: %w", runID, err)
	}

	now := e.clock()
	wctx := newCtx(ctx, runID, workflowName, e.World, e.Codec, events, now)

	result := e.runWorkflow(wctx, fn, input)

	toAppend := append([]wkf.Event{}, wctx.pending...)
	switch result.Status {
	case StatusCompleted:
		toAppend = append(toAppend, wkf.Event{
			EventID:   id.NewEventID(),
			RunID:     runID,
			EventType: wkf.EventRunCompleted,
			CreatedAt: now,
			EventData: result.ReturnValue,
		})
	case StatusFailed:
		data, encErr := e.Codec.Encode(ctx, *result.Failure)
		if encErr != nil {
			data = wkf.EncodedValue{}
		}
		toAppend = append(toAppend, wkf.Event{
			EventID:   id.NewEventID(),
			RunID:     runID,
			EventType: wkf.EventRunFailed,
			CreatedAt: now,
			EventData: data,
		})
	}

	if len(toAppend) > 0 {
		if err := e.World.Events().Append(ctx, runID, toAppend); err != nil {
			return TickResult{}, fmt.Errorf("replay: appending tick events for run %s: %w", runID, err)
		}
	}
	result.Appended = toAppend

	e.emit(runID, "tick_"+string(result.Status), nil)
	return result, nil
}

// runWorkflow invokes fn, converting the suspend sentinel (see replay.go)
// into StatusSuspended and any other panic into a StatusFailed "panic"-coded
// failure, per spec.md §4.3's "any other thrown value is treated as a bug."
func (e *Engine) runWorkflow(wctx *Ctx, fn WorkflowFunc, input wkf.EncodedValue) (result TickResult) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(suspended); ok {
				result = TickResult{Status: StatusSuspended}
				return
			}
			result = TickResult{Status: StatusFailed, Failure: &wkf.ErrorInfo{
				Message: bug{value: r}.Error(),
				Code:    "panic",
			}}
		}
	}()

	output, ferr := fn(wctx, input)
	if ferr != nil {
		return TickResult{Status: StatusFailed, Failure: classifyWorkflowFailure(ferr)}
	}
	return TickResult{Status: StatusCompleted, ReturnValue: output}
}

// classifyWorkflowFailure turns a workflow function's returned error into the
// wire ErrorInfo recorded on run_failed. A propagated WorkflowRunFailedError
// (an uncaught step failure) or a FatalError-kinded ClassifiedError carries
// its own message/code through unchanged; anything else is an uncaught,
// unclassified error and is reported with a "panic" code, matching how an
// actual panic is reported.
func classifyWorkflowFailure(err error) *wkf.ErrorInfo {
	var wfErr *wkf.WorkflowRunFailedError
	if errors.As(err, &wfErr) {
		cause := wfErr.Cause
		return &cause
	}

	var ce *wkf.ClassifiedError
	if errors.As(err, &ce) && ce.Kind == wkf.KindFatalStep {
		return &wkf.ErrorInfo{Message: ce.Message, Code: string(ce.Kind)}
	}

	return &wkf.ErrorInfo{Message: err.Error(), Code: "panic"}
}
