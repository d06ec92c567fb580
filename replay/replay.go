// Package replay implements the ReplayEngine (spec.md §4.3): re-executing a
// workflow function deterministically against a run's event prefix,
// intercepting step calls, sleeps, and hooks so that a decision already
// recorded in the log is supplied instead of redone, and any
// not-yet-recorded decision is emitted once and the tick suspended.
//
// Grounded on the teacher's graph/engine.go Run/RunWithCheckpoint pair (a
// checkpoint-driven re-entry into a partially executed graph) and its
// RNGKey/AttemptKey context-value pattern for deterministic substitutes,
// generalized from the teacher's "resume a saved frontier" model to "replay
// the whole function from the top every tick, let recorded log entries
// short-circuit already-decided calls."
package replay

import (
	"fmt"
	"time"

	"github.com/wkfcore/wkf"
)

// WorkflowFunc is a registered workflow body. It receives a *Ctx instead of a
// plain context.Context so that every durability-relevant operation (step
// calls, sleeps, hooks) is forced through Ctx's deterministic, replay-aware
// methods rather than ordinary Go APIs — the engine cannot detect a direct
// time.Now() or math/rand call from user code (that requires a source-level
// transform, explicitly out of scope per spec.md §1), so determinism is
// enforced by what the API surface offers rather than by runtime policing.
type WorkflowFunc func(ctx *Ctx, input wkf.EncodedValue) (wkf.EncodedValue, error)

// Status reports what a Tick produced.
type Status string

const (
	// StatusSuspended means the tick ended without a terminal result: a new
	// step_requested/sleep_scheduled/hook_created was emitted, or an
	// existing one is still in flight. The run remains "running"; a later
	// tick (triggered by the corresponding terminal event landing in the
	// log) will make further progress.
	StatusSuspended Status = "suspended"

	// StatusCompleted means the workflow function returned a value; a
	// run_completed event has been appended.
	StatusCompleted Status = "completed"

	// StatusFailed means the workflow function returned/threw a terminal
	// error; a run_failed event has been appended.
	StatusFailed Status = "failed"
)

// TickResult summarizes one ReplayEngine.Tick invocation.
type TickResult struct {
	Status      Status
	ReturnValue wkf.EncodedValue
	Failure     *wkf.ErrorInfo

	// Appended is every event this tick wrote to the log (in append order),
	// including the terminal run_completed/run_failed event when present.
	// The dispatcher consults it to learn what new step_requested/
	// sleep_scheduled intentions this tick recorded, without having to diff
	// the log itself.
	Appended []wkf.Event
}

// suspended is the sentinel panic value a Ctx method raises to unwind the
// workflow function's call stack back to Tick when it hits an undecided call.
// Using panic/recover for this single, well-defined early-exit is the same
// technique encoding/gob and text/template use internally for deep
// early-return — it is not used for ordinary error handling anywhere else in
// this package.
type suspended struct{ reason string }

func suspend(reason string) {
	panic(suspended{reason: reason})
}

// bug wraps an unexpected panic from workflow user code (anything other than
// this package's own suspend sentinel), reported with a "panic" code per
// spec.md §4.3's "any other thrown value is treated as a bug."
type bug struct {
	value any
}

func (b bug) Error() string { return fmt.Sprintf("workflow panicked: %v", b.value) }

// clockFunc abstracts wall-clock reads for the one place the engine itself
// needs wall time: freezing Ctx.Now() at tick start.
type clockFunc func() time.Time

func defaultClock() time.Time { return time.Now().UTC() }
