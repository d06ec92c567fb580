// Package eventlog provides the ordering and pagination conveniences layered
// on top of a world.EventStore (spec.md §4.2). The store itself remains the
// source of truth; this package never caches or mutates anything, it only
// shapes the store's raw List/LoadAll results for callers that need
// cursor-driven pagination or a quick terminal-state check.
package eventlog

import (
	"context"
	"fmt"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/world"
)

// Log is a thin, stateless view over a single run's event store access.
// Every method delegates straight to the underlying world.EventStore; Log
// exists so callers depend on a narrow, run-scoped surface instead of
// threading a bare runID through every world.EventStore call themselves.
type Log struct {
	Store world.EventStore
	RunID string
}

// New returns a Log scoped to runID against store.
func New(store world.EventStore, runID string) Log {
	return Log{Store: store, RunID: runID}
}

// Append appends events to the run's log. See world.EventStore.Append for
// terminal-run and informational-event semantics.
func (l Log) Append(ctx context.Context, events []wkf.Event) error {
	if err := l.Store.Append(ctx, l.RunID, events); err != nil {
		return fmt.Errorf("eventlog: appending to run %s: %w", l.RunID, err)
	}
	return nil
}

// All drains every page of the run's log in ascending (createdAt, eventId)
// order — the order replay.Engine.Tick requires (spec.md §5's "replay reads
// them in ascending order").
func (l Log) All(ctx context.Context) ([]wkf.Event, error) {
	events, err := l.Store.LoadAll(ctx, l.RunID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: loading run %s: %w", l.RunID, err)
	}
	return events, nil
}

// Page returns one page of the run's log per opts.
func (l Log) Page(ctx context.Context, opts world.ListOptions) (world.ListResult, error) {
	result, err := l.Store.List(ctx, l.RunID, opts)
	if err != nil {
		return world.ListResult{}, fmt.Errorf("eventlog: listing run %s: %w", l.RunID, err)
	}
	return result, nil
}

// LatestTerminal scans events (assumed ascending) for the run's terminal
// outcome, if any, per spec.md §4.7's run state machine. Returns the zero
// EventType and false when the run hasn't reached a terminal state yet.
func LatestTerminal(events []wkf.Event) (wkf.EventType, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if wkf.IsTerminalRunEvent(events[i].EventType) {
			return events[i].EventType, true
		}
	}
	return "", false
}

// Status derives a wkf.RunStatus by scanning the run's event prefix,
// matching the state machine diagrammed in spec.md §4.7. Status is always a
// view, never a stored flag.
func Status(events []wkf.Event) wkf.RunStatus {
	if len(events) == 0 {
		return wkf.RunPending
	}
	if t, ok := LatestTerminal(events); ok {
		switch t {
		case wkf.EventRunCompleted:
			return wkf.RunCompleted
		case wkf.EventRunFailed:
			return wkf.RunFailed
		case wkf.EventRunCancelled:
			return wkf.RunCancelled
		}
	}
	started := false
	for _, e := range events {
		if e.EventType == wkf.EventRunStarted {
			started = true
			break
		}
	}
	if !started {
		return wkf.RunPending
	}
	if awaitingSuspension(events) {
		return wkf.RunPaused
	}
	return wkf.RunRunning
}

// awaitingSuspension reports whether the run is suspended on an outstanding
// sleep or hook — the "paused" leg of spec.md §4.7's state diagram. It walks
// the correlation clusters from the most recently started back, skipping
// step clusters: the first sleep or hook cluster it meets decides, paused if
// that cluster ends in sleep_scheduled or hook_created, not paused if it ends
// in wait_completed or hook_resumed.
func awaitingSuspension(events []wkf.Event) bool {
	byCorrel := make(map[string][]wkf.Event)
	var order []string
	for _, e := range events {
		if e.CorrelationID == "" {
			continue
		}
		if _, seen := byCorrel[e.CorrelationID]; !seen {
			order = append(order, e.CorrelationID)
		}
		byCorrel[e.CorrelationID] = append(byCorrel[e.CorrelationID], e)
	}
	for i := len(order) - 1; i >= 0; i-- {
		cluster := byCorrel[order[i]]
		last := cluster[len(cluster)-1]
		switch last.EventType {
		case wkf.EventSleepScheduled, wkf.EventHookCreated:
			return true
		case wkf.EventWaitCompleted, wkf.EventHookResumed:
			return false
		}
	}
	return false
}
