package replay

import (
	"context"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/codec"
)

// log indexes a run's event prefix by correlation id so Ctx's intercept
// methods can look up a call site's recorded decision in O(1) instead of
// rescanning the full event slice on every call.
type log struct {
	events   []wkf.Event
	byCorrel map[string][]wkf.Event
}

func newLog(events []wkf.Event) *log {
	l := &log{events: events, byCorrel: make(map[string][]wkf.Event)}
	for _, e := range events {
		if e.CorrelationID == "" {
			continue
		}
		l.byCorrel[e.CorrelationID] = append(l.byCorrel[e.CorrelationID], e)
	}
	return l
}

func (l *log) cluster(correlationID string) []wkf.Event {
	return l.byCorrel[correlationID]
}

// stepOutcome is the terminal resolution of a step instance's cluster, if any.
type stepOutcome struct {
	resolved bool
	output   wkf.EncodedValue
	failed   bool
	failure  wkf.EncodedValue // encoded wkf.ErrorInfo, present when failed
}

// resolveStep inspects a step instance's recorded cluster and reports
// whether it has already reached a terminal event (spec.md §4.3: "if it is
// terminal, the engine supplies the recorded result and returns
// synchronously"). An empty or still in-flight cluster (step_requested or
// step_started or step_retry_scheduled as the latest event) resolves to
// !resolved, meaning the caller should suspend.
func resolveStep(cluster []wkf.Event) stepOutcome {
	if len(cluster) == 0 {
		return stepOutcome{}
	}
	last := cluster[len(cluster)-1]
	switch last.EventType {
	case wkf.EventStepCompleted:
		return stepOutcome{resolved: true, output: last.EventData}
	case wkf.EventStepFailed:
		return stepOutcome{resolved: true, failed: true, failure: last.EventData}
	default:
		return stepOutcome{}
	}
}

// sleepResolved reports whether a sleep's cluster has reached wait_completed.
func sleepResolved(cluster []wkf.Event) bool {
	for _, e := range cluster {
		if e.EventType == wkf.EventWaitCompleted {
			return true
		}
	}
	return false
}

// hookOutcome is the terminal resolution of an await-hook call.
type hookOutcome struct {
	created bool
	token   string
	resumed bool
	data    wkf.EncodedValue
}

// resolveHook inspects a hook call site's cluster (hook_created always
// first, optionally followed by hook_resumed).
func resolveHook(ctx context.Context, cluster []wkf.Event, c codec.Codec) (hookOutcome, error) {
	var out hookOutcome
	for _, e := range cluster {
		switch e.EventType {
		case wkf.EventHookCreated:
			out.created = true
			var payload hookCreatedPayload
			if err := c.Decode(ctx, e.EventData, &payload); err != nil {
				return out, err
			}
			out.token = payload.Token
		case wkf.EventHookResumed:
			out.resumed = true
			out.data = e.EventData
		}
	}
	return out, nil
}

// hookCreatedPayload is hook_created's event data shape.
type hookCreatedPayload struct {
	Token    string           `json:"token"`
	Metadata wkf.EncodedValue `json:"metadata"`
}
