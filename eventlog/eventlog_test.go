package eventlog_test

import (
	"testing"
	"time"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/eventlog"
)

func ev(eventType wkf.EventType, correlationID string) wkf.Event {
	return wkf.Event{
		EventID:       "e",
		RunID:         "r",
		EventType:     eventType,
		CreatedAt:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

func TestStatusEmptyLogIsPending(t *testing.T) {
	if got := eventlog.Status(nil); got != wkf.RunPending {
		t.Fatalf("expected pending, got %s", got)
	}
}

func TestStatusAfterRunStartedIsRunning(t *testing.T) {
	events := []wkf.Event{ev(wkf.EventRunCreated, ""), ev(wkf.EventRunStarted, "")}
	if got := eventlog.Status(events); got != wkf.RunRunning {
		t.Fatalf("expected running, got %s", got)
	}
}

func TestStatusUnresolvedSleepIsPaused(t *testing.T) {
	events := []wkf.Event{
		ev(wkf.EventRunCreated, ""),
		ev(wkf.EventRunStarted, ""),
		ev(wkf.EventSleepScheduled, "sleep#0"),
	}
	if got := eventlog.Status(events); got != wkf.RunPaused {
		t.Fatalf("expected paused, got %s", got)
	}
}

func TestStatusUnresolvedHookIsPaused(t *testing.T) {
	events := []wkf.Event{
		ev(wkf.EventRunCreated, ""),
		ev(wkf.EventRunStarted, ""),
		ev(wkf.EventHookCreated, "hook#0"),
	}
	if got := eventlog.Status(events); got != wkf.RunPaused {
		t.Fatalf("expected paused, got %s", got)
	}
}

func TestStatusResolvedSleepReturnsToRunning(t *testing.T) {
	events := []wkf.Event{
		ev(wkf.EventRunCreated, ""),
		ev(wkf.EventRunStarted, ""),
		ev(wkf.EventSleepScheduled, "sleep#0"),
		ev(wkf.EventWaitCompleted, "sleep#0"),
	}
	if got := eventlog.Status(events); got != wkf.RunRunning {
		t.Fatalf("expected running once the sleep resolved, got %s", got)
	}
}

func TestStatusResolvedHookReturnsToRunning(t *testing.T) {
	events := []wkf.Event{
		ev(wkf.EventRunCreated, ""),
		ev(wkf.EventRunStarted, ""),
		ev(wkf.EventHookCreated, "hook#0"),
		ev(wkf.EventHookResumed, "hook#0"),
	}
	if got := eventlog.Status(events); got != wkf.RunRunning {
		t.Fatalf("expected running once the hook resumed, got %s", got)
	}
}

func TestStatusStepInFlightDoesNotCountAsPaused(t *testing.T) {
	events := []wkf.Event{
		ev(wkf.EventRunCreated, ""),
		ev(wkf.EventRunStarted, ""),
		ev(wkf.EventStepRequested, "step#0"),
		ev(wkf.EventStepStarted, "step#0"),
	}
	if got := eventlog.Status(events); got != wkf.RunRunning {
		t.Fatalf("expected running for an in-flight step, got %s", got)
	}
}

func TestStatusSkipsPastStepClusterToFindMostRecentSuspension(t *testing.T) {
	events := []wkf.Event{
		ev(wkf.EventRunCreated, ""),
		ev(wkf.EventRunStarted, ""),
		ev(wkf.EventSleepScheduled, "sleep#0"),
		ev(wkf.EventWaitCompleted, "sleep#0"),
		ev(wkf.EventStepRequested, "step#0"),
		ev(wkf.EventStepCompleted, "step#0"),
		ev(wkf.EventHookCreated, "hook#0"),
	}
	if got := eventlog.Status(events); got != wkf.RunPaused {
		t.Fatalf("expected paused on the latest unresolved hook, got %s", got)
	}
}

func TestStatusTerminalStates(t *testing.T) {
	cases := []struct {
		name  string
		event wkf.EventType
		want  wkf.RunStatus
	}{
		{"completed", wkf.EventRunCompleted, wkf.RunCompleted},
		{"failed", wkf.EventRunFailed, wkf.RunFailed},
		{"cancelled", wkf.EventRunCancelled, wkf.RunCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events := []wkf.Event{
				ev(wkf.EventRunCreated, ""),
				ev(wkf.EventRunStarted, ""),
				ev(tc.event, ""),
			}
			if got := eventlog.Status(events); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestLatestTerminalReportsFalseWhenRunIsStillOpen(t *testing.T) {
	events := []wkf.Event{ev(wkf.EventRunCreated, ""), ev(wkf.EventRunStarted, "")}
	if _, ok := eventlog.LatestTerminal(events); ok {
		t.Fatal("expected no terminal event for a still-open run")
	}
}
