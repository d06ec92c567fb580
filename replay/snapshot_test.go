package replay_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/replay"
	"github.com/wkfcore/wkf/world/memworld"
)

func appendEvent(t *testing.T, w *memworld.World, runID string, eventType wkf.EventType) wkf.Event {
	t.Helper()
	e := wkf.Event{EventID: fmt.Sprintf("%s_%s", eventType, runID), RunID: runID, EventType: eventType, CreatedAt: time.Now().UTC()}
	if err := w.Events().Append(context.Background(), runID, []wkf.Event{e}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return e
}

func TestSnapshotThenResumeCopiesPrefixToNewRun(t *testing.T) {
	w := memworld.New()
	ctx := context.Background()
	store := &replay.SnapshotStore{World: w}

	appendEvent(t, w, "run-a", wkf.EventRunCreated)
	appendEvent(t, w, "run-a", wkf.EventRunStarted)
	if err := store.Snapshot(ctx, "run-a", "before-step"); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	// Source run keeps going after the snapshot was taken; resuming from the
	// label must not pick up this later event.
	appendEvent(t, w, "run-a", wkf.EventStepRequested)

	if err := store.ResumeFromSnapshot(ctx, "before-step", "run-b"); err != nil {
		t.Fatalf("ResumeFromSnapshot: %v", err)
	}

	events, err := w.Events().LoadAll(ctx, "run-b")
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 copied events, got %d", len(events))
	}
	if events[0].EventType != wkf.EventRunCreated || events[1].EventType != wkf.EventRunStarted {
		t.Fatalf("unexpected copied event types: %+v", events)
	}
	for _, e := range events {
		if e.RunID != "run-b" {
			t.Fatalf("expected copied events to carry the new run id, got %q", e.RunID)
		}
	}
}

func TestResumeFromSnapshotUnknownLabelReturnsNotFound(t *testing.T) {
	w := memworld.New()
	store := &replay.SnapshotStore{World: w}
	err := store.ResumeFromSnapshot(context.Background(), "missing", "run-b")
	if !errors.Is(err, wkf.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an unknown snapshot label, got %v", err)
	}
}

func TestSnapshotUnknownRunReturnsNotFound(t *testing.T) {
	w := memworld.New()
	store := &replay.SnapshotStore{World: w}
	if err := store.Snapshot(context.Background(), "no-such-run", "label"); !errors.Is(err, wkf.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
