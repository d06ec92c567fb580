// Package worldtest provides a backend-agnostic conformance suite that
// every world.World implementation should pass, grounded on the teacher
// engine's pattern of exercising Store implementations through shared
// table-driven helpers.
package worldtest

import (
	"context"
	"testing"
	"time"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/world"
)

// RunConformance exercises newStore()'s EventStore against the invariants
// spec.md §4.2 requires: append ordering, terminal-run rejection, and
// pagination. Call it from each backend's own _test.go with a factory that
// returns a fresh, empty store.
func RunConformance(t *testing.T, newStore func() world.EventStore) {
	t.Helper()

	t.Run("AppendPreservesOrder", func(t *testing.T) {
		store := newStore()
		ctx := context.Background()
		base := time.Now().UTC()

		events := []wkf.Event{
			{EventID: "e1", RunID: "run-a", EventType: wkf.EventRunCreated, CreatedAt: base},
			{EventID: "e2", RunID: "run-a", EventType: wkf.EventRunStarted, CreatedAt: base.Add(time.Millisecond)},
			{EventID: "e3", RunID: "run-a", EventType: wkf.EventStepRequested, CreatedAt: base.Add(2 * time.Millisecond)},
		}
		if err := store.Append(ctx, "run-a", events); err != nil {
			t.Fatalf("Append: %v", err)
		}

		got, err := store.LoadAll(ctx, "run-a")
		if err != nil {
			t.Fatalf("LoadAll: %v", err)
		}
		if len(got) != len(events) {
			t.Fatalf("expected %d events, got %d", len(events), len(got))
		}
		for i, e := range got {
			if e.EventID != events[i].EventID {
				t.Fatalf("event %d: expected %q, got %q", i, events[i].EventID, e.EventID)
			}
		}
	})

	t.Run("TerminalRunRejectsNonInformational", func(t *testing.T) {
		store := newStore()
		ctx := context.Background()
		base := time.Now().UTC()

		if err := store.Append(ctx, "run-b", []wkf.Event{
			{EventID: "e1", RunID: "run-b", EventType: wkf.EventRunCreated, CreatedAt: base},
			{EventID: "e2", RunID: "run-b", EventType: wkf.EventRunCompleted, CreatedAt: base.Add(time.Millisecond)},
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}

		err := store.Append(ctx, "run-b", []wkf.Event{
			{EventID: "e3", RunID: "run-b", EventType: wkf.EventStepRequested, CreatedAt: base.Add(2 * time.Millisecond)},
		})
		if err != wkf.ErrTerminalRun {
			t.Fatalf("expected ErrTerminalRun, got %v", err)
		}
	})

	t.Run("TerminalRunAcceptsInformational", func(t *testing.T) {
		store := newStore()
		ctx := context.Background()
		base := time.Now().UTC()

		if err := store.Append(ctx, "run-c", []wkf.Event{
			{EventID: "e1", RunID: "run-c", EventType: wkf.EventRunFailed, CreatedAt: base},
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}

		if err := store.Append(ctx, "run-c", []wkf.Event{
			{EventID: "e2", RunID: "run-c", EventType: wkf.EventStreamChunk, CreatedAt: base.Add(time.Millisecond)},
		}); err != nil {
			t.Fatalf("expected informational event accepted after terminal, got %v", err)
		}
	})

	t.Run("ListRespectsLimitAndCursor", func(t *testing.T) {
		store := newStore()
		ctx := context.Background()
		base := time.Now().UTC()

		var events []wkf.Event
		ids := []string{"a", "b", "c", "d"}
		for i, id := range ids {
			events = append(events, wkf.Event{
				EventID:   id,
				RunID:     "run-d",
				EventType: wkf.EventStreamChunk,
				CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
			})
		}
		if err := store.Append(ctx, "run-d", events); err != nil {
			t.Fatalf("Append: %v", err)
		}

		var collected []string
		cursor := ""
		for {
			page, err := store.List(ctx, "run-d", world.ListOptions{SortOrder: world.SortAsc, Limit: 1, Cursor: cursor})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			for _, e := range page.Data {
				collected = append(collected, e.EventID)
			}
			if !page.HasMore {
				break
			}
			cursor = page.Cursor
		}
		if len(collected) != len(ids) {
			t.Fatalf("expected %d events collected across pages, got %d", len(ids), len(collected))
		}
		for i, id := range ids {
			if collected[i] != id {
				t.Fatalf("position %d: expected %q, got %q", i, id, collected[i])
			}
		}
	})
}
