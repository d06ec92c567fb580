package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/id"
	"github.com/wkfcore/wkf/world"
)

// Package-level doc: Snapshot/ResumeFromSnapshot are a debugging convenience
// for branch-and-resume and crash-recovery inspection (spec.md's supplemental
// "named checkpoints" feature), grounded on the teacher's
// SaveCheckpoint/ResumeFromCheckpoint (graph/engine.go). Unlike the teacher,
// a snapshot here names a PREFIX of an existing run's event log rather than a
// separately-stored state value — the event log remains the only source of
// truth; a snapshot is just a durable bookmark into it plus the machinery to
// replay that bookmark's prefix onto a brand new run.

const snapshotIndexPrefix = "__snapshot_index__"

func snapshotIndexStreamName(label string) string { return snapshotIndexPrefix + label }

type snapshotEntry struct {
	SourceRunID string    `json:"sourceRunId"`
	EventCount  int       `json:"eventCount"`
	TakenAt     time.Time `json:"takenAt"`
}

// SnapshotStore keys named snapshots off World's StreamStore, the same
// sentinel-index trick hook.Manager uses for its token index: a well-known
// stream name opened against the zero-value runID, exempt from any one run's
// lifecycle.
type SnapshotStore struct {
	World world.World

	// Clock supplies "now" for TakenAt. Defaults to time.Now().UTC().
	Clock func() time.Time
}

func (s *SnapshotStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

// Snapshot records label as a durable bookmark at runID's current event
// count. A later ResumeFromSnapshot(label, ...) replays exactly the events
// recorded up to this point onto a new run, regardless of how much further
// runID's own log grows afterward.
func (s *SnapshotStore) Snapshot(ctx context.Context, runID, label string) error {
	events, err := s.World.Events().LoadAll(ctx, runID)
	if err != nil {
		return fmt.Errorf("replay: loading run %s for snapshot %q: %w", runID, label, err)
	}
	if len(events) == 0 {
		return wkf.ErrNotFound
	}

	entry, err := json.Marshal(snapshotEntry{
		SourceRunID: runID,
		EventCount:  len(events),
		TakenAt:     s.now(),
	})
	if err != nil {
		return fmt.Errorf("replay: marshaling snapshot entry: %w", err)
	}

	name := snapshotIndexStreamName(label)
	if err := s.World.Streams().Open(ctx, "", name, wkf.StreamJSONChunks); err != nil {
		return fmt.Errorf("replay: opening snapshot index stream for %q: %w", label, err)
	}
	if err := s.World.Streams().Append(ctx, "", name, entry); err != nil {
		return fmt.Errorf("replay: writing snapshot entry for %q: %w", label, err)
	}
	return s.World.Streams().Close(ctx, "", name)
}

// ResumeFromSnapshot copies the event prefix label names onto newRunID,
// giving newRunID its own independent log that a Tick can then continue
// forward from — down a different path than the source run took, the
// teacher's "checkpoint, try path A, resume from checkpoint, try path B"
// use case. newRunID must not already have any events.
func (s *SnapshotStore) ResumeFromSnapshot(ctx context.Context, label, newRunID string) error {
	chunks, _, err := s.World.Streams().Read(ctx, "", snapshotIndexStreamName(label))
	if err != nil {
		return fmt.Errorf("%w: %v", wkf.ErrNotFound, err)
	}
	if len(chunks) == 0 {
		return wkf.ErrNotFound
	}
	var entry snapshotEntry
	if err := json.Unmarshal(chunks[len(chunks)-1], &entry); err != nil {
		return fmt.Errorf("replay: decoding snapshot entry for %q: %w", label, err)
	}

	existing, err := s.World.Events().LoadAll(ctx, newRunID)
	if err != nil {
		return fmt.Errorf("replay: checking target run %s: %w", newRunID, err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("replay: target run %s already has events", newRunID)
	}

	source, err := s.World.Events().LoadAll(ctx, entry.SourceRunID)
	if err != nil {
		return fmt.Errorf("replay: loading source run %s: %w", entry.SourceRunID, err)
	}
	if entry.EventCount > len(source) {
		entry.EventCount = len(source)
	}

	now := s.now()
	copied := make([]wkf.Event, 0, entry.EventCount)
	for _, e := range source[:entry.EventCount] {
		copied = append(copied, wkf.Event{
			EventID:       id.NewEventID(),
			RunID:         newRunID,
			EventType:     e.EventType,
			CreatedAt:     now,
			CorrelationID: e.CorrelationID,
			EventData:     e.EventData,
		})
	}

	if err := s.World.Events().Append(ctx, newRunID, copied); err != nil {
		return fmt.Errorf("replay: appending snapshot prefix to run %s: %w", newRunID, err)
	}
	return nil
}
