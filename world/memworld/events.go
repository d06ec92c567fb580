// Package memworld provides an in-memory world.World implementation backed
// by plain maps and slices, grounded on the teacher engine's MemStore.
// Intended for tests, local development, and single-process workflows;
// data does not survive process restart.
package memworld

import (
	"context"
	"sync"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/world"
)

// EventStore is an in-memory world.EventStore. Safe for concurrent use.
type EventStore struct {
	mu     sync.RWMutex
	events map[string][]wkf.Event // runID -> append-ordered events
	status map[string]wkf.RunStatus
}

// NewEventStore returns an empty EventStore.
func NewEventStore() *EventStore {
	return &EventStore{
		events: make(map[string][]wkf.Event),
		status: make(map[string]wkf.RunStatus),
	}
}

func (s *EventStore) Append(_ context.Context, runID string, events []wkf.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	terminal := s.status[runID].Terminal()
	filtered := events
	if terminal {
		filtered = make([]wkf.Event, 0, len(events))
		for _, e := range events {
			if !wkf.IsInformationalEvent(e.EventType) {
				return wkf.ErrTerminalRun
			}
		}
	}

	s.events[runID] = append(s.events[runID], filtered...)
	for _, e := range filtered {
		if wkf.IsTerminalRunEvent(e.EventType) {
			s.status[runID] = terminalStatusFor(e.EventType)
		}
	}
	return nil
}

func terminalStatusFor(t wkf.EventType) wkf.RunStatus {
	switch t {
	case wkf.EventRunCompleted:
		return wkf.RunCompleted
	case wkf.EventRunFailed:
		return wkf.RunFailed
	case wkf.EventRunCancelled:
		return wkf.RunCancelled
	default:
		return ""
	}
}

func (s *EventStore) List(_ context.Context, runID string, opts world.ListOptions) (world.ListResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[runID]
	ordered := make([]wkf.Event, len(all))
	copy(ordered, all)
	if opts.SortOrder == world.SortDesc {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}

	start := 0
	if opts.Cursor != "" {
		for i, e := range ordered {
			if e.EventID == opts.Cursor {
				start = i + 1
				break
			}
		}
	}

	limit := opts.Limit
	if limit <= 0 || start+limit > len(ordered) {
		limit = len(ordered) - start
	}
	if limit < 0 {
		limit = 0
	}

	page := ordered[start : start+limit]
	data := make([]wkf.Event, len(page))
	copy(data, page)

	hasMore := start+limit < len(ordered)
	cursor := ""
	if len(data) > 0 {
		cursor = data[len(data)-1].EventID
	}

	return world.ListResult{Data: data, Cursor: cursor, HasMore: hasMore}, nil
}

func (s *EventStore) LoadAll(ctx context.Context, runID string) ([]wkf.Event, error) {
	var out []wkf.Event
	cursor := ""
	for {
		page, err := s.List(ctx, runID, world.ListOptions{Cursor: cursor, SortOrder: world.SortAsc, Limit: 256})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Data...)
		if !page.HasMore {
			return out, nil
		}
		cursor = page.Cursor
	}
}
