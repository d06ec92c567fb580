// Package hook implements the caller-facing half of spec.md §4.6's await-hook
// protocol: resolving an external, unguessable token back to the run and
// call site that minted it, and resuming that call site with the caller's
// data. The other half — creating a hook and suspending until it resumes —
// lives in replay.Ctx.Hook, since that half only ever runs from inside a
// workflow tick.
//
// Grounded on the teacher's checkpoint.go pattern of a small side-index
// keyed by an opaque id pointing back into the event log, adapted here from
// "checkpoint id -> frontier snapshot" to "hook token -> {runID,
// correlationID}".
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/codec"
	"github.com/wkfcore/wkf/id"
	"github.com/wkfcore/wkf/world"
)

// indexStreamPrefix names the sentinel, run-scopeless streams this package
// uses as a token -> {runID, correlationID} side index. World has no
// cross-run lookup of its own (EventStore is scoped to one runID at a
// time), so the index rides on Streams() the same way health-check replies
// do: a well-known name, opened against the zero-value runID, exempt from
// any particular run's lifecycle.
const indexStreamPrefix = "__hook_index__"

func indexStreamName(token string) string { return indexStreamPrefix + token }

// indexEntry is the side index's single chunk per token.
type indexEntry struct {
	RunID         string `json:"runId"`
	CorrelationID string `json:"correlationId"`
}

// Manager resolves hook tokens and resumes the hooks they name (spec.md
// §4.6). One Manager instance is shared process-wide; it holds no per-hook
// state of its own, only World and Codec handles.
type Manager struct {
	World world.World
	Codec codec.Codec

	// Clock supplies "now" for the workflow tick this package enqueues on
	// a successful resume. Defaults to time.Now().UTC().
	Clock func() time.Time
}

func (m *Manager) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now().UTC()
}

// IndexToken records token's owning run and call-site correlation id. The
// dispatcher calls this once per hook_created event a tick appends (see
// dispatch.dispatchNewIntentions), right after replay.Ctx.Hook has recorded
// the event itself — Manager never creates hook_created, it only learns
// about one after the fact.
func (m *Manager) IndexToken(ctx context.Context, token, runID, correlationID string) error {
	entry, err := json.Marshal(indexEntry{RunID: runID, CorrelationID: correlationID})
	if err != nil {
		return fmt.Errorf("hook: marshaling index entry: %w", err)
	}
	name := indexStreamName(token)
	if err := m.World.Streams().Open(ctx, "", name, wkf.StreamJSONChunks); err != nil {
		return fmt.Errorf("hook: opening index stream for token: %w", err)
	}
	if err := m.World.Streams().Append(ctx, "", name, entry); err != nil {
		return fmt.Errorf("hook: writing index entry: %w", err)
	}
	return m.World.Streams().Close(ctx, "", name)
}

// resolveToken looks up token's {runID, correlationID}, returning
// wkf.ErrHookNotFound if the token is unknown.
func (m *Manager) resolveToken(ctx context.Context, token string) (indexEntry, error) {
	chunks, _, err := m.World.Streams().Read(ctx, "", indexStreamName(token))
	if err != nil {
		return indexEntry{}, fmt.Errorf("%w: %v", wkf.ErrHookNotFound, err)
	}
	if len(chunks) == 0 {
		return indexEntry{}, wkf.ErrHookNotFound
	}
	var entry indexEntry
	if err := json.Unmarshal(chunks[0], &entry); err != nil {
		return indexEntry{}, fmt.Errorf("hook: decoding index entry: %w", err)
	}
	return entry, nil
}

// hookCluster returns the run's event cluster for a hook call site,
// erroring wkf.ErrHookNotFound if the
// correlation id names no hook_created event (should not happen for a
// token this package itself indexed, short of log corruption).
func (m *Manager) hookCluster(ctx context.Context, runID, correlationID string) ([]wkf.Event, error) {
	events, err := m.World.Events().LoadAll(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("hook: loading run %s: %w", runID, err)
	}
	var cluster []wkf.Event
	for _, e := range events {
		if e.CorrelationID == correlationID {
			cluster = append(cluster, e)
		}
	}
	if len(cluster) == 0 {
		return nil, wkf.ErrHookNotFound
	}
	return cluster, nil
}

type hookCreatedPayload struct {
	Token    string           `json:"token"`
	Metadata wkf.EncodedValue `json:"metadata"`
}

// GetHookByToken returns the hook token names, for inspection — typically by
// an external caller deciding what data to resume it with. A token whose
// hook has already been resumed reports wkf.ErrHookNotFound, the same as an
// unknown token.
func (m *Manager) GetHookByToken(ctx context.Context, token string) (wkf.Hook, error) {
	entry, err := m.resolveToken(ctx, token)
	if err != nil {
		return wkf.Hook{}, err
	}
	cluster, err := m.hookCluster(ctx, entry.RunID, entry.CorrelationID)
	if err != nil {
		return wkf.Hook{}, err
	}

	h := wkf.Hook{Token: token, RunID: entry.RunID}
	for _, e := range cluster {
		switch e.EventType {
		case wkf.EventHookCreated:
			var payload hookCreatedPayload
			if err := m.Codec.Decode(ctx, e.EventData, &payload); err != nil {
				return wkf.Hook{}, fmt.Errorf("hook: decoding hook_created: %w", err)
			}
			h.Metadata = payload.Metadata
			h.CreatedAt = e.CreatedAt
		case wkf.EventHookResumed:
			return wkf.Hook{}, wkf.ErrHookNotFound
		}
	}
	return h, nil
}

// ResumeHook resumes token's hook with data, appending hook_resumed and
// enqueuing a workflow tick for the target run (spec.md §4.6). Returns
// wkf.ErrHookAlreadyResumed if the hook has already been consumed.
//
// The check-then-append below is not atomic against a second concurrent
// ResumeHook call for the same token; the World interface has no
// conditional-append primitive to make it so. Acceptable for the reference
// backends this repo ships (a genuine double-submit race is rare and,
// per spec.md, a caller's bug), but a production backend with real
// compare-and-swap support could close the window.
func (m *Manager) ResumeHook(ctx context.Context, token string, data any) error {
	entry, err := m.resolveToken(ctx, token)
	if err != nil {
		return err
	}
	cluster, err := m.hookCluster(ctx, entry.RunID, entry.CorrelationID)
	if err != nil {
		return err
	}
	for _, e := range cluster {
		if e.EventType == wkf.EventHookResumed {
			return wkf.ErrHookAlreadyResumed
		}
	}

	encoded, err := m.Codec.Encode(ctx, data)
	if err != nil {
		return fmt.Errorf("%w: resume data", wkf.ErrEncodeFailure)
	}
	event := wkf.Event{
		EventID:       id.NewEventID(),
		RunID:         entry.RunID,
		EventType:     wkf.EventHookResumed,
		CreatedAt:     m.now(),
		CorrelationID: entry.CorrelationID,
		EventData:     encoded,
	}
	if err := m.World.Events().Append(ctx, entry.RunID, []wkf.Event{event}); err != nil {
		return fmt.Errorf("hook: appending hook_resumed for run %s: %w", entry.RunID, err)
	}

	return m.enqueueWorkflowTick(ctx, entry.RunID, event.EventID)
}

// enqueueWorkflowTick posts a workflow tick for runID, deduplicated on the
// hook_resumed event's own id so redelivery of this ResumeHook call never
// double-enqueues.
func (m *Manager) enqueueWorkflowTick(ctx context.Context, runID, eventID string) error {
	payload, err := json.Marshal(struct {
		RunID string `json:"runId"`
	}{RunID: runID})
	if err != nil {
		return fmt.Errorf("hook: marshaling workflow tick payload: %w", err)
	}
	msg := wkf.QueueMessage{
		MessageID:      id.NewEventID(),
		QueueName:      wkf.WorkflowQueueName(""),
		Payload:        payload,
		CreatedAt:      m.now(),
		IdempotencyKey: fmt.Sprintf("%s:%s", runID, eventID),
		Attempt:        1,
	}
	return m.World.Queue().Enqueue(ctx, msg, 0)
}
