// Package world defines the pluggable backend surface the engine runs
// against: an EventStore per run, an idempotent QueueClient, a StreamStore
// for named byte streams, and blob refs for oversized payloads. Concrete
// backends (world/memworld, world/sqlworld) implement World; the rest of
// the engine depends only on this package.
package world

import (
	"context"
	"time"

	"github.com/wkfcore/wkf"
)

// World bundles every backend capability a running engine needs. A single
// implementation is expected to back all four; the split exists so tests
// can compose fakes per concern.
type World interface {
	Events() EventStore
	Queue() QueueClient
	Streams() StreamStore
	Blobs() BlobStore
}

// ListOptions configures EventStore.List pagination.
type ListOptions struct {
	Cursor    string
	SortOrder SortOrder
	Limit     int
}

// SortOrder controls EventStore.List iteration direction. Replay always
// uses SortAsc.
type SortOrder int

const (
	SortAsc SortOrder = iota
	SortDesc
)

// ListResult is one page of EventStore.List.
type ListResult struct {
	Data    []wkf.Event
	Cursor  string
	HasMore bool
}

// EventStore is the durable, ordered, per-run event log. It is the engine's
// sole source of truth; Run/Hook/Stream state is always derived by
// replaying events, never stored redundantly.
type EventStore interface {
	// Append atomically appends events to runId's log. Events targeting a
	// run already in a terminal status are rejected with wkf.ErrTerminalRun
	// unless every event is informational (wkf.IsInformationalEvent),
	// which are instead dropped silently.
	Append(ctx context.Context, runID string, events []wkf.Event) error

	// List returns one page of events in createdAt,eventId order per
	// opts.SortOrder.
	List(ctx context.Context, runID string, opts ListOptions) (ListResult, error)

	// LoadAll drains every page in ascending order. Convenience wrapper
	// used by replay.
	LoadAll(ctx context.Context, runID string) ([]wkf.Event, error)
}

// QueueClient is an idempotent message queue. Re-sending a message with an
// identical idempotency key MUST be treated as a successful no-op (the
// backend suppresses the duplicate); re-sending with the same key but a
// different payload is a caller bug.
type QueueClient interface {
	// Enqueue sends message to message.QueueName, deduplicating on
	// message.IdempotencyKey. delay, if non-zero, is the minimum time
	// before the message becomes visible to consumers.
	Enqueue(ctx context.Context, message wkf.QueueMessage, delay time.Duration) error

	// Receive blocks until at least one message from queue is visible, or
	// returns ctx's error when ctx ends first. visibilityTimeout bounds how long a received message
	// stays invisible to other consumers before it is redelivered.
	Receive(ctx context.Context, queue string, visibilityTimeout time.Duration) ([]wkf.QueueMessage, error)

	// Ack permanently removes message from queue. Idempotent.
	Ack(ctx context.Context, queue, messageID string) error

	// ExtendVisibility pushes message's invisibility window out by
	// duration, keeping a long-running handler's claim alive.
	ExtendVisibility(ctx context.Context, queue, messageID string, duration time.Duration) error
}

// StreamType distinguishes how StreamStore chunks should be interpreted.
type StreamType = wkf.StreamType

// StreamStore holds named, append-only byte-chunk sequences keyed by run.
// Health-check streams (see health.Probe) may be appended to without a
// prior Open.
type StreamStore interface {
	// Open registers a stream, replacing any stream already open under the
	// same runID and name. runID is not checked against the event log.
	Open(ctx context.Context, runID, name string, typ StreamType) error

	// Append writes chunk to an open stream.
	Append(ctx context.Context, runID, name string, chunk []byte) error

	// Close marks the stream closed; no further Append is accepted.
	Close(ctx context.Context, runID, name string) error

	// Read returns every chunk written so far, in write order, and whether
	// the stream has been closed (so callers can treat a result as final).
	Read(ctx context.Context, runID, name string) (chunks [][]byte, closed bool, err error)
}

// BlobStore persists payloads too large to inline in an event or queue
// message. Satisfies codec.BlobPutter.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (wkf.BlobRef, error)
	Get(ctx context.Context, ref wkf.BlobRef) ([]byte, error)
}
