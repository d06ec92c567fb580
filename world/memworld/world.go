package memworld

import "github.com/wkfcore/wkf/world"

// World bundles the in-memory EventStore, QueueClient, StreamStore, and
// BlobStore into a single world.World.
type World struct {
	events  *EventStore
	queue   *QueueClient
	streams *StreamStore
	blobs   *BlobStore
}

// New returns a ready-to-use in-memory World with unbounded queues.
func New() *World {
	return &World{
		events:  NewEventStore(),
		queue:   NewQueueClient(),
		streams: NewStreamStore(),
		blobs:   NewBlobStore(),
	}
}

// NewWithQueueCapacity is New with every queue bounded to at most capacity
// outstanding messages, so a producer that outruns its workers blocks on
// Enqueue instead of growing memory without limit.
func NewWithQueueCapacity(capacity int) *World {
	return &World{
		events:  NewEventStore(),
		queue:   NewQueueClient(WithCapacity(capacity)),
		streams: NewStreamStore(),
		blobs:   NewBlobStore(),
	}
}

func (w *World) Events() world.EventStore   { return w.events }
func (w *World) Queue() world.QueueClient   { return w.queue }
func (w *World) Streams() world.StreamStore { return w.streams }
func (w *World) Blobs() world.BlobStore     { return w.blobs }
