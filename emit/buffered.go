package emit

import (
	"context"
	"sync"
)

// BufferedEmitter accumulates events in memory until Flush forwards them to
// an underlying Emitter. Useful for tests that want to assert on the exact
// event sequence a component produced, and for batching high-volume
// emission before handing off to a network-bound backend.
type BufferedEmitter struct {
	mu       sync.Mutex
	buf      []Event
	underlay Emitter
}

// NewBufferedEmitter wraps underlay; underlay may be nil, in which case
// Flush only drains the buffer (useful for test-only inspection via Events).
func NewBufferedEmitter(underlay Emitter) *BufferedEmitter {
	return &BufferedEmitter{underlay: underlay}
}

func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, event)
}

func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, events...)
	return nil
}

// Events returns a copy of the events buffered so far, without flushing.
func (b *BufferedEmitter) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.buf))
	copy(out, b.buf)
	return out
}

// Flush forwards all buffered events to the underlying emitter (if any) and
// clears the buffer.
func (b *BufferedEmitter) Flush(ctx context.Context) error {
	b.mu.Lock()
	pending := b.buf
	b.buf = nil
	b.mu.Unlock()

	if b.underlay == nil || len(pending) == 0 {
		return nil
	}
	return b.underlay.EmitBatch(ctx, pending)
}
