package memworld

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wkfcore/wkf"
)

type queuedMessage struct {
	msg         wkf.QueueMessage
	visibleAt   time.Time
	invisibleAt time.Time // zero if not currently leased
}

// QueueClient is an in-memory, idempotent world.QueueClient. Safe for
// concurrent use. Receive polls rather than blocking on a wakeup channel,
// matching the reference-implementation tradeoff of simplicity over
// latency for tests and local development.
//
// Per-queue depth is bounded the way the teacher's Frontier bounds work-item
// depth with a buffered channel (graph/scheduler.go): Enqueue blocks on a
// per-queue counting semaphore once Capacity messages are outstanding,
// returning wkf.ErrBackpressureTimeout if ctx is cancelled first instead of
// growing the backing slice without limit.
type QueueClient struct {
	mu          sync.Mutex
	queues      map[string][]*queuedMessage
	idempotency map[string]string // idempotencyKey -> messageID
	pollEvery   time.Duration
	capacity    int
	sems        map[string]chan struct{}
}

// Option configures a QueueClient at construction time.
type Option func(*QueueClient)

// WithCapacity bounds every queue to at most n outstanding (un-acked)
// messages. n <= 0 leaves queues unbounded, the default.
func WithCapacity(n int) Option {
	return func(q *QueueClient) { q.capacity = n }
}

// NewQueueClient returns an empty QueueClient.
func NewQueueClient(opts ...Option) *QueueClient {
	q := &QueueClient{
		queues:      make(map[string][]*queuedMessage),
		idempotency: make(map[string]string),
		pollEvery:   10 * time.Millisecond,
		sems:        make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *QueueClient) semaphore(queueName string) chan struct{} {
	if q.capacity <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	sem, ok := q.sems[queueName]
	if !ok {
		sem = make(chan struct{}, q.capacity)
		q.sems[queueName] = sem
	}
	return sem
}

func (q *QueueClient) Enqueue(ctx context.Context, message wkf.QueueMessage, delay time.Duration) error {
	if sem := q.semaphore(message.QueueName); sem != nil {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("%w: queue %s at capacity %d", wkf.ErrBackpressureTimeout, message.QueueName, q.capacity)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if message.IdempotencyKey != "" {
		if _, dup := q.idempotency[message.IdempotencyKey]; dup {
			q.releaseSlot(message.QueueName)
			return nil
		}
		q.idempotency[message.IdempotencyKey] = message.MessageID
	}

	q.queues[message.QueueName] = append(q.queues[message.QueueName], &queuedMessage{
		msg:       message,
		visibleAt: time.Now().Add(delay),
	})
	return nil
}

// releaseSlot frees one capacity slot for queueName. Called with q.mu held.
func (q *QueueClient) releaseSlot(queueName string) {
	sem, ok := q.sems[queueName]
	if !ok {
		return
	}
	select {
	case <-sem:
	default:
	}
}

func (q *QueueClient) Receive(ctx context.Context, queue string, visibilityTimeout time.Duration) ([]wkf.QueueMessage, error) {
	ticker := time.NewTicker(q.pollEvery)
	defer ticker.Stop()

	for {
		if msgs := q.tryReceive(queue, visibilityTimeout); len(msgs) > 0 {
			return msgs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *QueueClient) tryReceive(queue string, visibilityTimeout time.Duration) []wkf.QueueMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var out []wkf.QueueMessage
	for _, qm := range q.queues[queue] {
		if qm.visibleAt.After(now) {
			continue
		}
		if !qm.invisibleAt.IsZero() && qm.invisibleAt.After(now) {
			continue
		}
		qm.invisibleAt = now.Add(visibilityTimeout)
		out = append(out, qm.msg)
	}
	return out
}

func (q *QueueClient) Ack(_ context.Context, queue, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.queues[queue]
	for i, qm := range msgs {
		if qm.msg.MessageID == messageID {
			q.queues[queue] = append(msgs[:i], msgs[i+1:]...)
			q.releaseSlot(queue)
			return nil
		}
	}
	return nil
}

func (q *QueueClient) ExtendVisibility(_ context.Context, queue, messageID string, duration time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, qm := range q.queues[queue] {
		if qm.msg.MessageID == messageID {
			qm.invisibleAt = time.Now().Add(duration)
			return nil
		}
	}
	return wkf.ErrNotFound
}
