package dispatch

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wkfcore/wkf"
)

// Worker drives HandleMessage in a loop across one or more queues
// concurrently, one goroutine per queue, coordinated through
// errgroup.WithContext the way the pack's executor.go fans independent
// fetches out across goroutines that share a cancellation scope. A Limiter,
// when set, is shared by every queue's poll loop and throttles the combined
// rate at which messages are handed to HandleMessage — grounded on goa-ai's AdaptiveRateLimiter wrapping a client boundary with
// golang.org/x/time/rate.
type Worker struct {
	Dispatcher *Dispatcher
	Queues     []string

	// VisibilityTimeout bounds how long a received message stays invisible
	// to other receivers while this worker processes it. Defaults to
	// defaultRequestedTimeout.
	VisibilityTimeout time.Duration

	// Limiter caps the combined rate at which all queues' poll loops hand
	// messages to HandleMessage; one limiter is shared by every loop. nil
	// disables throttling.
	Limiter *rate.Limiter

	// OnError, if set, is called with a non-fatal per-message or per-poll
	// error; a queue's poll loop keeps running afterward. Receive errors
	// caused by ctx cancellation are not reported here.
	OnError func(queue string, err error)
}

func (w *Worker) visibilityTimeout() time.Duration {
	if w.VisibilityTimeout > 0 {
		return w.VisibilityTimeout
	}
	return defaultRequestedTimeout
}

// Run polls every configured queue until ctx is cancelled or a queue's poll
// loop returns a non-nil error. Cancellation is not treated as a failure:
// Run returns nil when ctx.Err() is the only reason every goroutine stopped.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, queue := range w.Queues {
		queue := queue
		g.Go(func() error { return w.pollQueue(gctx, queue) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (w *Worker) pollQueue(ctx context.Context, queue string) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := w.Dispatcher.World.Queue().Receive(ctx, queue, w.visibilityTimeout())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.reportError(queue, err)
			continue
		}

		for _, msg := range msgs {
			if w.Limiter != nil {
				if err := w.Limiter.Wait(ctx); err != nil {
					return nil
				}
			}
			if err := w.Dispatcher.HandleMessage(ctx, queue, msg); err != nil {
				w.reportError(queue, err)
			}
		}
	}
}

func (w *Worker) reportError(queue string, err error) {
	if w.OnError != nil {
		w.OnError(queue, err)
	}
}

// DefaultQueues returns the well-known queue set a single-shard deployment
// polls: the workflow tick queue and both health-check queues. Callers with
// per-step queues (spec.md §6's per-step naming) add those explicitly —
// Worker has no way to enumerate them since they are created implicitly by
// the first step_requested dispatch.
func DefaultQueues() []string {
	return []string{wkf.WorkflowQueueName(""), wkf.WorkflowHealthQueueName, wkf.StepHealthQueueName}
}
