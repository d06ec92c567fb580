package health_test

import (
	"context"
	"testing"
	"time"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/codec"
	"github.com/wkfcore/wkf/dispatch"
	"github.com/wkfcore/wkf/health"
	"github.com/wkfcore/wkf/world/memworld"
)

func TestProbeCheckRoundTripsThroughDispatcher(t *testing.T) {
	w := memworld.New()
	d := &dispatch.Dispatcher{World: w, Codec: codec.New(w.Blobs())}
	probe := &health.Probe{World: w, Timeout: 2 * time.Second}

	resultCh := make(chan health.Result, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := probe.Check(context.Background(), health.TargetWorkflow)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- res
	}()

	ctx := context.Background()
	msgs, err := w.Queue().Receive(ctx, wkf.WorkflowHealthQueueName, time.Minute)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 queued health-check request, got %d", len(msgs))
	}
	if err := d.HandleMessage(ctx, wkf.WorkflowHealthQueueName, msgs[0]); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	select {
	case err := <-errCh:
		t.Fatalf("Check: %v", err)
	case res := <-resultCh:
		if !res.Healthy || res.Endpoint != "workflow" {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Check to return")
	}
}

func TestProbeCheckTimesOutWithNoResponder(t *testing.T) {
	w := memworld.New()
	probe := &health.Probe{World: w, Timeout: 150 * time.Millisecond}

	_, err := probe.Check(context.Background(), health.TargetStep)
	if err == nil {
		t.Fatal("expected a timeout error with no responder draining the queue")
	}
}
