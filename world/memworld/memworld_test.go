package memworld_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/world"
	"github.com/wkfcore/wkf/world/memworld"
	"github.com/wkfcore/wkf/world/worldtest"
)

func TestEventStoreConformance(t *testing.T) {
	worldtest.RunConformance(t, func() world.EventStore { return memworld.NewEventStore() })
}

func TestQueueClientEnqueueReceiveAck(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q := memworld.NewQueueClient()

	msg := wkf.QueueMessage{MessageID: "m1", QueueName: "__wkf_workflow_", CreatedAt: time.Now()}
	if err := q.Enqueue(ctx, msg, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.Receive(ctx, "__wkf_workflow_", time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(got) != 1 || got[0].MessageID != "m1" {
		t.Fatalf("expected to receive m1, got %v", got)
	}

	if err := q.Ack(ctx, "__wkf_workflow_", "m1"); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestQueueClientIdempotentEnqueueIsNoop(t *testing.T) {
	ctx := context.Background()
	q := memworld.NewQueueClient()

	msg := wkf.QueueMessage{MessageID: "m1", QueueName: "q", IdempotencyKey: "k1", CreatedAt: time.Now()}
	if err := q.Enqueue(ctx, msg, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	dup := wkf.QueueMessage{MessageID: "m2", QueueName: "q", IdempotencyKey: "k1", CreatedAt: time.Now()}
	if err := q.Enqueue(ctx, dup, 0); err != nil {
		t.Fatalf("duplicate Enqueue should be a no-op, got error: %v", err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	got, _ := q.Receive(recvCtx, "q", time.Second)
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 message despite duplicate enqueue, got %d", len(got))
	}
}

func TestQueueClientBoundedCapacityBlocksThenReleasesOnAck(t *testing.T) {
	ctx := context.Background()
	q := memworld.NewQueueClient(memworld.WithCapacity(1))

	first := wkf.QueueMessage{MessageID: "m1", QueueName: "q", CreatedAt: time.Now()}
	if err := q.Enqueue(ctx, first, 0); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}

	blockedCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	second := wkf.QueueMessage{MessageID: "m2", QueueName: "q", CreatedAt: time.Now()}
	if err := q.Enqueue(blockedCtx, second, 0); !errors.Is(err, wkf.ErrBackpressureTimeout) {
		t.Fatalf("expected ErrBackpressureTimeout at capacity, got %v", err)
	}

	if err := q.Ack(ctx, "q", "m1"); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	freedCtx, cancel2 := context.WithTimeout(ctx, time.Second)
	defer cancel2()
	if err := q.Enqueue(freedCtx, second, 0); err != nil {
		t.Fatalf("Enqueue after Ack freed a slot: %v", err)
	}
}

func TestStreamOpenAppendReadClose(t *testing.T) {
	ctx := context.Background()
	s := memworld.NewStreamStore()

	if err := s.Open(ctx, "r1", "out", wkf.StreamBytes); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Append(ctx, "r1", "out", []byte("hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(ctx, "r1", "out"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	chunks, closed, err := s.Read(ctx, "r1", "out")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !closed || len(chunks) != 1 || string(chunks[0]) != "hello" {
		t.Fatalf("unexpected read result: chunks=%v closed=%v", chunks, closed)
	}
}

func TestHealthCheckStreamBypassesOpen(t *testing.T) {
	ctx := context.Background()
	s := memworld.NewStreamStore()

	name := "__health_check__hc_test"
	if err := s.Append(ctx, "", name, []byte(`{"healthy":true}`)); err != nil {
		t.Fatalf("expected health-check stream write without Open, got %v", err)
	}
}

func TestBlobStorePutGet(t *testing.T) {
	ctx := context.Background()
	b := memworld.NewBlobStore()

	ref, err := b.Put(ctx, []byte("payload"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := b.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("expected payload, got %q", got)
	}
}

func TestWorldBundlesAllFour(t *testing.T) {
	w := memworld.New()
	if w.Events() == nil || w.Queue() == nil || w.Streams() == nil || w.Blobs() == nil {
		t.Fatal("expected all four world capabilities to be non-nil")
	}
}
