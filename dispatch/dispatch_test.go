package dispatch_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/codec"
	"github.com/wkfcore/wkf/dispatch"
	"github.com/wkfcore/wkf/id"
	"github.com/wkfcore/wkf/registry"
	"github.com/wkfcore/wkf/replay"
	"github.com/wkfcore/wkf/step"
	"github.com/wkfcore/wkf/world/memworld"
)

type harness struct {
	w    *memworld.World
	c    *codec.JSONCodec
	d    *dispatch.Dispatcher
	wfs  *registry.WorkflowRegistryBuilder
	stp  *registry.StepRegistryBuilder
	exec *step.Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	w := memworld.New()
	c := codec.New(w.Blobs())
	stp := registry.NewStepRegistryBuilder()
	h := &harness{
		w:   w,
		c:   c,
		wfs: registry.NewWorkflowRegistryBuilder(),
		stp: stp,
	}
	return h
}

func (h *harness) build() {
	workflows := h.wfs.Freeze()
	steps := h.stp.Freeze()
	h.exec = &step.Executor{World: h.w, Codec: h.c, Registry: steps}
	h.d = &dispatch.Dispatcher{
		World:     h.w,
		Codec:     h.c,
		Replay:    &replay.Engine{World: h.w, Codec: h.c},
		Steps:     h.exec,
		Workflows: workflows,
		Budget:    dispatch.DefaultLifetimeBudget(),
	}
}

func (h *harness) createRun(t *testing.T, runID, workflowName string, args any) {
	t.Helper()
	encodedArgs, err := h.c.Encode(context.Background(), args)
	if err != nil {
		t.Fatalf("encoding args: %v", err)
	}
	payloadData, err := h.c.Encode(context.Background(), wkf.RunCreatedPayload{
		WorkflowName: workflowName,
		SpecVersion:  "1",
		Arguments:    encodedArgs,
	})
	if err != nil {
		t.Fatalf("encoding run_created payload: %v", err)
	}
	ev := wkf.Event{
		EventID:   id.NewEventID(),
		RunID:     runID,
		EventType: wkf.EventRunCreated,
		CreatedAt: time.Now().UTC(),
		EventData: payloadData,
	}
	if err := h.w.Events().Append(context.Background(), runID, []wkf.Event{ev}); err != nil {
		t.Fatalf("appending run_created: %v", err)
	}
}

func (h *harness) tickMessage(runID string) wkf.QueueMessage {
	payload, _ := json.Marshal(struct {
		RunID string `json:"runId"`
	}{RunID: runID})
	return wkf.QueueMessage{
		MessageID: id.NewEventID(),
		QueueName: wkf.WorkflowQueueName(""),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
		Attempt:   1,
	}
}

func TestHandleMessageDispatchesStepRequestFromWorkflowTick(t *testing.T) {
	h := newHarness(t)
	stepID := wkf.NewStepID("handlers.go", "Greet", "", "")
	h.stp.Register(stepID, func(ctx context.Context, input wkf.EncodedValue) (wkf.EncodedValue, error) {
		return input, nil
	})
	h.wfs.Register("greet-workflow", func(c *replay.Ctx, input wkf.EncodedValue) (wkf.EncodedValue, error) {
		return c.Step(stepID, "hello")
	})
	h.build()

	runID := "wrun_1"
	h.createRun(t, runID, "greet-workflow", nil)

	ctx := context.Background()
	if err := h.d.HandleMessage(ctx, wkf.WorkflowQueueName(""), h.tickMessage(runID)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	events, err := h.w.Events().LoadAll(ctx, runID)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	var sawStepRequested bool
	for _, e := range events {
		if e.EventType == wkf.EventStepRequested {
			sawStepRequested = true
		}
	}
	if !sawStepRequested {
		t.Fatalf("expected a step_requested event, got %v", events)
	}

	stepQueue := step.QueueNameForStep(stepID)
	msgs, err := h.w.Queue().Receive(ctx, stepQueue, time.Minute)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 queued step message, got %d", len(msgs))
	}
}

func TestHandleMessageRunsStepMessageThroughExecutor(t *testing.T) {
	h := newHarness(t)
	stepID := wkf.NewStepID("handlers.go", "Add", "", "")
	h.stp.Register(stepID, func(ctx context.Context, input wkf.EncodedValue) (wkf.EncodedValue, error) {
		return input, nil
	})
	h.wfs.Register("noop", func(c *replay.Ctx, input wkf.EncodedValue) (wkf.EncodedValue, error) {
		return input, nil
	})
	h.build()

	runID := "wrun_2"
	req := step.Request{
		WorkflowName:      "noop",
		RunID:             runID,
		WorkflowStartedAt: time.Now().UTC(),
		StepID:            stepID,
		InstanceID:        wkf.NewInstanceID(stepID, 0),
		Attempt:           1,
	}
	msg, err := step.NewQueueMessage(req, time.Now().UTC())
	if err != nil {
		t.Fatalf("NewQueueMessage: %v", err)
	}

	ctx := context.Background()
	if err := h.d.HandleMessage(ctx, msg.QueueName, msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	events, err := h.w.Events().LoadAll(ctx, runID)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(events) != 2 || events[1].EventType != wkf.EventStepCompleted {
		t.Fatalf("expected started+completed, got %v", events)
	}
}

func TestHandleMessageHealthCheckRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.build()

	correlationID := "corr-1"
	payload, _ := json.Marshal(struct {
		HealthCheck   bool   `json:"__healthCheck"`
		CorrelationID string `json:"correlationId"`
	}{HealthCheck: true, CorrelationID: correlationID})
	msg := wkf.QueueMessage{
		MessageID: id.NewEventID(),
		QueueName: wkf.WorkflowHealthQueueName,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
		Attempt:   1,
	}

	ctx := context.Background()
	if err := h.d.HandleMessage(ctx, wkf.WorkflowHealthQueueName, msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	chunks, closed, err := h.w.Streams().Read(ctx, "", "__health_check__"+correlationID)
	if err != nil {
		t.Fatalf("Streams().Read: %v", err)
	}
	if !closed {
		t.Fatalf("expected health stream to be closed")
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	var resp struct {
		Healthy  bool   `json:"healthy"`
		Endpoint string `json:"endpoint"`
	}
	if err := json.Unmarshal(chunks[0], &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Healthy || resp.Endpoint != "workflow" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleMessageExpiredLifetimeReenqueuesInsteadOfInvoking(t *testing.T) {
	h := newHarness(t)
	h.wfs.Register("noop", func(c *replay.Ctx, input wkf.EncodedValue) (wkf.EncodedValue, error) {
		t.Fatalf("workflow body should not run for an expired message")
		return input, nil
	})
	h.build()

	runID := "wrun_3"
	h.createRun(t, runID, "noop", nil)

	old := time.Now().UTC().Add(-23 * time.Hour)
	msg := h.tickMessage(runID)
	msg.CreatedAt = old

	ctx := context.Background()
	if err := h.d.HandleMessage(ctx, wkf.WorkflowQueueName(""), msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	msgs, err := h.w.Queue().Receive(ctx, wkf.WorkflowQueueName(""), time.Minute)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected the expired message to be re-enqueued fresh, got %d messages", len(msgs))
	}
	if !msgs[0].CreatedAt.After(old) {
		t.Fatalf("expected re-enqueued message to carry a fresh CreatedAt")
	}
}

func TestHandleMessageSleepInFutureSchedulesDelayedTick(t *testing.T) {
	h := newHarness(t)
	h.wfs.Register("sleeper", func(c *replay.Ctx, input wkf.EncodedValue) (wkf.EncodedValue, error) {
		if err := c.Sleep(time.Hour); err != nil {
			return wkf.EncodedValue{}, err
		}
		return input, nil
	})
	h.build()

	runID := "wrun_4"
	h.createRun(t, runID, "sleeper", nil)

	ctx := context.Background()
	if err := h.d.HandleMessage(ctx, wkf.WorkflowQueueName(""), h.tickMessage(runID)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	events, err := h.w.Events().LoadAll(ctx, runID)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	var sawSleep, sawWaitCompleted bool
	for _, e := range events {
		switch e.EventType {
		case wkf.EventSleepScheduled:
			sawSleep = true
		case wkf.EventWaitCompleted:
			sawWaitCompleted = true
		}
	}
	if !sawSleep {
		t.Fatalf("expected sleep_scheduled, got %v", events)
	}
	if sawWaitCompleted {
		t.Fatalf("wait_completed should not be appended before wakeAt, got %v", events)
	}

	receiveCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	msgs, err := h.w.Queue().Receive(receiveCtx, wkf.WorkflowQueueName(""), time.Minute)
	if len(msgs) != 0 {
		t.Fatalf("expected the delayed tick to not be visible yet, got %d", len(msgs))
	}
	if err == nil {
		t.Fatalf("expected Receive to time out waiting on a not-yet-visible message")
	}
}
