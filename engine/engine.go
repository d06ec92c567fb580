// Package engine is the top-level entry point spec.md §6 describes but never
// assigns to a named component: start(...) and getRun(runId). Grounded on
// the teacher's top-level generic Engine[S] (graph/engine.go), generalized
// from "drive one graph run synchronously to completion" to "record a run's
// creation and its first tick, then let dispatch carry it the rest of the
// way out-of-band."
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/codec"
	"github.com/wkfcore/wkf/eventlog"
	"github.com/wkfcore/wkf/id"
	"github.com/wkfcore/wkf/world"
)

// Engine is the caller-facing handle for starting runs and reading their
// outcome. It holds no per-run state; every answer is derived from the
// event log a run's runID names.
type Engine struct {
	World world.World
	Codec codec.Codec

	// Clock supplies "now" for a run's createdAt and its first tick's
	// enqueue time. Defaults to time.Now().UTC().
	Clock func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}

// Start creates a new run of workflowName with args, appends its run_created
// event, and enqueues the first workflow tick (spec.md §6's start(...)).
// Returns the run's assigned runID.
func (e *Engine) Start(ctx context.Context, workflowName string, args any) (string, error) {
	runID := id.NewRunID()

	encodedArgs, err := e.Codec.Encode(ctx, args)
	if err != nil {
		return "", fmt.Errorf("%w: workflow arguments", wkf.ErrEncodeFailure)
	}
	payload, err := e.Codec.Encode(ctx, wkf.RunCreatedPayload{
		WorkflowName: workflowName,
		SpecVersion:  wkf.CurrentSpecVersion,
		Arguments:    encodedArgs,
	})
	if err != nil {
		return "", fmt.Errorf("engine: encoding run_created payload: %w", err)
	}

	now := e.now()
	created := wkf.Event{
		EventID:   id.NewEventID(),
		RunID:     runID,
		EventType: wkf.EventRunCreated,
		CreatedAt: now,
		EventData: payload,
	}
	if err := e.World.Events().Append(ctx, runID, []wkf.Event{created}); err != nil {
		return "", fmt.Errorf("engine: appending run_created for run %s: %w", runID, err)
	}

	if err := e.enqueueFirstTick(ctx, runID, created.EventID, now); err != nil {
		return "", err
	}
	return runID, nil
}

type workflowTickPayload struct {
	RunID string `json:"runId"`
}

func marshalWorkflowTick(runID string) ([]byte, error) {
	return json.Marshal(workflowTickPayload{RunID: runID})
}

func (e *Engine) enqueueFirstTick(ctx context.Context, runID, eventID string, at time.Time) error {
	data, err := marshalWorkflowTick(runID)
	if err != nil {
		return fmt.Errorf("engine: marshaling workflow tick payload: %w", err)
	}
	msg := wkf.QueueMessage{
		MessageID:      id.NewEventID(),
		QueueName:      wkf.WorkflowQueueName(""),
		Payload:        data,
		CreatedAt:      at,
		IdempotencyKey: fmt.Sprintf("%s:%s", runID, eventID),
		Attempt:        1,
	}
	if err := e.World.Queue().Enqueue(ctx, msg, 0); err != nil {
		return fmt.Errorf("engine: enqueuing first workflow tick for run %s: %w", runID, err)
	}
	return nil
}

// GetRun projects a wkf.Run by replaying runID's event log (spec.md §6's
// getRun(runId)). For a run not yet in a terminal state it returns the
// projected Run together with a *wkf.WorkflowRunNotCompletedError as err. A
// run that terminated via run_failed is returned with a nil err and its
// recorded ErrorInfo on Run.FailureCause.
func (e *Engine) GetRun(ctx context.Context, runID string) (wkf.Run, error) {
	events, err := e.World.Events().LoadAll(ctx, runID)
	if err != nil {
		return wkf.Run{}, fmt.Errorf("engine: loading run %s: %w", runID, err)
	}
	if len(events) == 0 {
		return wkf.Run{}, wkf.ErrNotFound
	}

	run := wkf.Run{RunID: runID, Status: eventlog.Status(events)}
	for _, ev := range events {
		switch ev.EventType {
		case wkf.EventRunCreated:
			var payload wkf.RunCreatedPayload
			if err := e.Codec.Decode(ctx, ev.EventData, &payload); err != nil {
				return wkf.Run{}, fmt.Errorf("engine: decoding run_created for run %s: %w", runID, err)
			}
			run.WorkflowID = payload.WorkflowName
			run.SpecVersion = payload.SpecVersion
			run.CreatedAt = ev.CreatedAt
			run.Arguments = payload.Arguments
		case wkf.EventRunStarted:
			startedAt := ev.CreatedAt
			run.StartedAt = &startedAt
		case wkf.EventRunCompleted:
			completedAt := ev.CreatedAt
			run.CompletedAt = &completedAt
			run.ReturnValue = ev.EventData
		case wkf.EventRunFailed:
			completedAt := ev.CreatedAt
			run.CompletedAt = &completedAt
			var info wkf.ErrorInfo
			if err := e.Codec.Decode(ctx, ev.EventData, &info); err != nil {
				return wkf.Run{}, fmt.Errorf("engine: decoding run_failed for run %s: %w", runID, err)
			}
			run.FailureCause = &info
		case wkf.EventRunCancelled:
			completedAt := ev.CreatedAt
			run.CompletedAt = &completedAt
		}
	}

	if !run.Status.Terminal() {
		return run, &wkf.WorkflowRunNotCompletedError{RunID: runID, Hint: "poll again once the run reaches a terminal status"}
	}
	return run, nil
}
