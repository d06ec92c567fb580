package step

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/id"
)

// Request is the decoded form of a step_requested event / step queue payload
// (spec.md §6: "{ workflowName, workflowRunId, workflowStartedAt, stepId,
// stepInstanceId, attempt, input }").
type Request struct {
	WorkflowName      string
	RunID             string
	WorkflowStartedAt time.Time
	StepID            wkf.StepID
	InstanceID        wkf.InstanceID
	Attempt           int
	Input             wkf.EncodedValue
}

// wirePayload mirrors Request's JSON shape for codec round-tripping. Input is
// carried as wkf.EncodedValue, which already knows how to (de)serialize its
// own inline/ref duality.
type wirePayload struct {
	WorkflowName      string          `json:"workflowName"`
	WorkflowRunID     string          `json:"workflowRunId"`
	WorkflowStartedAt int64           `json:"workflowStartedAt"`
	StepID            string          `json:"stepId"`
	StepInstanceID    string          `json:"stepInstanceId"`
	Attempt           int             `json:"attempt"`
	Input             wkf.EncodedValue `json:"input"`
}

func (r Request) toWire() wirePayload {
	return wirePayload{
		WorkflowName:      r.WorkflowName,
		WorkflowRunID:     r.RunID,
		WorkflowStartedAt: r.WorkflowStartedAt.UnixMilli(),
		StepID:            string(r.StepID),
		StepInstanceID:    string(r.InstanceID),
		Attempt:           r.Attempt,
		Input:             r.Input,
	}
}

func (w wirePayload) toRequest() Request {
	return Request{
		WorkflowName:      w.WorkflowName,
		RunID:             w.WorkflowRunID,
		WorkflowStartedAt: time.UnixMilli(w.WorkflowStartedAt).UTC(),
		StepID:            wkf.StepID(w.StepID),
		InstanceID:        wkf.InstanceID(w.StepInstanceID),
		Attempt:           w.Attempt,
		Input:             w.Input,
	}
}

// queueNameSanitizer replaces the characters stepId embeds ("//", "/", "#",
// ".") with queue-name-safe substitutes per spec.md §6's "stepId encoded for
// queue-name safety".
var queueNameSanitizer = strings.NewReplacer(
	"//", "_",
	"/", "__p__",
	"#", "__m__",
	".", "__s__",
)

// QueueNameForStep returns the per-step queue name spec.md §6 specifies:
// "__wkf_step_<stepId>" with stepId sanitized for queue-name safety.
func QueueNameForStep(stepID wkf.StepID) string {
	return "__wkf_step_" + queueNameSanitizer.Replace(string(stepID))
}

// NewQueueMessage builds the step queue envelope for req (spec.md §6),
// idempotency-keyed on "stepInstanceId:attempt" so redelivering the same
// attempt is always a safe no-op. Used both by the dispatcher to enqueue a
// step's first attempt (from a step_requested event) and by the executor to
// enqueue a retry's next attempt.
func NewQueueMessage(req Request, createdAt time.Time) (wkf.QueueMessage, error) {
	wire, err := json.Marshal(req.toWire())
	if err != nil {
		return wkf.QueueMessage{}, fmt.Errorf("step: marshaling queue payload: %w", err)
	}
	return wkf.QueueMessage{
		MessageID:      id.NewEventID(),
		QueueName:      QueueNameForStep(req.StepID),
		Payload:        wire,
		CreatedAt:      createdAt,
		IdempotencyKey: fmt.Sprintf("%s:%d", req.InstanceID, req.Attempt),
		Attempt:        req.Attempt,
	}, nil
}

// DecodeQueueMessage parses a step queue message's raw payload back into a
// Request.
func DecodeQueueMessage(raw []byte) (Request, error) {
	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return Request{}, fmt.Errorf("step: decoding queue payload: %w", err)
	}
	return w.toRequest(), nil
}
