package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/wkfcore/wkf"
)

// workflowTickPayload is the workflow queue's payload shape (spec.md §6:
// `{ "runId": "wrun_<ulid>" }`).
type workflowTickPayload struct {
	RunID string `json:"runId"`
}

// healthCheckPayload is shared by both the workflow and step health-check
// queues (spec.md §6: `{ "__healthCheck": true, "correlationId": "hc_..." }`).
type healthCheckPayload struct {
	HealthCheck   bool   `json:"__healthCheck"`
	CorrelationID string `json:"correlationId"`
}

// decodeWorkflowTick validates and decodes a workflow tick message's raw
// payload, failing with wkf.ErrBadMessage on any schema mismatch (spec.md
// §4.5 step 1).
func decodeWorkflowTick(raw []byte) (workflowTickPayload, error) {
	var p workflowTickPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: workflow tick payload: %v", wkf.ErrBadMessage, err)
	}
	if p.RunID == "" {
		return p, fmt.Errorf("%w: workflow tick payload missing runId", wkf.ErrBadMessage)
	}
	return p, nil
}

// decodeStepRequest validates and decodes a step queue message's raw
// payload against the shape spec.md §6 defines.
func decodeStepRequest(raw []byte) (wirePayload, error) {
	var p wirePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: step payload: %v", wkf.ErrBadMessage, err)
	}
	if p.StepID == "" || p.StepInstanceID == "" || p.WorkflowRunID == "" {
		return p, fmt.Errorf("%w: step payload missing required field", wkf.ErrBadMessage)
	}
	if p.Attempt < 1 {
		return p, fmt.Errorf("%w: step payload attempt must be >= 1", wkf.ErrBadMessage)
	}
	return p, nil
}

// wirePayload mirrors step.Request's wire shape, so dispatch can decode and
// validate the envelope before toRequest converts it into the step.Request
// that step.Executor runs.
type wirePayload struct {
	WorkflowName      string           `json:"workflowName"`
	WorkflowRunID     string           `json:"workflowRunId"`
	WorkflowStartedAt int64            `json:"workflowStartedAt"`
	StepID            string           `json:"stepId"`
	StepInstanceID    string           `json:"stepInstanceId"`
	Attempt           int              `json:"attempt"`
	Input             wkf.EncodedValue `json:"input"`
}

// isHealthCheck reports whether raw looks like a healthCheckPayload,
// without requiring it to validate as a workflow/step payload. Health-check
// messages are exempt from the run-existence validation the other two
// payload kinds get (spec.md §4.7's "exempt from run-existence validation").
func isHealthCheck(raw []byte) (healthCheckPayload, bool) {
	var p healthCheckPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return healthCheckPayload{}, false
	}
	return p, p.HealthCheck
}
