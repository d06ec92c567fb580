package wkf

// Queue naming convention (spec.md §6). These are pure string conventions
// shared by every package that needs to address a queue by name (the
// engine enqueuing the first tick, the step executor notifying a run's
// workflow queue after a terminal step event, the dispatcher receiving from
// it, the health probe targeting it) — kept here rather than in any one of
// those packages to avoid import cycles between them.
const (
	workflowQueuePrefix = "__wkf_workflow_"

	// WorkflowHealthQueueName is the well-known health-check queue for the
	// workflow endpoint.
	WorkflowHealthQueueName = "__wkf_workflow_health_check"

	// StepHealthQueueName is the well-known health-check queue for the step
	// endpoint.
	StepHealthQueueName = "__wkf_step_health_check"
)

// WorkflowQueueName returns the workflow tick queue name for shard (shard
// may be empty, yielding the bare "__wkf_workflow_" queue).
func WorkflowQueueName(shard string) string {
	return workflowQueuePrefix + shard
}

// RunCreatedPayload is run_created's event data shape: the arguments a run
// was started with, the workflow it runs, and the specVersion gate (spec.md
// §6, §3). Recorded once at start(...) and never rewritten.
type RunCreatedPayload struct {
	WorkflowName string       `json:"workflowName"`
	SpecVersion  string       `json:"specVersion"`
	Arguments    EncodedValue `json:"arguments"`
}
