package wkf

import "fmt"

// StepID identifies a step implementation (spec.md §3: "step//" +
// source-file-key + "//" + function-key, with an optional "#method" or
// "."+static-member suffix). It is stable across deployments as long as the
// source it names doesn't move.
type StepID string

// NewStepID builds a StepID from its components. method and member are
// optional; at most one should be non-empty.
func NewStepID(sourceFileKey, functionKey, method, staticMember string) StepID {
	id := fmt.Sprintf("step//%s//%s", sourceFileKey, functionKey)
	switch {
	case method != "":
		id += "#" + method
	case staticMember != "":
		id += "." + staticMember
	}
	return StepID(id)
}

// InstanceID identifies one logical call to a step within a run: the StepID
// plus a monotonic occurrence counter for that call site within the run
// (spec.md §3's "instance id"). Retries of the same call share an InstanceID
// and differ only by Attempt on their events.
type InstanceID string

// NewInstanceID composes an InstanceID from a StepID and its occurrence
// number (0-based) within the run.
func NewInstanceID(step StepID, occurrence int) InstanceID {
	return InstanceID(fmt.Sprintf("%s#%d", step, occurrence))
}
