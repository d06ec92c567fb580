package registry

import (
	"fmt"

	"github.com/wkfcore/wkf/replay"
)

// WorkflowRegistryBuilder accumulates workflow name -> body registrations
// before Freeze, mirroring StepRegistryBuilder. Unlike steps, workflows are
// looked up by the name passed to start(...) rather than a call-site derived
// id, since a workflow (unlike a step) has no "source file + function"
// origin that survives across the wire — the dispatcher only ever sees the
// name recorded on run_created.
type WorkflowRegistryBuilder struct {
	entries map[string]replay.WorkflowFunc
}

// NewWorkflowRegistryBuilder returns an empty builder.
func NewWorkflowRegistryBuilder() *WorkflowRegistryBuilder {
	return &WorkflowRegistryBuilder{entries: make(map[string]replay.WorkflowFunc)}
}

// Register adds fn under name. Panics on a duplicate name, matching
// StepRegistryBuilder.Register's build-time-bug treatment of collisions.
func (b *WorkflowRegistryBuilder) Register(name string, fn replay.WorkflowFunc) *WorkflowRegistryBuilder {
	if _, exists := b.entries[name]; exists {
		panic(fmt.Sprintf("registry: duplicate workflow name %q", name))
	}
	b.entries[name] = fn
	return b
}

// Freeze returns an immutable WorkflowRegistry snapshotting the current
// registrations.
func (b *WorkflowRegistryBuilder) Freeze() *WorkflowRegistry {
	frozen := make(map[string]replay.WorkflowFunc, len(b.entries))
	for name, fn := range b.entries {
		frozen[name] = fn
	}
	return &WorkflowRegistry{entries: frozen}
}

// WorkflowRegistry is the process-wide, read-only workflow table the
// dispatcher consults to resolve a workflow tick's body by name.
type WorkflowRegistry struct {
	entries map[string]replay.WorkflowFunc
}

// Lookup returns the registered function for name, if any.
func (r *WorkflowRegistry) Lookup(name string) (replay.WorkflowFunc, bool) {
	if r == nil {
		return nil, false
	}
	fn, ok := r.entries[name]
	return fn, ok
}
