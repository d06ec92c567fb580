// Package registry holds the process-wide, read-only-after-freeze tables
// the engine consults by stable identifier: the step registry mapping
// stepId to implementation. Grounded on spec.md §9's guidance to replace
// mutable global symbol tables with a single initialization phase that
// builds an immutable registry, mirrored here from codec's
// ClassRegistryBuilder.
package registry

import (
	"context"
	"fmt"

	"github.com/wkfcore/wkf"
)

// StepFunc is a registered step implementation. It receives the step's
// codec-encoded input and returns a codec-encoded result or an error (see
// wkf.ClassifiedError for the taxonomy the executor consults to
// decide retry vs. terminal failure). Attempt number, stream access, and
// cancellation are carried on ctx via the step package's accessor
// functions rather than a typed parameter here, so this package never
// needs to import step (which itself depends on registry to dispatch).
type StepFunc func(ctx context.Context, input wkf.EncodedValue) (wkf.EncodedValue, error)

// StepRegistryBuilder accumulates step registrations before Freeze.
// Registration is expected to happen once per process, driven by
// generated init code at load time, not by runtime logic.
type StepRegistryBuilder struct {
	entries map[wkf.StepID]StepFunc
}

// NewStepRegistryBuilder returns an empty builder.
func NewStepRegistryBuilder() *StepRegistryBuilder {
	return &StepRegistryBuilder{entries: make(map[wkf.StepID]StepFunc)}
}

// Register adds fn under id. Panics on a duplicate id: a collision here is
// a build-time bug (two steps sharing a call-site identity), not a
// runtime condition to recover from.
func (b *StepRegistryBuilder) Register(id wkf.StepID, fn StepFunc) *StepRegistryBuilder {
	if _, exists := b.entries[id]; exists {
		panic(fmt.Sprintf("registry: duplicate step id %q", id))
	}
	b.entries[id] = fn
	return b
}

// Freeze returns an immutable StepRegistry snapshotting the current
// registrations. The builder remains usable afterwards but further
// Register calls do not affect already-frozen registries.
func (b *StepRegistryBuilder) Freeze() *StepRegistry {
	frozen := make(map[wkf.StepID]StepFunc, len(b.entries))
	for id, fn := range b.entries {
		frozen[id] = fn
	}
	return &StepRegistry{entries: frozen}
}

// StepRegistry is the process-wide, read-only step table consulted by the
// dispatcher and step executor.
type StepRegistry struct {
	entries map[wkf.StepID]StepFunc
}

// Lookup returns the registered function for id, if any.
func (r *StepRegistry) Lookup(id wkf.StepID) (StepFunc, bool) {
	if r == nil {
		return nil, false
	}
	fn, ok := r.entries[id]
	return fn, ok
}
