package registry_test

import (
	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/registry"
	"github.com/wkfcore/wkf/replay"
	"testing"
)

func noopWorkflow(c *replay.Ctx, input wkf.EncodedValue) (wkf.EncodedValue, error) {
	return input, nil
}

func TestWorkflowLookupReturnsRegisteredFunc(t *testing.T) {
	reg := registry.NewWorkflowRegistryBuilder().Register("greet", noopWorkflow).Freeze()

	fn, ok := reg.Lookup("greet")
	if !ok {
		t.Fatal("expected workflow to be registered")
	}
	if fn == nil {
		t.Fatal("expected a non-nil registered func")
	}
}

func TestWorkflowLookupMissingReturnsFalse(t *testing.T) {
	reg := registry.NewWorkflowRegistryBuilder().Freeze()
	_, ok := reg.Lookup("missing")
	if ok {
		t.Fatal("expected lookup miss for unregistered workflow name")
	}
}

func TestWorkflowRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()

	registry.NewWorkflowRegistryBuilder().Register("dup", noopWorkflow).Register("dup", noopWorkflow)
}

func TestNilWorkflowRegistryLookupIsSafe(t *testing.T) {
	var reg *registry.WorkflowRegistry
	if _, ok := reg.Lookup("anything"); ok {
		t.Fatal("expected nil registry lookup to miss safely")
	}
}
