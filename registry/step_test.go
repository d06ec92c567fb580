package registry_test

import (
	"context"
	"testing"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/registry"
)

func TestLookupReturnsRegisteredFunc(t *testing.T) {
	id := wkf.NewStepID("handlers.go", "Add", "", "")
	called := false
	fn := func(ctx context.Context, input wkf.EncodedValue) (wkf.EncodedValue, error) {
		called = true
		return input, nil
	}

	reg := registry.NewStepRegistryBuilder().Register(id, fn).Freeze()

	got, ok := reg.Lookup(id)
	if !ok {
		t.Fatal("expected step to be registered")
	}
	if _, err := got(context.Background(), wkf.EncodedValue{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected registered func to be invoked")
	}
}

func TestLookupMissingReturnsFalse(t *testing.T) {
	reg := registry.NewStepRegistryBuilder().Freeze()
	_, ok := reg.Lookup(wkf.NewStepID("x.go", "Missing", "", ""))
	if ok {
		t.Fatal("expected lookup miss for unregistered step id")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()

	id := wkf.NewStepID("x.go", "Dup", "", "")
	noop := func(context.Context, wkf.EncodedValue) (wkf.EncodedValue, error) { return wkf.EncodedValue{}, nil }
	registry.NewStepRegistryBuilder().Register(id, noop).Register(id, noop)
}

func TestNilRegistryLookupIsSafe(t *testing.T) {
	var reg *registry.StepRegistry
	if _, ok := reg.Lookup(wkf.NewStepID("x.go", "Y", "", "")); ok {
		t.Fatal("expected nil registry lookup to miss safely")
	}
}
