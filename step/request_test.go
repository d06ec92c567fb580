package step_test

import (
	"strings"
	"testing"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/step"
)

func TestQueueNameForStepSanitizesSeparators(t *testing.T) {
	id := wkf.NewStepID("pkg/handlers.go", "Add", "Do", "")
	name := step.QueueNameForStep(id)
	if !strings.HasPrefix(name, "__wkf_step_") {
		t.Fatalf("expected __wkf_step_ prefix, got %q", name)
	}
	if strings.Contains(name, "/") || strings.Contains(name, "#") {
		t.Fatalf("expected queue name free of raw step-id separators, got %q", name)
	}
}

func TestQueueNameForStepIsStableForSameID(t *testing.T) {
	id := wkf.NewStepID("pkg/handlers.go", "Add", "", "")
	if step.QueueNameForStep(id) != step.QueueNameForStep(id) {
		t.Fatal("expected deterministic queue naming for the same step id")
	}
}
