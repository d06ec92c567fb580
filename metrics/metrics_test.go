package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wkfcore/wkf/metrics"
)

func TestIncrementRetries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.IncrementRetries("step-a", "transient_io")
	m.IncrementRetries("step-a", "transient_io")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != "wkf_retries_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	if total != 2 {
		t.Fatalf("expected counter value 2, got %v", total)
	}
}

func TestQueueDepthGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.SetQueueDepth("ready", 7)
	m.SetQueueDepth("ready", 3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if !containsMetric(families, "wkf_queue_depth") {
		t.Fatalf("expected wkf_queue_depth to be registered, families: %v", names(families))
	}
}

func TestDisableSuppressesRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Disable()

	m.IncrementHooksResumed()
	m.IncrementLifetimeClamped()
	m.RecordStepLatency("step-a", 10*time.Millisecond, "success")

	m.Enable()
	m.IncrementHooksResumed()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if !containsMetric(families, "wkf_hooks_resumed_total") {
		t.Fatalf("expected wkf_hooks_resumed_total registered, families: %v", names(families))
	}
	var resumed float64
	for _, f := range families {
		if f.GetName() != "wkf_hooks_resumed_total" {
			continue
		}
		for _, mm := range f.GetMetric() {
			resumed += mm.GetCounter().GetValue()
		}
	}
	if resumed != 1 {
		t.Fatalf("wkf_hooks_resumed_total = %v, want 1 (the increment while disabled is dropped)", resumed)
	}
}

func containsMetric(families []*prometheus.MetricFamily, name string) bool {
	for _, f := range families {
		if f.GetName() == name {
			return true
		}
	}
	return false
}

func names(families []*prometheus.MetricFamily) []string {
	out := make([]string, len(families))
	for i, f := range families {
		out[i] = f.GetName()
	}
	return out
}
