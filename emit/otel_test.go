package emit_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wkfcore/wkf/emit"
)

func TestOTelEmitterCreatesSpanPerEvent(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tracer := otel.Tracer("wkf-test")
	emitter := emit.NewOTelEmitter(tracer)

	emitter.Emit(emit.Event{
		RunID:        "wrun_001",
		StepInstance: "step//a//b#0",
		Msg:          "step_started",
		Meta:         map[string]any{"attempt": 1},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "step_started" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "step_started")
	}

	var sawRunID bool
	for _, kv := range spans[0].Attributes {
		if string(kv.Key) == "wkf.run_id" && kv.Value.AsString() == "wrun_001" {
			sawRunID = true
		}
	}
	if !sawRunID {
		t.Error("expected wkf.run_id attribute on span")
	}
}

func TestOTelEmitterMarksErrorStatus(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tracer := otel.Tracer("wkf-test")
	emitter := emit.NewOTelEmitter(tracer)

	emitter.Emit(emit.Event{
		RunID: "wrun_001",
		Msg:   "step_failed",
		Meta:  map[string]any{"error": "boom"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Description != "boom" {
		t.Errorf("expected error status description %q, got %q", "boom", spans[0].Status.Description)
	}
}

func TestOTelEmitterInterfaceContract(t *testing.T) {
	var _ emit.Emitter = emit.NewOTelEmitter(otel.Tracer("wkf"))
}
