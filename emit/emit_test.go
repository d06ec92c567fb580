package emit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/wkfcore/wkf/emit"
)

func TestLogEmitterTextFormat(t *testing.T) {
	var buf bytes.Buffer
	emitter := emit.NewLogEmitter(&buf, false)

	emitter.Emit(emit.Event{
		RunID:        "wrun_001",
		StepInstance: "step//a//b#0",
		Msg:          "step_started",
		Meta:         map[string]any{"attempt": 1},
	})

	out := buf.String()
	if !strings.Contains(out, "wrun_001") || !strings.Contains(out, "step_started") {
		t.Fatalf("expected output to contain run id and msg, got %q", out)
	}
}

func TestLogEmitterJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	emitter := emit.NewLogEmitter(&buf, true)

	emitter.Emit(emit.Event{RunID: "wrun_001", StepInstance: "s#0", Msg: "step_completed"})

	var parsed map[string]any
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("expected valid JSON, got error %v: %s", err, buf.String())
	}
	if parsed["runID"] != "wrun_001" {
		t.Errorf("expected runID wrun_001, got %v", parsed["runID"])
	}
	if parsed["msg"] != "step_completed" {
		t.Errorf("expected msg step_completed, got %v", parsed["msg"])
	}
}

func TestLogEmitterEmitBatch(t *testing.T) {
	var buf bytes.Buffer
	emitter := emit.NewLogEmitter(&buf, true)

	events := []emit.Event{
		{RunID: "r1", Msg: "a"},
		{RunID: "r1", Msg: "b"},
	}
	if err := emitter.EmitBatch(context.Background(), events); err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}

func TestBufferedEmitterAccumulatesUntilFlush(t *testing.T) {
	underlay := emit.NewBufferedEmitter(nil)
	buffered := emit.NewBufferedEmitter(underlay)

	buffered.Emit(emit.Event{RunID: "r1", Msg: "a"})
	buffered.Emit(emit.Event{RunID: "r1", Msg: "b"})

	if got := buffered.Events(); len(got) != 2 {
		t.Fatalf("expected 2 buffered events, got %d", len(got))
	}

	if err := buffered.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := buffered.Events(); len(got) != 0 {
		t.Fatalf("expected buffer cleared after flush, got %d", len(got))
	}
	if got := underlay.Events(); len(got) != 2 {
		t.Fatalf("expected underlay to receive 2 events, got %d", len(got))
	}
}

func TestBufferedEmitterFlushWithoutUnderlayDrainsBuffer(t *testing.T) {
	buffered := emit.NewBufferedEmitter(nil)
	buffered.Emit(emit.Event{RunID: "r1", Msg: "a"})

	if err := buffered.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := buffered.Events(); len(got) != 0 {
		t.Fatalf("expected buffer cleared, got %d", len(got))
	}
}

func TestNullEmitterDiscardsEverything(t *testing.T) {
	var e emit.Emitter = emit.NullEmitter{}
	e.Emit(emit.Event{RunID: "r1", Msg: "a"})
	if err := e.EmitBatch(context.Background(), []emit.Event{{RunID: "r1"}}); err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestEmitterInterfaceContracts(t *testing.T) {
	var _ emit.Emitter = emit.NewLogEmitter(nil, false)
	var _ emit.Emitter = emit.NewBufferedEmitter(nil)
	var _ emit.Emitter = emit.NullEmitter{}
}
