package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitterText(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, false)

	emitter.Emit(Event{
		ExecutionID: "exec-42",
		NodeID:      "ocr",
		Msg:         "node_completed",
		Meta:        map[string]any{"duration_ms": 118},
	})

	line := buf.String()
	if !strings.HasPrefix(line, "[node_completed] execution=exec-42 node=ocr") {
		t.Errorf("unexpected line: %q", line)
	}
	if !strings.Contains(line, `"duration_ms":118`) {
		t.Errorf("meta missing from line: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Error("line not newline-terminated")
	}
}

func TestLogEmitterTextExecutionLevel(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, false)

	emitter.Emit(Event{ExecutionID: "exec-42", Msg: "execution_started"})

	if got, want := buf.String(), "[execution_started] execution=exec-42\n"; got != want {
		t.Errorf("line = %q, want %q", got, want)
	}
}

func TestLogEmitterJSON(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)

	emitter.Emit(Event{
		ExecutionID: "exec-42",
		NodeID:      "ocr",
		Msg:         "node_failed",
		Meta:        map[string]any{"error": "boom"},
	})
	emitter.Emit(Event{ExecutionID: "exec-42", Msg: "execution_finished"})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("line count = %d", len(lines))
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 0 not JSON: %v", err)
	}
	if first["executionId"] != "exec-42" || first["nodeId"] != "ocr" || first["msg"] != "node_failed" {
		t.Errorf("unexpected event: %v", first)
	}
	meta, _ := first["meta"].(map[string]any)
	if meta["error"] != "boom" {
		t.Errorf("meta = %v", first["meta"])
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("line 1 not JSON: %v", err)
	}
	if _, ok := second["nodeId"]; ok {
		t.Error("empty nodeId should be omitted")
	}
}

func TestMultiFanOut(t *testing.T) {
	var a, b bytes.Buffer
	multi := Multi{NewLogEmitter(&a, false), nil, NewLogEmitter(&b, true)}

	multi.Emit(Event{ExecutionID: "exec-1", Msg: "execution_started"})

	if a.Len() == 0 || b.Len() == 0 {
		t.Error("event not delivered to all emitters")
	}
}
