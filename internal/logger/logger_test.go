package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONEnabled(t *testing.T) {
	l := New(false)
	if l.JSONEnabled() {
		t.Fatal("expected false")
	}
	l = New(true)
	if !l.JSONEnabled() {
		t.Fatal("expected true")
	}
	var nilLogger *Logger
	if nilLogger.JSONEnabled() {
		t.Fatal("nil logger should not report json")
	}
	nilLogger.Info("dropped", nil)
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, true).With(map[string]any{"run_id": "r1"})
	l.Info("migrate.success", map[string]any{"id": "001_init"})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["msg"] != "migrate.success" || line["level"] != "info" {
		t.Fatalf("unexpected line: %v", line)
	}
	if line["id"] != "001_init" || line["run_id"] != "r1" {
		t.Fatalf("missing fields: %v", line)
	}
	if _, ok := line["ts"]; !ok {
		t.Fatalf("missing ts: %v", line)
	}
}

func TestDebugNeedsVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, false)
	l.Debug("hidden", nil)
	if buf.Len() != 0 {
		t.Fatalf("debug written without verbose: %q", buf.String())
	}
	l.SetVerbose(true)
	l.Debug("shown", map[string]any{"state": "Computing"})
	if !strings.Contains(buf.String(), "shown") || !strings.Contains(buf.String(), "state=Computing") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}
