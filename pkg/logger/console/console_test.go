package console

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleLogger(ConsoleLoggerParams{Prefix: "worker", JSON: true, Out: &buf})
	c.Info("[Queue] message processed", "document_id", "d-17")
	c.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode %q: %v", lines[0], err)
	}
	if rec["msg"] != "[Queue] message processed" || rec["document_id"] != "d-17" {
		t.Fatalf("got %v", rec)
	}
}

func TestDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleLogger(ConsoleLoggerParams{Debug: true, Out: &buf})
	c.Debug("[Retrieval] fused", "hits", 12)
	if !strings.Contains(buf.String(), "[Retrieval] fused") {
		t.Fatalf("debug line missing: %q", buf.String())
	}
}
