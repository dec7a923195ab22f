package file

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileLoggerWritesLogfmt(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLogger(FileLoggerParams{Dir: dir, Prefix: "extract", RunID: "abc"})
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	l.Info("[Extract] document done", "document_id", "doc-1", "relations", 3)
	l.Debug("hidden at info level")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !strings.HasSuffix(l.Path(), "-abc.log") {
		t.Fatalf("unexpected path %q", l.Path())
	}
	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "document_id=doc-1") || !strings.Contains(out, "relations=3") {
		t.Fatalf("expected logfmt key/values, got %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered, got %q", out)
	}
}

func TestPruneRunsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"extract-20260101T000000Z-a.log",
		"extract-20260102T000000Z-b.log",
		"extract-20260103T000000Z-c.log",
		"server-20260101T000000Z-x.log",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	current := filepath.Join(dir, "extract-20260104T000000Z-d.log")
	if err := os.WriteFile(current, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	pruneRuns(dir, "extract", current, 2)

	left, _ := filepath.Glob(filepath.Join(dir, "*.log"))
	want := map[string]bool{
		"extract-20260103T000000Z-c.log": true,
		"extract-20260104T000000Z-d.log": true,
		"server-20260101T000000Z-x.log":  true,
	}
	if len(left) != len(want) {
		t.Fatalf("expected %d files, got %v", len(want), left)
	}
	for _, p := range left {
		if !want[filepath.Base(p)] {
			t.Fatalf("unexpected file left: %s", p)
		}
	}
}
