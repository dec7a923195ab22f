package logger

import (
	"errors"
	"reflect"
	"testing"
)

type recorder struct {
	lines  []string
	closed bool
	err    error
}

func (r *recorder) add(lvl, msg string, kv []any) {
	r.lines = append(r.lines, lvl+" "+msg)
}

func (r *recorder) Log(m string, kv ...any)   { r.add("LOG", m, kv) }
func (r *recorder) Debug(m string, kv ...any) { r.add("DEBUG", m, kv) }
func (r *recorder) Info(m string, kv ...any)  { r.add("INFO", m, kv) }
func (r *recorder) Warn(m string, kv ...any)  { r.add("WARN", m, kv) }
func (r *recorder) Error(m string, kv ...any) { r.add("ERROR", m, kv) }
func (r *recorder) Fatal(m string, kv ...any) { r.add("FATAL", m, kv) }

type closingRecorder struct{ recorder }

func (c *closingRecorder) Close() error {
	c.closed = true
	return c.err
}

func TestDispatchReachesEveryBackend(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	t.Cleanup(func() { Init() })

	Info("[Extract] batch started", "run_id", "20261019T101500Z-abc")
	Warn("[Router] session missing")
	Debug("[RAG] cache miss")
	Log("plain")

	want := []string{"INFO [Extract] batch started", "WARN [Router] session missing", "DEBUG [RAG] cache miss", "LOG plain"}
	for _, r := range []*recorder{a, b} {
		if !reflect.DeepEqual(r.lines, want) {
			t.Fatalf("got %v, want %v", r.lines, want)
		}
	}
}

func TestCloseOnlyClosers(t *testing.T) {
	plain := &recorder{}
	first := &closingRecorder{recorder{err: errors.New("disk full")}}
	second := &closingRecorder{}
	Init(plain, first, second)
	t.Cleanup(func() { Init() })

	if err := Close(); err == nil || err.Error() != "disk full" {
		t.Fatalf("Close = %v", err)
	}
	if !first.closed || !second.closed {
		t.Fatal("every closer must be closed")
	}
}

func TestUninitializedIsSilent(t *testing.T) {
	current.Store(nil)
	Info("dropped")
	if err := Close(); err != nil {
		t.Fatalf("Close = %v", err)
	}
}
