package rag

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// State is a stage of the per-query pipeline.
type State string

const (
	StateNew              State = "NEW"
	StateCacheCheck       State = "CACHE_CHECK"
	StateCached           State = "CACHED"
	StateClassify         State = "CLASSIFY"
	StateFrequentResolve  State = "FREQUENT_RESOLVE"
	StateStructured       State = "STRUCTURED_RESOLVE"
	StateSemanticRetrieve State = "SEMANTIC_RETRIEVE"
	StateLLMSynthesize    State = "LLM_SYNTHESIZE"
	StateErrorRespond     State = "ERROR_RESPOND"
	StatePersist          State = "PERSIST"
	StateDone             State = "DONE"
)

type TraceEventKind string

const (
	TraceEventConsideredSourceIDs TraceEventKind = "considered_source_ids"
	TraceEventUsedSourceIDs       TraceEventKind = "used_source_ids"
	TraceEventState               TraceEventKind = "state"
	TraceEventLLMCall             TraceEventKind = "llm_call"
	TraceEventNote                TraceEventKind = "note"
)

// TraceEvent is an extensible event envelope for query tracing.
type TraceEvent struct {
	Kind TraceEventKind

	SourceIDs []string

	State State

	Op           string
	Model        string
	PromptTokens int
	OutputTokens int
	DurationMs   int64
	Error        string

	Key   string
	Value string
}

// Tracer is a sink for query tracing events.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fans out trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func RecordConsideredSourceIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventConsideredSourceIDs, SourceIDs: ids})
}

func RecordUsedSourceIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventUsedSourceIDs, SourceIDs: ids})
}

func RecordState(t Tracer, s State) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventState, State: s})
}

func RecordNote(t Tracer, key, value string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventNote, Key: key, Value: value})
}

// Trace collects what happened during one query: the states it passed
// through, the sources it considered and cited, and every LLM call.
// The snapshot is stored as the answer's llm_metadata.
//
// Trace is safe for concurrent use; the hybrid legs share one.
type Trace struct {
	mu sync.Mutex

	started time.Time
	now     func() time.Time

	consideredSourceIDs map[string]struct{}
	usedSourceIDs       map[string]struct{}
	states              []StateEntry
	llmCalls            []LLMCall
	notes               map[string]string
}

type StateEntry struct {
	State     State `json:"state"`
	ElapsedMs int64 `json:"elapsed_ms"`
}

type LLMCall struct {
	Op           string `json:"op"`
	Model        string `json:"model,omitempty"`
	PromptTokens int    `json:"prompt_tokens"`
	OutputTokens int    `json:"output_tokens"`
	DurationMs   int64  `json:"duration_ms"`
	Error        string `json:"error,omitempty"`
}

type TraceSnapshot struct {
	ConsideredSourceIDs []string          `json:"considered_source_ids"`
	UsedSourceIDs       []string          `json:"used_source_ids"`
	States              []StateEntry      `json:"states"`
	LLMCalls            []LLMCall         `json:"llm_calls,omitempty"`
	Notes               map[string]string `json:"notes,omitempty"`
}

func NewTrace() *Trace {
	return newTraceAt(time.Now)
}

func newTraceAt(now func() time.Time) *Trace {
	t := &Trace{
		started:             now(),
		now:                 now,
		consideredSourceIDs: make(map[string]struct{}),
		usedSourceIDs:       make(map[string]struct{}),
		notes:               make(map[string]string),
	}
	t.states = append(t.states, StateEntry{State: StateNew})
	return t
}

func (t *Trace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventConsideredSourceIDs:
		for _, id := range event.SourceIDs {
			if id == "" {
				continue
			}
			t.consideredSourceIDs[id] = struct{}{}
		}
	case TraceEventUsedSourceIDs:
		for _, id := range event.SourceIDs {
			if id == "" {
				continue
			}
			t.usedSourceIDs[id] = struct{}{}
		}
	case TraceEventState:
		t.states = append(t.states, StateEntry{State: event.State, ElapsedMs: t.now().Sub(t.started).Milliseconds()})
	case TraceEventLLMCall:
		t.llmCalls = append(t.llmCalls, LLMCall{
			Op:           event.Op,
			Model:        event.Model,
			PromptTokens: event.PromptTokens,
			OutputTokens: event.OutputTokens,
			DurationMs:   event.DurationMs,
			Error:        event.Error,
		})
	case TraceEventNote:
		if event.Key != "" {
			t.notes[event.Key] = event.Value
		}
	default:
		return
	}
}

// Elapsed is the time since the trace was created.
func (t *Trace) Elapsed() time.Duration {
	if t == nil {
		return 0
	}
	return t.now().Sub(t.started)
}

// Last returns the most recent state.
func (t *Trace) Last() State {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[len(t.states)-1].State
}

// Visited reports whether the trace passed through s.
func (t *Trace) Visited(s State) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.states {
		if e.State == s {
			return true
		}
	}
	return false
}

func (t *Trace) Snapshot() TraceSnapshot {
	if t == nil {
		return TraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := TraceSnapshot{
		ConsideredSourceIDs: make([]string, 0, len(t.consideredSourceIDs)),
		UsedSourceIDs:       make([]string, 0, len(t.usedSourceIDs)),
		States:              append([]StateEntry(nil), t.states...),
		LLMCalls:            append([]LLMCall(nil), t.llmCalls...),
	}
	for id := range t.consideredSourceIDs {
		s.ConsideredSourceIDs = append(s.ConsideredSourceIDs, id)
	}
	for id := range t.usedSourceIDs {
		s.UsedSourceIDs = append(s.UsedSourceIDs, id)
	}
	if len(t.notes) > 0 {
		s.Notes = make(map[string]string, len(t.notes))
		for k, v := range t.notes {
			s.Notes[k] = v
		}
	}

	sort.Strings(s.ConsideredSourceIDs)
	sort.Strings(s.UsedSourceIDs)

	return s
}

// JSON encodes the snapshot for llm_metadata.
func (t *Trace) JSON() json.RawMessage {
	raw, err := json.Marshal(t.Snapshot())
	if err != nil {
		return nil
	}
	return raw
}
