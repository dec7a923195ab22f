// Package conversation tracks per-session history and rewrites referential
// follow-ups ("ver sus relaciones") by injecting entities from prior turns.
package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/classify"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
)

const (
	// DefaultMaxTurns is N, the history length kept per session.
	DefaultMaxTurns = 10
	// MaxFullRewrites is how many consecutive rewrites may inject more than
	// one entity. Later consecutive rewrites inject only the latest entity.
	MaxFullRewrites = 3
	// lookbackTurns is how many recent turns contribute entities.
	lookbackTurns = 2
)

// Key identifies a session.
type Key struct {
	UserID    string
	SessionID string
}

func (k Key) String() string {
	return k.UserID + ":" + k.SessionID
}

// Turn is one user question as it was dispatched.
type Turn struct {
	Text      string    `json:"text"`
	Entities  []string  `json:"entities"`
	Rewritten bool      `json:"rewritten"`
	At        time.Time `json:"at"`
}

// Session is the ordered history of a user+session, oldest first.
type Session struct {
	Turns               []Turn `json:"turns"`
	ConsecutiveRewrites int    `json:"consecutive_rewrites"`
}

// Rewrite is the outcome of Manager.Rewrite.
type Rewrite struct {
	Text                string   `json:"text"`
	Rewritten           bool     `json:"rewritten"`
	InjectedEntities    []string `json:"injected_entities"`
	ConsecutiveRewrites int      `json:"consecutive_rewrites"`
}

// SessionStore persists sessions. Acquire serializes turns of one session:
// the returned release must be called once the turn has been committed.
type SessionStore interface {
	Get(ctx context.Context, key Key) (*Session, error)
	Put(ctx context.Context, key Key, s *Session) error
	Acquire(ctx context.Context, key Key) (release func(), err error)
}

// Manager applies the rewrite policy on top of a SessionStore.
type Manager struct {
	store    SessionStore
	lex      *lexicon.Lexicon
	maxTurns int
}

func NewManager(store SessionStore, lex *lexicon.Lexicon, maxTurns int) *Manager {
	if lex == nil {
		lex = lexicon.Default()
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Manager{store: store, lex: lex, maxTurns: maxTurns}
}

// Begin locks the session and loads it. The caller must call release.
func (m *Manager) Begin(ctx context.Context, key Key) (*Session, func(), error) {
	release, err := m.store.Acquire(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	s, err := m.store.Get(ctx, key)
	if err != nil {
		release()
		return nil, nil, err
	}
	if s == nil {
		s = &Session{}
	}
	return s, release, nil
}

// Commit appends the turn, evicts beyond N and stores the session.
func (m *Manager) Commit(ctx context.Context, key Key, s *Session, turn Turn) error {
	m.Push(s, turn)
	return m.store.Put(ctx, key, s)
}

// Rewrite decides whether text refers back to earlier turns and, if so,
// prefixes it with their entities as "<entities>: <text>". It does not
// mutate s; the counter is persisted by Push.
func (m *Manager) Rewrite(text string, s *Session) Rewrite {
	text = strings.TrimSpace(text)
	res := Rewrite{Text: text, InjectedEntities: []string{}}
	if s == nil || len(s.Turns) == 0 {
		return res
	}
	if len(classify.ProperNouns(text)) > 0 {
		return res
	}
	if !m.lex.HasReferentialTrigger(text) {
		return res
	}

	entities := recentEntities(s.Turns, lookbackTurns)
	if len(entities) == 0 {
		return res
	}

	count := s.ConsecutiveRewrites + 1
	if count > MaxFullRewrites {
		entities = entities[:1]
	}

	res.Text = strings.Join(entities, ", ") + ": " + text
	res.Rewritten = true
	res.InjectedEntities = entities
	res.ConsecutiveRewrites = count
	return res
}

// Push appends turn and keeps only the newest N turns.
func (m *Manager) Push(s *Session, turn Turn) {
	if turn.At.IsZero() {
		turn.At = time.Now().UTC()
	}
	if turn.Rewritten {
		s.ConsecutiveRewrites++
	} else {
		s.ConsecutiveRewrites = 0
	}
	s.Turns = append(s.Turns, turn)
	if over := len(s.Turns) - m.maxTurns; over > 0 {
		s.Turns = append([]Turn(nil), s.Turns[over:]...)
	}
}

// recentEntities collects entities of the last n turns, newest first,
// deduplicated case and accent insensitively.
func recentEntities(turns []Turn, n int) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for i := len(turns) - 1; i >= 0 && i >= len(turns)-n; i-- {
		for _, e := range turns[i].Entities {
			k := util.Fold(e)
			if k == "" {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}
