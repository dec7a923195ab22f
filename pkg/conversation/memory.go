package conversation

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore keeps sessions in process. Sessions are copied on Get and Put
// so callers never share state through the store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[Key][]byte
	locks    map[Key]chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[Key][]byte),
		locks:    make(map[Key]chan struct{}),
	}
}

func (m *MemoryStore) Get(ctx context.Context, key Key) (*Session, error) {
	m.mu.Lock()
	raw, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *MemoryStore) Put(ctx context.Context, key Key, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sessions[key] = raw
	m.mu.Unlock()
	return nil
}

// Acquire blocks until no other turn of the session is active or ctx is done.
func (m *MemoryStore) Acquire(ctx context.Context, key Key) (func(), error) {
	m.mu.Lock()
	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	m.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
