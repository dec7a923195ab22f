package leaselock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type lockRow struct {
	token   string
	expires time.Time
}

type fakeDB struct {
	mu    sync.Mutex
	locks map[string]lockRow
	now   time.Time
}

func newFakeDB() *fakeDB {
	return &fakeDB{locks: make(map[string]lockRow), now: time.Now()}
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.vals[i].(string)
		case *time.Time:
			*p = r.vals[i].(time.Time)
		}
	}
	return nil
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sql == releaseSQL {
		key, token := args[0].(string), args[1].(string)
		if f.locks[key].token == token {
			delete(f.locks, key)
		}
	}
	return pgconn.NewCommandTag("DELETE 1"), nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := args[0].(string)
	switch sql {
	case tryAcquireSQL:
		token, ttl := args[1].(string), args[2].(int64)
		cur, held := f.locks[key]
		if held && cur.expires.After(f.now) && cur.token != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		f.locks[key] = lockRow{token: token, expires: f.now.Add(time.Duration(ttl) * time.Millisecond)}
		return fakeRow{vals: []any{key}}
	case renewSQL:
		token := args[1].(string)
		if f.locks[key].token != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{vals: []any{key}}
	case inspectSQL:
		cur, held := f.locks[key]
		if !held || cur.expires.Before(f.now) {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{vals: []any{cur.token, cur.expires}}
	}
	return fakeRow{err: errors.New("unexpected query")}
}

func TestAcquireIsExclusive(t *testing.T) {
	db := newFakeDB()
	c := New(db)
	ctx := context.Background()

	lease, err := c.Acquire(ctx, KeyExtractBatch, Options{TTL: time.Minute, TokenPrefix: "run-"})
	if err != nil {
		t.Fatalf("Acquire error = %v", err)
	}
	if _, err := c.Acquire(ctx, KeyExtractBatch, Options{TTL: time.Minute}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	h, ok, err := c.Inspect(ctx, KeyExtractBatch)
	if err != nil || !ok || h.Token != lease.Token || len(h.Token) < len("run-")+1 || h.Token[:4] != "run-" {
		t.Fatalf("Inspect = %+v, %v, %v", h, ok, err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release error = %v", err)
	}
	if lease.Context.Err() == nil {
		t.Fatal("lease context must be cancelled on release")
	}
	if _, ok, _ := c.Inspect(ctx, KeyExtractBatch); ok {
		t.Fatal("released lock must be free")
	}
	again, err := c.Acquire(ctx, KeyExtractBatch, Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("re-acquire error = %v", err)
	}
	_ = again.Release(ctx)
}

func TestExpiredLeaseCanBeTaken(t *testing.T) {
	db := newFakeDB()
	db.locks[DocumentKey("doc-1")] = lockRow{token: "stale", expires: db.now.Add(-time.Second)}
	c := New(db)

	lease, err := c.Acquire(context.Background(), DocumentKey("doc-1"), Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("expired lock must be taken over: %v", err)
	}
	_ = lease.Release(context.Background())
}

func TestWithLeaseReleases(t *testing.T) {
	db := newFakeDB()
	c := New(db)
	ran := false
	err := c.WithLease(context.Background(), DocumentKey("doc-9"), Options{TTL: time.Minute}, func(ctx context.Context) error {
		ran = true
		if _, ok, _ := c.Inspect(ctx, DocumentKey("doc-9")); !ok {
			t.Fatal("lock must be held inside fn")
		}
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("WithLease = %v, ran = %v", err, ran)
	}
	if _, ok, _ := c.Inspect(context.Background(), DocumentKey("doc-9")); ok {
		t.Fatal("lock must be released after fn")
	}
}

func TestDocumentKey(t *testing.T) {
	if DocumentKey("abc") != "extract:document:abc" {
		t.Fatalf("unexpected key %q", DocumentKey("abc"))
	}
}

func TestStolenLeaseIsLost(t *testing.T) {
	db := newFakeDB()
	c := New(db)
	key := DocumentKey("doc-3")

	err := c.WithLease(context.Background(), key, Options{TTL: time.Minute, RenewEvery: 5 * time.Millisecond}, func(ctx context.Context) error {
		db.mu.Lock()
		db.locks[key] = lockRow{token: "worker-other", expires: db.now.Add(time.Minute)}
		db.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			t.Fatal("lease context was not cancelled")
			return nil
		}
	})
	if !errors.Is(err, ErrLost) {
		t.Fatalf("WithLease = %v, want ErrLost", err)
	}
	if h, ok, _ := c.Inspect(context.Background(), key); !ok || h.Token != "worker-other" {
		t.Fatalf("release must not delete the new holder's row: %+v %v", h, ok)
	}
}

func TestWaitPollsUntilFree(t *testing.T) {
	db := newFakeDB()
	c := New(db)
	first, err := c.Acquire(context.Background(), KeyExtractBatch, Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = first.Release(context.Background())
	}()

	second, err := c.Acquire(context.Background(), KeyExtractBatch, Options{TTL: time.Minute, Wait: true, WaitInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("waiting Acquire: %v", err)
	}
	_ = second.Release(context.Background())
}
