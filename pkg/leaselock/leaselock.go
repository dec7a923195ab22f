// Package leaselock provides expiring, renewable locks on the app_locks
// table. The batch extractor holds one for its whole run and the queue
// worker takes one per document, so a document is never extracted twice
// at the same time.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

// Keys used by the extraction jobs.
const (
	KeyExtractBatch   = "extract:batch"
	keyDocumentPrefix = "extract:document:"
)

const (
	defaultTTL   = 5 * time.Minute
	defaultPoll  = 250 * time.Millisecond
	renewTimeout = 15 * time.Second
)

// DocumentKey is the lock key guarding extraction of one document.
func DocumentKey(documentID string) string {
	return keyDocumentPrefix + documentID
}

// DB is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Client struct {
	db DB
}

func New(db DB) *Client {
	return &Client{db: db}
}

// Options tune a lease. The zero value holds for five minutes, renews
// every half TTL and fails fast with ErrBusy.
type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	// TokenPrefix makes holders recognizable in app_locks, e.g. a run ID.
	TokenPrefix string
}

func (o Options) withDefaults() Options {
	if o.TTL < time.Millisecond {
		o.TTL = defaultTTL
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = defaultPoll
	}
	o.WaitJitter = max(o.WaitJitter, 0)
	return o
}

func (o Options) pollDelay() time.Duration {
	if o.WaitJitter == 0 {
		return o.WaitInterval
	}
	return o.WaitInterval + time.Duration(rand.Int64N(int64(o.WaitJitter)+1))
}

// Lease is a held lock. Its Context is cancelled on Release or when a
// renewal fails; context.Cause then reports ErrLost or the database error.
type Lease struct {
	Key     string
	Token   string
	Context context.Context

	db     DB
	ttlMs  int64
	lost   error
	cancel context.CancelCauseFunc
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// WithLease runs fn while holding key. If the lease is lost while fn runs,
// the error is ErrLost unless fn reported something more specific.
func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	err = fn(lease.Context)
	lost := lease.Err()
	if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil && err == nil && lost == nil {
		err = fmt.Errorf("release %s: %w", key, rerr)
	}
	if lost != nil && (err == nil || errors.Is(err, context.Canceled)) {
		return lost
	}
	return err
}

// Acquire takes key, polling while it is held when opts.Wait is set.
func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}
	opts = opts.withDefaults()

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := opts.TokenPrefix + id
	ttlMs := opts.TTL.Milliseconds()

	for {
		var got string
		err := c.db.QueryRow(ctx, tryAcquireSQL, key, token, ttlMs).Scan(&got)
		if err == nil && got != "" {
			break
		}
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		if err := util.Sleep(ctx, opts.pollDelay()); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		db:      c.db,
		ttlMs:   ttlMs,
		cancel:  cancel,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.keepAlive(opts.RenewEvery)
	return l, nil
}

// Err returns why renewal gave up, or nil while the lease is held or once
// it was released or its parent context ended.
func (l *Lease) Err() error {
	if l.Context.Err() == nil {
		return nil
	}
	return l.lost
}

// Release stops renewal and deletes the row if this lease still owns it.
func (l *Lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		close(l.stop)
		l.cancel(context.Canceled)
	})
	<-l.done
	_, err := l.db.Exec(ctx, releaseSQL, l.Key, l.Token)
	return err
}

func (l *Lease) keepAlive(every time.Duration) {
	defer close(l.done)
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.renew(); err != nil {
				l.lost = err
				l.cancel(err)
				return
			}
		}
	}
}

func (l *Lease) renew() error {
	return util.RetryErrWithContext(l.Context, util.Backoff{
		MaxTries:  3,
		Base:      200 * time.Millisecond,
		Max:       time.Second,
		Retryable: func(err error) bool { return !errors.Is(err, ErrLost) },
	}, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, renewTimeout)
		defer cancel()
		var got string
		err := l.db.QueryRow(ctx, renewSQL, l.Key, l.Token, l.ttlMs).Scan(&got)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLost
		}
		return err
	})
}

// Holder describes who holds a lock and until when.
type Holder struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Inspect returns the current holder of key. ok is false when the key is
// free or its lease has expired.
func (c *Client) Inspect(ctx context.Context, key string) (Holder, bool, error) {
	h := Holder{Key: key}
	err := c.db.QueryRow(ctx, inspectSQL, key).Scan(&h.Token, &h.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Holder{}, false, nil
	}
	if err != nil {
		return Holder{}, false, err
	}
	return h, true, nil
}

// A row is taken over when it has expired or when the same token asks again.
const tryAcquireSQL = `
INSERT INTO app_locks (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by  = EXCLUDED.locked_by,
    expires_at = EXCLUDED.expires_at
WHERE app_locks.expires_at < now()
   OR app_locks.locked_by = EXCLUDED.locked_by
RETURNING lock_key;
`

const renewSQL = `
UPDATE app_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key;
`

const releaseSQL = `
DELETE FROM app_locks
WHERE lock_key = $1 AND locked_by = $2;
`

const inspectSQL = `
SELECT locked_by, expires_at
FROM app_locks
WHERE lock_key = $1 AND expires_at >= now();
`
