package util

import (
	"context"
	"errors"
	"time"
)

// Backoff describes an exponential retry schedule. The delay before retry n
// (n starting at 0) is Base * 2^n, capped at Max when Max > 0.
type Backoff struct {
	MaxTries int
	Base     time.Duration
	Max      time.Duration

	// Retryable decides whether an error is worth another attempt. Nil means
	// every non-context error is retried.
	Retryable func(error) bool
}

// Delay returns the wait before the retry that follows attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 || attempt < 0 {
		return 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// RetryWithBackoff calls fn until it succeeds, the schedule is exhausted, the
// error is not retryable, or ctx is done.
func RetryWithBackoff[T any](ctx context.Context, b Backoff, fn func(context.Context) (T, error)) (T, error) {
	maxTries := b.MaxTries
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
		if b.Retryable != nil && !b.Retryable(err) {
			return zero, err
		}
		if i == maxTries-1 {
			break
		}
		if err := Sleep(ctx, b.Delay(i)); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// RetryErrWithContext is RetryWithBackoff for functions without a result.
func RetryErrWithContext(ctx context.Context, b Backoff, fn func(context.Context) error) error {
	_, err := RetryWithBackoff(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
