package ai

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"
)

// RetryPolicy is passed by value to every component that talks to the LLM.
// The wait after attempt n is BaseDelay * 2^n, capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	skip func(error) bool
}

// DefaultRetryPolicy reads AI_RETRY_MAX, AI_RETRY_BASE_MS and AI_RETRY_MAX_MS.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: util.GetEnvInt("AI_RETRY_MAX", 3),
		BaseDelay:   time.Duration(util.GetEnvInt("AI_RETRY_BASE_MS", 1000)) * time.Millisecond,
		MaxDelay:    time.Duration(util.GetEnvInt("AI_RETRY_MAX_MS", 30000)) * time.Millisecond,
	}
}

// NoRetry runs a call exactly once.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// Except returns p with errors matching skip handed straight back to the
// caller, for callers that run their own loop for that error class.
func (p RetryPolicy) Except(skip func(error) bool) RetryPolicy {
	p.skip = skip
	return p
}

func (p RetryPolicy) retryable(err error) bool {
	return p.skip == nil || !p.skip(err)
}

func (p RetryPolicy) backoff() util.Backoff {
	return util.Backoff{
		MaxTries:  p.MaxAttempts,
		Base:      p.BaseDelay,
		Max:       p.MaxDelay,
		Retryable: p.retryable,
	}
}

// Do runs fn under the policy. Every error except context cancellation and
// those excluded with Except is retried; callers that parse model output return their parse error from fn
// so malformed JSON is retried too.
func Do[T any](ctx context.Context, p RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	attempt := 0
	return util.RetryWithBackoff(ctx, p.backoff(), func(ctx context.Context) (T, error) {
		attempt++
		res, err := fn(ctx)
		if err != nil && attempt < max(p.MaxAttempts, 1) && p.retryable(err) {
			logger.Warn("[AI] call failed, retrying", "op", op, "attempt", attempt, "err", err)
		}
		return res, err
	})
}

// Chat calls client.GenerateChat under the policy.
func Chat(ctx context.Context, client LLMClient, p RetryPolicy, messages []ChatMessage, opts ...GenerateOption) (string, error) {
	return Do(ctx, p, "chat", func(ctx context.Context) (string, error) {
		return client.GenerateChat(ctx, messages, opts...)
	})
}

// Embed calls client.GenerateEmbedding under the policy.
func Embed(ctx context.Context, client LLMClient, p RetryPolicy, text string) ([]float32, error) {
	return Do(ctx, p, "embed", func(ctx context.Context) ([]float32, error) {
		return client.GenerateEmbedding(ctx, []byte(text))
	})
}

// ChatJSON asks for structured output shaped like out and decodes it with
// UnmarshalFlexible. Decode failures count as failed attempts.
func ChatJSON(ctx context.Context, client LLMClient, p RetryPolicy, name, description string, messages []ChatMessage, out any, opts ...GenerateOption) error {
	opts = append(opts, WithJSONSchema(name, description, out))
	_, err := Do(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		raw, err := client.GenerateChat(ctx, messages, opts...)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, UnmarshalFlexible(raw, out)
	})
	return err
}

// IsRateLimit reports whether err looks like a provider rate-limit rejection.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
