// Package cache stores answer envelopes keyed by normalized question text.
// Writes are last-writer-wins; a cached value is always a complete envelope.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
)

// AnswerCache is read-many, write-rare.
type AnswerCache interface {
	Get(ctx context.Context, key string) (*common.Answer, bool, error)
	Set(ctx context.Context, key string, answer common.Answer, ttl time.Duration) error
	// InvalidatePrefix drops every entry whose key starts with prefix and
	// returns how many were removed. An empty prefix clears the cache.
	InvalidatePrefix(ctx context.Context, prefix string) (int, error)
}

// Key normalizes a question for cache lookups: case and accents are folded,
// whitespace collapsed and surrounding punctuation removed.
func Key(text string) string {
	return strings.Trim(util.Fold(text), " ¿?¡!.,;:")
}
