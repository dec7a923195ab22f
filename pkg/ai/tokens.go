package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const tokenEncoding = "o200k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens returns the o200k token count of s. When the encoding cannot be
// loaded it falls back to a rough four-bytes-per-token estimate.
func CountTokens(s string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding(tokenEncoding)
		if err == nil {
			enc = e
		}
	})
	if enc == nil {
		return (len(s) + 3) / 4
	}
	return len(enc.Encode(s, nil, nil))
}

// CountMessageTokens sums CountTokens over the message bodies plus a small
// per-message overhead for role framing.
func CountMessageTokens(system []string, messages []ChatMessage) int {
	total := 0
	for _, s := range system {
		total += CountTokens(s) + 4
	}
	for _, m := range messages {
		total += CountTokens(m.Message) + 4
	}
	return total
}
