package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type scriptedClient struct {
	replies []string
	errs    []error
	calls   int
	opts    []GenerateOptions
}

func (s *scriptedClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (s *scriptedClient) GenerateChat(ctx context.Context, messages []ChatMessage, opts ...GenerateOption) (string, error) {
	i := s.calls
	s.calls++
	s.opts = append(s.opts, ApplyOptions(GenerateOptions{}, opts...))
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	reply := ""
	if i < len(s.replies) {
		reply = s.replies[i]
	}
	return reply, err
}

func TestChatJSONRetriesMalformedOutput(t *testing.T) {
	client := &scriptedClient{replies: []string{"no json at all <<<", `{"relations": [{"source": "Ana"}]}`}}
	var out struct {
		Relations []struct {
			Source string `json:"source"`
		} `json:"relations"`
	}
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	err := ChatJSON(context.Background(), client, p, "relations", "test", []ChatMessage{{Role: "user", Message: "x"}}, &out)
	if err != nil {
		t.Fatalf("ChatJSON error = %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", client.calls)
	}
	if len(out.Relations) != 1 || out.Relations[0].Source != "Ana" {
		t.Fatalf("unexpected decode: %+v", out)
	}
	if client.opts[0].Format == nil || client.opts[0].Format.Name != "relations" {
		t.Fatalf("schema option not forwarded: %+v", client.opts[0])
	}
}

func TestChatGivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("upstream down")
	client := &scriptedClient{errs: []error{boom, boom, boom, boom}}
	_, err := Chat(context.Background(), client, RetryPolicy{MaxAttempts: 3}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", client.calls)
	}
}

func TestIsRateLimit(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("%w: slow down", ErrRateLimited), true},
		{errors.New("POST /v1/chat: 429 Too Many Requests"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("bad request"), false},
	}
	for _, tc := range tests {
		if got := IsRateLimit(tc.err); got != tc.want {
			t.Fatalf("IsRateLimit(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)) {
		t.Fatal("deadline must count as timeout")
	}
	if IsTimeout(errors.New("other")) {
		t.Fatal("plain error is not a timeout")
	}
}

func TestCountTokensNonZero(t *testing.T) {
	if CountTokens("") != 0 {
		t.Fatal("empty string has no tokens")
	}
	if CountTokens("La Unión Patriótica fue perseguida sistemáticamente.") <= 0 {
		t.Fatal("expected positive token count")
	}
	if CountMessageTokens([]string{"a"}, []ChatMessage{{Message: "b"}}) < 8 {
		t.Fatal("expected per-message overhead")
	}
}

func TestExceptHandsBackExcludedErrors(t *testing.T) {
	limited := fmt.Errorf("openai: %w", ErrRateLimited)
	p := RetryPolicy{MaxAttempts: 3}.Except(IsRateLimit)

	client := &scriptedClient{errs: []error{limited, limited, limited}}
	if _, err := Chat(context.Background(), client, p, []ChatMessage{{Role: "user", Message: "x"}}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Chat = %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("excluded error retried: %d calls", client.calls)
	}

	client = &scriptedClient{errs: []error{errors.New("connection reset"), nil}, replies: []string{"", "ok"}}
	got, err := Chat(context.Background(), client, p, []ChatMessage{{Role: "user", Message: "x"}})
	if err != nil || got != "ok" || client.calls != 2 {
		t.Fatalf("Chat = %q, %v after %d calls", got, err, client.calls)
	}
}
