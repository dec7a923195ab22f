package ai

import (
	"context"
	"errors"
)

// ErrRateLimited is wrapped by adapters when the provider rejects a request
// with a rate-limit status. Callers back off longer on it.
var ErrRateLimited = errors.New("llm rate limited")

// ChatMessage represents a single message in a chat conversation.
//
// Role must be one of:
//   - "user"      → a user-provided message
//   - "assistant" → a message from the AI assistant
type ChatMessage struct {
	Message string `json:"message"`
	Role    string `json:"role"`
}

// JSONFormat asks the model for output that validates against Schema.
type JSONFormat struct {
	Name        string
	Description string
	Schema      any
}

// GenerateOptions holds configuration for AI generation requests.
type GenerateOptions struct {
	Model         string      // Model identifier to use for generation
	SystemPrompts []string    // System prompts prepended to the request
	Temperature   float64     // Sampling temperature (0.0-2.0)
	Thinking      string      // Extended thinking mode configuration
	MaxTokens     int         // Upper bound on generated tokens; 0 leaves it to the provider
	Format        *JSONFormat // Structured output schema, nil for free text
}

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
	ChatCalls      int     `json:"chat_calls"`
	EmbeddingCalls int     `json:"embedding_calls"`
}

// GenerateOption is a functional option for configuring AI generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel returns a GenerateOption that sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts returns a GenerateOption that sets the system prompts
// to prepend to the generation request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature returns a GenerateOption that sets the sampling temperature.
// Higher values (e.g., 1.0) produce more random outputs, while lower values
// (e.g., 0.2) make outputs more focused and deterministic.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithThinking returns a GenerateOption that enables extended thinking mode.
func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}

// WithMaxTokens caps the number of generated tokens.
func WithMaxTokens(n int) GenerateOption {
	return func(o *GenerateOptions) {
		o.MaxTokens = n
	}
}

// WithJSONSchema requests structured output shaped like out. The schema is
// reflected from out's type with GenerateSchema.
func WithJSONSchema(name, description string, out any) GenerateOption {
	return func(o *GenerateOptions) {
		o.Format = &JSONFormat{
			Name:        name,
			Description: description,
			Schema:      GenerateSchema(out),
		}
	}
}

// ApplyOptions folds opts over base.
func ApplyOptions(base GenerateOptions, opts ...GenerateOption) GenerateOptions {
	for _, o := range opts {
		o(&base)
	}
	return base
}

// LLMClient is the capability the extractor, retriever and orchestrator
// depend on: text embeddings and chat completions.
type LLMClient interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
	GenerateChat(ctx context.Context, messages []ChatMessage, opts ...GenerateOption) (string, error)
}

// MetricsReporter is implemented by clients that track token usage.
type MetricsReporter interface {
	ResetMetrics()
	GetMetrics() ModelMetrics
}

// Metrics returns the client's accumulated usage, or zero metrics when the
// client does not track any.
func Metrics(c LLMClient) ModelMetrics {
	if r, ok := c.(MetricsReporter); ok {
		return r.GetMetrics()
	}
	return ModelMetrics{}
}
