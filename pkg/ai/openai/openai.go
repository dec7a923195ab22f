package openai

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// OpenAIClient implements ai.LLMClient against any OpenAI-compatible API.
// Embeddings and chat may point at different endpoints.
//
// An OpenAIClient should be created using NewOpenAIClient.
type OpenAIClient struct {
	embeddingModel string
	chatModel      string
	dimensions     int
	timeout        time.Duration

	chatURL string

	reqLock *semaphore.Weighted

	ai.Meter

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewOpenAIClientParams defines the configuration for NewOpenAIClient.
//
// EmbeddingModel specifies the model used for embeddings and ChatModel the
// default model for chat completions (callers may override it per request
// with ai.WithModel). Dimensions fixes the embedding length; vectors are
// truncated or zero-padded to it so they fit the index column.
type NewOpenAIClientParams struct {
	EmbeddingModel string
	ChatModel      string
	Dimensions     int

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	Timeout               time.Duration
	MaxConcurrentRequests int64
}

// NewOpenAIClient creates a client with separate OpenAI clients for
// embeddings and chat.
//
// Example:
//
//	client := openai.NewOpenAIClient(openai.NewOpenAIClientParams{
//		EmbeddingModel: "text-embedding-3-small",
//		ChatModel:      "gpt-4o-mini",
//		Dimensions:     1536,
//		EmbeddingKey:   os.Getenv("AI_EMBED_KEY"),
//		ChatKey:        os.Getenv("AI_CHAT_KEY"),
//	})
func NewOpenAIClient(params NewOpenAIClientParams) *OpenAIClient {
	if params.Timeout <= 0 {
		params.Timeout = 2 * time.Minute
	}
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 8
	}

	return &OpenAIClient{
		embeddingModel: params.EmbeddingModel,
		chatModel:      params.ChatModel,
		dimensions:     params.Dimensions,
		timeout:        params.Timeout,

		chatURL: params.ChatURL,

		reqLock: semaphore.NewWeighted(params.MaxConcurrentRequests),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are owned by ai.RetryPolicy
		option.WithMaxRetries(0),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

// wrapError tags provider rate-limit responses with ai.ErrRateLimited.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ai.ErrRateLimited, err)
	}
	return err
}
