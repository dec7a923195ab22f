// Package aiclient builds the configured LLM client from the environment.
package aiclient

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/ai"
	oai "github.com/OFFIS-RIT/indaga/backend/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/indaga/backend/pkg/ai/openai"
)

const (
	AdapterOpenAI = "openai"
	AdapterOllama = "ollama"
)

// FromEnv returns the client selected by AI_ADAPTER, openai by default.
func FromEnv() (ai.LLMClient, error) {
	timeout := time.Duration(util.GetEnvInt("AI_TIMEOUT_MIN", 2)) * time.Minute
	parallel := int64(util.GetEnvInt("AI_PARALLEL_REQ", 15))
	dims := util.GetEnvInt("AI_EMBED_DIM", 1536)

	switch adapter := util.GetEnvString("AI_ADAPTER", AdapterOpenAI); adapter {
	case AdapterOllama:
		client, err := oai.NewOllamaClient(oai.NewOllamaClientParams{
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			ChatModel:      util.GetEnv("AI_CHAT_MODEL"),
			Dimensions:     dims,

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			Timeout:               timeout,
			MaxConcurrentRequests: parallel,
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return client, nil
	case AdapterOpenAI:
		return gai.NewOpenAIClient(gai.NewOpenAIClientParams{
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			ChatModel:      util.GetEnv("AI_CHAT_MODEL"),
			Dimensions:     dims,

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),

			Timeout:               timeout,
			MaxConcurrentRequests: parallel,
		}), nil
	default:
		return nil, fmt.Errorf("unknown AI_ADAPTER %q", adapter)
	}
}
