package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model.
//
// Blank input yields a zero vector of the configured dimension without a
// request.
func (c *OpenAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if len(strings.TrimSpace(string(input))) == 0 {
		return make([]float32, c.dimensions), nil
	}
	if c.EmbeddingClient == nil {
		return nil, errors.New("embedding client not configured")
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{string(input)}},
		Model: c.embeddingModel,
	}

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(rCtx, body)
	if err != nil {
		return nil, wrapError(err)
	}

	c.RecordEmbedding(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != 1 {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want 1", len(response.Data))
	}
	return fitDimensions(response.Data[0].Embedding, c.dimensions), nil
}

// fitDimensions converts to float32 and truncates or zero-pads to dim.
// dim <= 0 keeps the provider's length.
func fitDimensions(values []float64, dim int) []float32 {
	if dim <= 0 {
		dim = len(values)
	}
	vec := make([]float32, dim)
	for i := 0; i < dim && i < len(values); i++ {
		vec[i] = float32(values[i])
	}
	return vec
}
