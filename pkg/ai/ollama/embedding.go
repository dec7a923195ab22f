package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/indaga/backend/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model on Ollama.
//
// Blank input yields a zero vector of the configured dimension. Longer
// vectors are truncated and shorter ones zero-padded to that dimension.
func (c *OllamaClient) GenerateEmbedding(
	ctx context.Context,
	input []byte,
) ([]float32, error) {
	if len(strings.TrimSpace(string(input))) == 0 {
		return make([]float32, c.dimensions), nil
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: string(input),
	}

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(rCtx, req)
	if err != nil {
		return nil, wrapError(err)
	}

	c.RecordEmbedding(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	if len(res.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned by model %s", c.embeddingModel)
	}
	dim := c.dimensions
	if dim <= 0 {
		dim = len(res.Embeddings[0])
	}
	out := make([]float32, dim)
	copy(out, res.Embeddings[0])
	return out, nil
}
