// Package retrieval finds evidence passages for a question and assembles
// them into a citable prompt context.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/ai"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"
	"github.com/OFFIS-RIT/indaga/backend/pkg/store"
)

// ErrNoEvidence is returned when every backend came back empty or failed.
var ErrNoEvidence = errors.New("no sufficient evidence")

// Backend names accepted in RETRIEVAL_BACKENDS.
const (
	BackendChunks   = "chunks"
	BackendFullText = "fulltext"
)

type Config struct {
	K             int
	MinChunks     int
	Backends      []string
	ContextTokens int
	ExcerptChars  int
}

func ConfigFromEnv() Config {
	return Config{
		K:             util.GetEnvInt("RETRIEVAL_K", 8),
		MinChunks:     util.GetEnvInt("RETRIEVAL_MIN_CHUNKS", 3),
		Backends:      util.GetEnvList("RETRIEVAL_BACKENDS", []string{BackendChunks, BackendFullText}),
		ContextTokens: util.GetEnvInt("RETRIEVAL_CONTEXT_TOKENS", 6000),
		ExcerptChars:  util.GetEnvInt("RETRIEVAL_EXCERPT_CHARS", 1200),
	}
}

type Retriever struct {
	llm    ai.LLMClient
	policy ai.RetryPolicy
	search store.ChunkSearcher
	cfg    Config
}

func New(llm ai.LLMClient, policy ai.RetryPolicy, search store.ChunkSearcher, cfg Config) *Retriever {
	if cfg.K <= 0 {
		cfg.K = 8
	}
	if cfg.MinChunks <= 0 {
		cfg.MinChunks = 1
	}
	backends := make([]string, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		switch b {
		case BackendChunks, BackendFullText:
			if !slices.Contains(backends, b) {
				backends = append(backends, b)
			}
		default:
			logger.Warn("[Retrieval] ignoring unknown backend", "backend", b)
		}
	}
	if len(backends) == 0 {
		backends = []string{BackendChunks, BackendFullText}
	}
	cfg.Backends = backends
	return &Retriever{llm: llm, policy: policy, search: search, cfg: cfg}
}

func (r *Retriever) Config() Config {
	return r.cfg
}

// Result carries the retrieved chunks and which backends produced them.
// Degraded is set when an embedding or search call failed along the way.
type Result struct {
	Chunks   []common.Chunk
	Backends []string
	Degraded bool
}

// Retrieve embeds text and queries the configured backends in order until
// at least MinChunks distinct passages are found. Chunks are deduplicated by
// (document_id, paragraph) and capped at k; k <= 0 uses the configured K.
func (r *Retriever) Retrieve(ctx context.Context, text string, k int, filters common.FilterSet) (Result, error) {
	if k <= 0 {
		k = r.cfg.K
	}
	res := Result{Chunks: []common.Chunk{}, Backends: []string{}}

	embedding, err := ai.Embed(ctx, r.llm, r.policy, text)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		logger.Warn("[Retrieval] embedding failed, continuing without dense search", "err", err)
		res.Degraded = true
		embedding = nil
	}

	seen := make(map[string]struct{})
	for _, backend := range r.cfg.Backends {
		var (
			hits []common.Chunk
			err  error
		)
		switch backend {
		case BackendChunks:
			hits, err = r.search.SearchChunks(ctx, text, embedding, filters, k)
		case BackendFullText:
			hits, err = r.search.SearchFullText(ctx, text, filters, k)
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			logger.Warn("[Retrieval] backend failed, falling back", "backend", backend, "err", err)
			res.Degraded = true
			continue
		}

		added := 0
		for _, c := range hits {
			key := dedupeKey(c)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			res.Chunks = append(res.Chunks, c)
			added++
		}
		if added > 0 {
			res.Backends = append(res.Backends, backend)
		}
		logger.Debug("[Retrieval] backend done", "backend", backend, "hits", len(hits), "added", added)
		if len(res.Chunks) >= r.cfg.MinChunks {
			break
		}
	}

	if len(res.Chunks) > k {
		res.Chunks = res.Chunks[:k]
	}
	if len(res.Chunks) == 0 {
		return res, ErrNoEvidence
	}
	return res, nil
}

func dedupeKey(c common.Chunk) string {
	return fmt.Sprintf("%s|%d", c.DocumentID, c.Paragraph)
}
