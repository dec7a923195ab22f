// Package extract turns the analytic summary of each document into typed
// relations between named entities. The LLM extractor is the primary
// source; the heuristic extractor fills the same table from sentence
// co-mentions.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/ai"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ErrRateLimited is returned when the provider kept rejecting a document
// after every rate-limit backoff.
var ErrRateLimited = errors.New("extraction rate limited")

// Config controls the LLM extractor.
type Config struct {
	Model            string
	CharBudget       int
	RateLimitRetries int
	RateLimitBase    time.Duration
}

// ConfigFromEnv reads AI_EXTRACT_MODEL, EXTRACT_CHAR_BUDGET,
// EXTRACT_RATE_RETRIES and EXTRACT_RATE_BACKOFF.
func ConfigFromEnv() Config {
	return Config{
		Model:            util.GetEnvString("AI_EXTRACT_MODEL", util.GetEnv("AI_CHAT_MODEL")),
		CharBudget:       util.GetEnvInt("EXTRACT_CHAR_BUDGET", 6000),
		RateLimitRetries: util.GetEnvInt("EXTRACT_RATE_RETRIES", 5),
		RateLimitBase:    util.GetEnvDuration("EXTRACT_RATE_BACKOFF", 2*time.Second),
	}
}

// Func extracts the relations of one document. Both extractors satisfy it.
type Func func(ctx context.Context, doc common.Document) ([]common.ExtractedRelation, error)

// Extractor asks the LLM for the relations stated in a document summary.
type Extractor struct {
	llm    ai.LLMClient
	policy ai.RetryPolicy
	lex    *lexicon.Lexicon
	cfg    Config
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(llm ai.LLMClient, policy ai.RetryPolicy, lex *lexicon.Lexicon, cfg Config) *Extractor {
	if cfg.CharBudget <= 0 {
		cfg.CharBudget = 6000
	}
	if cfg.RateLimitRetries < 0 {
		cfg.RateLimitRetries = 0
	}
	if cfg.RateLimitBase <= 0 {
		cfg.RateLimitBase = 2 * time.Second
	}
	return &Extractor{llm: llm, policy: policy, lex: lex, cfg: cfg, sleep: util.Sleep}
}

// Extract returns the validated relations of doc with method "llm". A
// document without a summary yields no relations.
func (e *Extractor) Extract(ctx context.Context, doc common.Document) ([]common.ExtractedRelation, error) {
	summary := strings.TrimSpace(doc.AnalyticSummary)
	if summary == "" {
		return []common.ExtractedRelation{}, nil
	}
	summary = util.Truncate(summary, e.cfg.CharBudget)

	prompt := fmt.Sprintf(ai.ExtractRelationsPrompt,
		strings.Join(common.RecognizedKinds, ", "), doc.Filename, summary)
	msgs := []ai.ChatMessage{{Role: "user", Message: prompt}}
	opts := []ai.GenerateOption{ai.WithTemperature(0)}
	if e.cfg.Model != "" {
		opts = append(opts, ai.WithModel(e.cfg.Model))
	}

	// Rate limits get the longer backoff below; the policy only retries
	// transport and decode failures.
	policy := e.policy.Except(ai.IsRateLimit)
	var res relationResponse
	for attempt := 0; ; attempt++ {
		res = relationResponse{}
		err := ai.ChatJSON(ctx, e.llm, policy, "extract_relations",
			"Typed relations stated in a judicial document summary.", msgs, &res, opts...)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !ai.IsRateLimit(err) {
			return nil, fmt.Errorf("extract %s: %w", doc.ID, err)
		}
		if attempt >= e.cfg.RateLimitRetries {
			return nil, fmt.Errorf("extract %s: %w: %v", doc.ID, ErrRateLimited, err)
		}
		wait := e.cfg.RateLimitBase * time.Duration(1<<attempt)
		logger.Warn("[Extract] rate limited, backing off", "document", doc.ID, "attempt", attempt+1, "wait", wait)
		if err := e.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	rels := Validate(e.lex, doc.ID, common.MethodLLM, res.Relations)
	logger.Debug("[Extract] document extracted", "document", doc.ID, "candidates", len(res.Relations), "kept", len(rels))
	return rels, nil
}

const runIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewRunID returns "<UTC timestamp>-<random>", so ids sort chronologically.
func NewRunID(now time.Time) (string, error) {
	suffix, err := gonanoid.Generate(runIDAlphabet, 8)
	if err != nil {
		return "", err
	}
	return now.UTC().Format("20060102T150405Z") + "-" + suffix, nil
}
