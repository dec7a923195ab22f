// Package rag answers questions from retrieved evidence. It owns the answer
// cache, the materialized-view shortcut, LLM synthesis under the citation
// contract, and persistence of the query/answer/feedback trail.
package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/ai"
	"github.com/OFFIS-RIT/indaga/backend/pkg/cache"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"
	"github.com/OFFIS-RIT/indaga/backend/pkg/retrieval"
	"github.com/OFFIS-RIT/indaga/backend/pkg/store"
)

// Classification labels handled here. STRUCTURED and HYBRID come from the
// router; FREQUENT is resolved from materialized views.
const (
	KindFrequent   = "FREQUENT"
	KindSemantic   = "SEMANTIC"
	KindHybrid     = "HYBRID"
	KindStructured = "STRUCTURED"
)

// Prompt modes.
const (
	ModeAnalytic   = "analytic"
	ModeHypothesis = "hypothesis"
	ModeDossier    = "dossier"
)

// Retriever is the semantic retriever as seen by the orchestrator.
type Retriever interface {
	Retrieve(ctx context.Context, text string, k int, filters common.FilterSet) (retrieval.Result, error)
}

type Options struct {
	CacheTTL           time.Duration
	CacheMinConfidence float64
	ContextTokens      int
	ExcerptChars       int
	ChatModel          string
	Temperature        float64
	// ReviewMaxMean and ReviewMinRatings flag chronically unsatisfying queries.
	ReviewMaxMean    float64
	ReviewMinRatings int
}

func OptionsFromEnv() Options {
	return Options{
		CacheTTL:           util.GetEnvDuration("CACHE_TTL", time.Hour),
		CacheMinConfidence: util.GetEnvNumeric("CACHE_MIN_CONFIDENCE_PCT", 80) / 100,
		ContextTokens:      util.GetEnvInt("RETRIEVAL_CONTEXT_TOKENS", 6000),
		ExcerptChars:       util.GetEnvInt("RETRIEVAL_EXCERPT_CHARS", 1200),
		ChatModel:          util.GetEnv("AI_CHAT_MODEL"),
		Temperature:        util.GetEnvNumeric("AI_CHAT_TEMPERATURE_PCT", 20) / 100,
		ReviewMaxMean:      2.5,
		ReviewMinRatings:   2,
	}
}

type Deps struct {
	LLM       ai.LLMClient
	Policy    ai.RetryPolicy
	Retriever Retriever
	Cache     cache.AnswerCache
	Views     store.ViewStore
	Records   store.RecordStore
	Lexicon   *lexicon.Lexicon
}

type Orchestrator struct {
	llm       ai.LLMClient
	policy    ai.RetryPolicy
	retriever Retriever
	cache     cache.AnswerCache
	views     store.ViewStore
	records   store.RecordStore
	lex       *lexicon.Lexicon
	opts      Options
	now       func() time.Time
}

func New(d Deps, opts Options) *Orchestrator {
	if d.Lexicon == nil {
		d.Lexicon = lexicon.Default()
	}
	if opts.CacheMinConfidence <= 0 {
		opts.CacheMinConfidence = 0.8
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.ReviewMaxMean <= 0 {
		opts.ReviewMaxMean = 2.5
	}
	if opts.ReviewMinRatings <= 0 {
		opts.ReviewMinRatings = 2
	}
	return &Orchestrator{
		llm:       d.LLM,
		policy:    d.Policy,
		retriever: d.Retriever,
		cache:     d.Cache,
		views:     d.Views,
		records:   d.Records,
		lex:       d.Lexicon,
		opts:      opts,
		now:       time.Now,
	}
}

// Request is one user turn as seen by the orchestrator.
type Request struct {
	Text      string
	UserID    string
	SessionID string
	Filters   common.FilterSet
	// Classification is the label persisted with the query. Empty means the
	// orchestrator classifies the text itself.
	Classification string
	// PersonOfInterest switches synthesis to the dossier prompt.
	PersonOfInterest string
	// RewrittenFrom is the user's original text when the turn was rewritten.
	RewrittenFrom string
}

// Synthesis is the outcome of the semantic leg.
type Synthesis struct {
	Text       string
	Confidence float64
	Sources    []common.Source
	Method     common.ResolutionMethod
	Mode       string
}

// Answer runs the whole pipeline for one question:
// NEW, CACHE_CHECK, then CACHED or CLASSIFY followed by FREQUENT_RESOLVE or
// SEMANTIC_RETRIEVE and LLM_SYNTHESIZE, then PERSIST and DONE. Failures move
// to ERROR_RESPOND and are persisted like any other turn. The returned error
// is non-nil only when ctx ended; the answer is still well formed.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (common.Answer, error) {
	trace := NewTrace()
	if cached, ok := o.Cached(ctx, req, trace); ok {
		return o.Finish(ctx, req, cached, trace), nil
	}

	RecordState(trace, StateClassify)
	label := req.Classification
	if view, ok := o.lex.FrequentView(req.Text); ok {
		ans, err := o.ResolveFrequent(ctx, view, trace)
		if err == nil {
			return o.Finish(ctx, req, ans, trace), nil
		}
		logger.Warn("[RAG] materialized view failed", "view", view, "err", err)
		return o.Finish(ctx, req, o.ErrorAnswer(KindFrequent, trace), trace), ctx.Err()
	}
	if label == "" {
		label = KindSemantic
	}

	syn := o.Synthesize(ctx, req, trace)
	ans := common.Answer{
		Classification:   label,
		ResolutionMethod: syn.Method,
		AnswerText:       syn.Text,
		Confidence:       syn.Confidence,
		Sources:          syn.Sources,
	}
	return o.Finish(ctx, req, ans, trace), ctx.Err()
}

// Cached looks the question up in the answer cache. Only entries with
// enough confidence count as hits; a hit is returned with resolution
// "cache" and the cached text untouched.
func (o *Orchestrator) Cached(ctx context.Context, req Request, trace *Trace) (common.Answer, bool) {
	RecordState(trace, StateCacheCheck)
	if o.cache == nil {
		return common.Answer{}, false
	}
	hit, ok, err := o.cache.Get(ctx, CacheKey(req.Text, req.Filters))
	if err != nil {
		logger.Warn("[RAG] cache lookup failed", "err", err)
		return common.Answer{}, false
	}
	if !ok || hit == nil || hit.Confidence < o.opts.CacheMinConfidence {
		return common.Answer{}, false
	}
	RecordState(trace, StateCached)
	ans := *hit
	ans.QueryID = 0
	ans.AnswerID = 0
	ans.ResolutionMethod = common.ResolutionCache
	return ans, true
}

// FrequentView reports whether text maps to a materialized aggregation.
func (o *Orchestrator) FrequentView(text string) (string, bool) {
	return o.lex.FrequentView(text)
}

// ResolveFrequent answers from a materialized view without retrieval.
func (o *Orchestrator) ResolveFrequent(ctx context.Context, view string, trace *Trace) (common.Answer, error) {
	RecordState(trace, StateFrequentResolve)
	RecordNote(trace, "view", view)
	if o.views == nil {
		return common.Answer{}, errors.New("no view store configured")
	}
	res, err := o.views.FrequentView(ctx, view)
	if err != nil {
		return common.Answer{}, err
	}
	return common.Answer{
		Classification:   KindFrequent,
		ResolutionMethod: common.ResolutionMaterialized,
		AnswerText:       viewProse(res),
		Confidence:       MaxMaterializedConfidence,
		Sources:          []common.Source{},
	}, nil
}

// Synthesize retrieves evidence and asks the LLM for a cited answer. It never
// fails: no evidence yields the insufficient-evidence answer, an exhausted
// LLM yields an extractive fallback, and a cancelled ctx yields the error
// answer.
func (o *Orchestrator) Synthesize(ctx context.Context, req Request, trace *Trace) Synthesis {
	mode := o.mode(req)
	RecordNote(trace, "mode", mode)
	RecordState(trace, StateSemanticRetrieve)

	res, err := o.retriever.Retrieve(ctx, req.Text, 0, req.Filters)
	if res.Degraded {
		RecordNote(trace, "retrieval", "degraded")
	}
	if len(res.Backends) > 0 {
		RecordNote(trace, "backends", strings.Join(res.Backends, ","))
	}
	if err != nil {
		if ctx.Err() != nil || !errors.Is(err, retrieval.ErrNoEvidence) {
			logger.Error("[RAG] retrieval failed", "err", err)
			return o.errorSynthesis(mode, trace)
		}
		logger.Info("[RAG] no evidence", "mode", mode)
		return Synthesis{
			Text:       ai.NoEvidenceAnswer,
			Confidence: NoEvidenceConfidence,
			Sources:    []common.Source{},
			Method:     common.ResolutionSemantic,
			Mode:       mode,
		}
	}

	contextText, sources := retrieval.BuildContext(res.Chunks, o.opts.ContextTokens, o.opts.ExcerptChars)
	RecordConsideredSourceIDs(trace, sourceIDs(sources, nil)...)

	RecordState(trace, StateLLMSynthesize)
	reply, err := o.chat(ctx, trace, o.prompt(mode, contextText, req))
	if err != nil {
		if ctx.Err() != nil {
			return o.errorSynthesis(mode, trace)
		}
		logger.Warn("[RAG] synthesis failed, serving extractive fallback", "err", err)
		text, used := EnforceCitations(fallbackText(sources), sources)
		RecordUsedSourceIDs(trace, sourceIDs(sources, used)...)
		return Synthesis{
			Text:       text,
			Confidence: fallbackConfidence(sources),
			Sources:    sources,
			Method:     common.ResolutionFallback,
			Mode:       mode,
		}
	}

	text, used := EnforceCitations(reply, sources)
	RecordUsedSourceIDs(trace, sourceIDs(sources, used)...)
	return Synthesis{
		Text:       text,
		Confidence: semanticConfidence(sources),
		Sources:    sources,
		Method:     common.ResolutionSemantic,
		Mode:       mode,
	}
}

// ErrorAnswer is the well-formed empty-evidence envelope of ERROR_RESPOND.
func (o *Orchestrator) ErrorAnswer(label string, trace *Trace) common.Answer {
	RecordState(trace, StateErrorRespond)
	return common.Answer{
		Classification:   label,
		ResolutionMethod: common.ResolutionError,
		AnswerText:       ai.ErrorAnswer,
		Confidence:       0,
		Sources:          []common.Source{},
	}
}

func (o *Orchestrator) errorSynthesis(mode string, trace *Trace) Synthesis {
	ans := o.ErrorAnswer("", trace)
	return Synthesis{Text: ans.AnswerText, Sources: ans.Sources, Method: ans.ResolutionMethod, Mode: mode}
}

// Finish persists the turn, writes cacheable answers through to the cache
// and stamps ids and latency on the returned envelope. Persistence runs
// even when ctx has ended so partial turns still leave a trace.
func (o *Orchestrator) Finish(ctx context.Context, req Request, ans common.Answer, trace *Trace) common.Answer {
	RecordState(trace, StatePersist)
	if ans.Sources == nil {
		ans.Sources = []common.Source{}
	}
	if ctx.Err() != nil && ans.ResolutionMethod != common.ResolutionError {
		ans = o.ErrorAnswer(ans.Classification, trace)
	}
	if req.RewrittenFrom != "" {
		ans.RewrittenQuestion = req.Text
		RecordNote(trace, "rewritten_from", req.RewrittenFrom)
	}
	ans.LatencyMs = trace.Elapsed().Milliseconds()

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if o.cacheable(ans) {
		if err := o.cache.Set(persistCtx, CacheKey(req.Text, req.Filters), ans, o.opts.CacheTTL); err != nil {
			logger.Warn("[RAG] cache write failed", "err", err)
		}
	}

	if o.records != nil {
		q := common.QueryRecord{
			UserID:           req.UserID,
			SessionID:        req.SessionID,
			Text:             req.Text,
			Timestamp:        o.now(),
			Classification:   ans.Classification,
			ResolutionMethod: ans.ResolutionMethod,
			LatencyMs:        ans.LatencyMs,
		}
		RecordState(trace, StateDone)
		a := common.AnswerRecord{
			Text:              ans.AnswerText,
			Confidence:        ans.Confidence,
			Sources:           ans.Sources,
			LLMMetadata:       trace.JSON(),
			StructuredPayload: ans.StructuredPayload,
		}
		queryID, answerID, err := o.records.SaveTurn(persistCtx, q, a)
		if err != nil {
			logger.Error("[RAG] failed to persist turn", "err", err)
		} else {
			ans.QueryID, ans.AnswerID = queryID, answerID
		}
	} else {
		RecordState(trace, StateDone)
	}

	logger.Info("[RAG] turn done",
		"query_id", ans.QueryID,
		"classification", ans.Classification,
		"resolution", ans.ResolutionMethod,
		"confidence", fmt.Sprintf("%.2f", ans.Confidence),
		"sources", len(ans.Sources),
		"latency_ms", ans.LatencyMs,
	)
	return ans
}

// cacheable: semantic-only answers and degraded answers are never cached.
func (o *Orchestrator) cacheable(ans common.Answer) bool {
	if o.cache == nil || ans.Classification == KindSemantic {
		return false
	}
	switch ans.ResolutionMethod {
	case common.ResolutionCache, common.ResolutionError, common.ResolutionFallback:
		return false
	}
	return ans.Confidence >= o.opts.CacheMinConfidence
}

// RecordFeedback stores a 1..5 rating for an answer.
func (o *Orchestrator) RecordFeedback(ctx context.Context, f common.FeedbackRecord) (int64, error) {
	if f.Rating < 1 || f.Rating > 5 {
		return 0, fmt.Errorf("rating must be between 1 and 5, got %d", f.Rating)
	}
	for aspect, r := range f.PerAspect {
		if r < 1 || r > 5 {
			return 0, fmt.Errorf("rating for %q must be between 1 and 5, got %d", aspect, r)
		}
	}
	if o.records == nil {
		return 0, errors.New("no record store configured")
	}
	return o.records.SaveFeedback(ctx, f)
}

// LowSatisfaction lists query texts whose answers are chronically rated low.
func (o *Orchestrator) LowSatisfaction(ctx context.Context, limit int) ([]common.LowSatisfaction, error) {
	if o.records == nil {
		return nil, errors.New("no record store configured")
	}
	if limit <= 0 {
		limit = 50
	}
	return o.records.LowSatisfaction(ctx, o.opts.ReviewMaxMean, o.opts.ReviewMinRatings, limit)
}

// InvalidateCache drops cached answers whose question starts with prefix.
func (o *Orchestrator) InvalidateCache(ctx context.Context, prefix string) (int, error) {
	if o.cache == nil {
		return 0, nil
	}
	return o.cache.InvalidatePrefix(ctx, cache.Key(prefix))
}

// CacheKey is the normalized question, qualified by the filters when any
// are set.
func CacheKey(text string, filters common.FilterSet) string {
	key := cache.Key(text)
	if filters.IsEmpty() && filters.Page == 0 && filters.PageSize == 0 {
		return key
	}
	raw, err := json.Marshal(filters)
	if err != nil {
		return key
	}
	return key + "|" + util.Fold(string(raw))
}

func (o *Orchestrator) mode(req Request) string {
	switch {
	case req.PersonOfInterest != "":
		return ModeDossier
	case o.lex.IsHypothesisRequest(req.Text):
		return ModeHypothesis
	}
	return ModeAnalytic
}

func (o *Orchestrator) prompt(mode, contextText string, req Request) string {
	switch mode {
	case ModeDossier:
		return fmt.Sprintf(ai.DossierPrompt, contextText, req.PersonOfInterest)
	case ModeHypothesis:
		return fmt.Sprintf(ai.HypothesisPrompt, contextText, req.Text)
	}
	return fmt.Sprintf(ai.AnalyticPrompt, contextText, req.Text)
}

func (o *Orchestrator) chat(ctx context.Context, trace *Trace, prompt string) (string, error) {
	messages := []ai.ChatMessage{{Role: "user", Message: prompt}}
	opts := []ai.GenerateOption{
		ai.WithSystemPrompts(ai.CitationSystemPrompt),
		ai.WithTemperature(o.opts.Temperature),
	}
	if o.opts.ChatModel != "" {
		opts = append(opts, ai.WithModel(o.opts.ChatModel))
	}

	start := o.now()
	reply, err := ai.Chat(ctx, o.llm, o.policy, messages, opts...)
	event := TraceEvent{
		Kind:         TraceEventLLMCall,
		Op:           "chat",
		Model:        o.opts.ChatModel,
		PromptTokens: ai.CountMessageTokens([]string{ai.CitationSystemPrompt}, messages),
		OutputTokens: ai.CountTokens(reply),
		DurationMs:   o.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	trace.Record(event)
	if err == nil && strings.TrimSpace(reply) == "" {
		return "", errors.New("empty completion")
	}
	return reply, err
}

// sourceIDs returns the document ids of the given citation indexes, or of
// every source when ids is nil.
func sourceIDs(sources []common.Source, ids []int) []string {
	if ids == nil {
		out := make([]string, 0, len(sources))
		for _, s := range sources {
			out = append(out, s.Key())
		}
		return out
	}
	out := make([]string, 0, len(ids))
	for _, n := range ids {
		if n >= 1 && n <= len(sources) {
			out = append(out, sources[n-1].Key())
		}
	}
	return out
}

const fallbackExcerptChars = 280

// fallbackText lists the best excerpts verbatim when synthesis is unavailable.
func fallbackText(sources []common.Source) string {
	var b strings.Builder
	b.WriteString("No fue posible generar una síntesis en este momento. Estos son los fragmentos más relevantes encontrados en el corpus:\n")
	for _, s := range sources {
		fmt.Fprintf(&b, "\n- %s [CITA-%d]", util.Truncate(s.Excerpt, fallbackExcerptChars), s.CitationID)
	}
	return b.String()
}
