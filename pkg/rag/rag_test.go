package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/pkg/ai"
	"github.com/OFFIS-RIT/indaga/backend/pkg/cache"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/retrieval"
	"github.com/OFFIS-RIT/indaga/backend/pkg/store"
)

type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (f *fakeLLM) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return []float32{1}, nil
}

func (f *fakeLLM) GenerateChat(ctx context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range messages {
		f.prompts = append(f.prompts, m.Message)
	}
	return f.reply, f.err
}

type fakeRetriever struct {
	chunks []common.Chunk
	err    error
	calls  int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, text string, k int, filters common.FilterSet) (retrieval.Result, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return retrieval.Result{}, err
	}
	if f.err != nil {
		return retrieval.Result{}, f.err
	}
	return retrieval.Result{Chunks: f.chunks, Backends: []string{retrieval.BackendChunks}}, nil
}

type fakeRecords struct {
	mu        sync.Mutex
	queries   []common.QueryRecord
	answers   []common.AnswerRecord
	feedback  []common.FeedbackRecord
	saveErr   error
	nextQuery int64
}

func (f *fakeRecords) SaveTurn(ctx context.Context, q common.QueryRecord, a common.AnswerRecord) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return 0, 0, f.saveErr
	}
	f.nextQuery++
	f.queries = append(f.queries, q)
	f.answers = append(f.answers, a)
	return f.nextQuery, f.nextQuery + 100, nil
}

func (f *fakeRecords) SaveFeedback(ctx context.Context, fb common.FeedbackRecord) (int64, error) {
	f.feedback = append(f.feedback, fb)
	return int64(len(f.feedback)), nil
}

func (f *fakeRecords) LowSatisfaction(ctx context.Context, maxMean float64, minRatings, limit int) ([]common.LowSatisfaction, error) {
	return []common.LowSatisfaction{{Text: "x", Ratings: minRatings, MeanRating: maxMean}}, nil
}

type fakeViews struct {
	calls int
}

func (f *fakeViews) FrequentView(ctx context.Context, view string) (store.ViewResult, error) {
	f.calls++
	return store.ViewResult{
		View:    view,
		Columns: []string{"documents", "victims", "perpetrators", "relations", "departments"},
		Rows:    [][]any{{int64(1200), int64(840), int64(95), int64(3100), int64(27)}},
	}, nil
}

func evidence() []common.Chunk {
	return []common.Chunk{
		{ID: "1", DocumentID: "doc-1", Filename: "sentencia_up.pdf", Page: 4, Paragraph: 12, Excerpt: "La Unión Patriótica sufrió un exterminio sistemático.", Similarity: 0.86},
		{ID: "2", DocumentID: "doc-2", Filename: "auto_imputacion.pdf", Page: 2, Paragraph: 3, Excerpt: "Los homicidios se concentraron en el Meta.", Similarity: 0.74},
	}
}

type fixture struct {
	llm       *fakeLLM
	retriever *fakeRetriever
	records   *fakeRecords
	views     *fakeViews
	cache     *cache.MemoryCache
	orch      *Orchestrator
}

func newFixture() *fixture {
	f := &fixture{
		llm:       &fakeLLM{reply: "La Unión Patriótica fue objeto de persecución [CITA-1]."},
		retriever: &fakeRetriever{chunks: evidence()},
		records:   &fakeRecords{},
		views:     &fakeViews{},
		cache:     cache.NewMemoryCache(),
	}
	f.orch = New(Deps{
		LLM:       f.llm,
		Policy:    ai.NoRetry,
		Retriever: f.retriever,
		Cache:     f.cache,
		Views:     f.views,
		Records:   f.records,
	}, Options{ContextTokens: 4000, ExcerptChars: 500})
	return f
}

func TestAnswerSemanticEnforcesCitations(t *testing.T) {
	f := newFixture()
	f.llm.reply = "La UP fue perseguida [cita 1]. Hubo homicidios en el Meta [CITA-2] [CITA-9].\n\nREFERENCIAS:\n[CITA-9] inventado.pdf"

	ans, err := f.orch.Answer(context.Background(), Request{Text: "¿Por qué fue perseguida la Unión Patriótica?", UserID: "u1"})
	if err != nil {
		t.Fatalf("Answer error = %v", err)
	}
	if ans.ResolutionMethod != common.ResolutionSemantic {
		t.Fatalf("resolution = %s", ans.ResolutionMethod)
	}
	if strings.Contains(ans.AnswerText, "CITA-9") || strings.Contains(ans.AnswerText, "inventado.pdf") {
		t.Fatalf("invalid citation kept: %q", ans.AnswerText)
	}
	if !strings.Contains(ans.AnswerText, "[CITA-1]") || !strings.Contains(ans.AnswerText, "REFERENCIAS:\n[CITA-1] sentencia_up.pdf, página 4, párrafo 12") {
		t.Fatalf("references not rebuilt: %q", ans.AnswerText)
	}
	if len(ans.Sources) != 2 || ans.Sources[0].CitationID != 1 {
		t.Fatalf("unexpected sources: %+v", ans.Sources)
	}
	if ans.Confidence <= NoEvidenceConfidence || ans.Confidence > MaxLLMConfidence {
		t.Fatalf("confidence out of range: %v", ans.Confidence)
	}
	if ans.QueryID != 1 || ans.AnswerID != 101 {
		t.Fatalf("ids not stamped: %d/%d", ans.QueryID, ans.AnswerID)
	}
	if len(f.records.answers) != 1 {
		t.Fatalf("expected one persisted turn, got %d", len(f.records.answers))
	}
	meta := string(f.records.answers[0].LLMMetadata)
	for _, want := range []string{`"LLM_SYNTHESIZE"`, `"DONE"`, `"doc-1"`, `"op":"chat"`} {
		if !strings.Contains(meta, want) {
			t.Fatalf("llm_metadata missing %s: %s", want, meta)
		}
	}
	if _, ok, _ := f.cache.Get(context.Background(), CacheKey("¿Por qué fue perseguida la Unión Patriótica?", common.FilterSet{})); ok {
		t.Fatal("semantic answers must not be cached")
	}
}

func TestAnswerHypothesisMode(t *testing.T) {
	f := newFixture()
	_, err := f.orch.Answer(context.Background(), Request{
		Text:           "formula hipótesis de investigación sobre la persecución a la Unión Patriótica",
		Classification: KindSemantic,
	})
	if err != nil {
		t.Fatalf("Answer error = %v", err)
	}
	if len(f.llm.prompts) != 1 || !strings.Contains(f.llm.prompts[0], "Formula entre 3 y 5 hipótesis") {
		t.Fatalf("hypothesis prompt not used: %v", f.llm.prompts)
	}
	if !strings.Contains(f.llm.prompts[0], "[CITA-1]\nArchivo: sentencia_up.pdf") {
		t.Fatalf("context not embedded in prompt: %q", f.llm.prompts[0])
	}
}

func TestAnswerDossierMode(t *testing.T) {
	f := newFixture()
	_, _ = f.orch.Answer(context.Background(), Request{Text: "quién es Oswaldo Olivo", PersonOfInterest: "Oswaldo Olivo"})
	if len(f.llm.prompts) != 1 || !strings.Contains(f.llm.prompts[0], "Explica quién es Oswaldo Olivo") {
		t.Fatalf("dossier prompt not used: %v", f.llm.prompts)
	}
}

func TestAnswerNoEvidence(t *testing.T) {
	f := newFixture()
	f.retriever.err = retrieval.ErrNoEvidence

	ans, err := f.orch.Answer(context.Background(), Request{Text: "¿Qué patrón siguen los hechos?"})
	if err != nil {
		t.Fatalf("Answer error = %v", err)
	}
	if ans.AnswerText != ai.NoEvidenceAnswer || len(ans.Sources) != 0 {
		t.Fatalf("unexpected answer: %+v", ans)
	}
	if ans.Confidence > 0.3 {
		t.Fatalf("confidence must be at most 0.3, got %v", ans.Confidence)
	}
	if len(f.llm.prompts) != 0 {
		t.Fatal("LLM must not be called without evidence")
	}
	if len(f.records.queries) != 1 {
		t.Fatal("turn must be persisted")
	}
}

func TestAnswerLLMFailureFallsBack(t *testing.T) {
	f := newFixture()
	f.llm.err = errors.New("503 service unavailable")

	ans, err := f.orch.Answer(context.Background(), Request{Text: "¿Cómo operaba el bloque?"})
	if err != nil {
		t.Fatalf("Answer error = %v", err)
	}
	if ans.ResolutionMethod != common.ResolutionFallback {
		t.Fatalf("resolution = %s", ans.ResolutionMethod)
	}
	if !strings.Contains(ans.AnswerText, "exterminio sistemático. [CITA-1]") {
		t.Fatalf("fallback must quote excerpts with citations: %q", ans.AnswerText)
	}
	if ans.Confidence > 0.5 {
		t.Fatalf("fallback confidence too high: %v", ans.Confidence)
	}
	meta := string(f.records.answers[0].LLMMetadata)
	if !strings.Contains(meta, "503 service unavailable") {
		t.Fatalf("llm error not traced: %s", meta)
	}
}

func TestAnswerFrequentViewAndCacheHit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := Request{Text: "Dame las estadísticas generales", UserID: "u1"}

	first, err := f.orch.Answer(ctx, req)
	if err != nil {
		t.Fatalf("Answer error = %v", err)
	}
	if first.ResolutionMethod != common.ResolutionMaterialized || first.Confidence != MaxMaterializedConfidence {
		t.Fatalf("unexpected first answer: %+v", first)
	}
	if f.retriever.calls != 0 {
		t.Fatal("materialized answers bypass retrieval")
	}
	if !strings.Contains(first.AnswerText, "- documentos: 1200") {
		t.Fatalf("unexpected prose: %q", first.AnswerText)
	}

	second, err := f.orch.Answer(ctx, Request{Text: "dame las estadisticas generales?", UserID: "u2"})
	if err != nil {
		t.Fatalf("Answer error = %v", err)
	}
	if second.ResolutionMethod != common.ResolutionCache {
		t.Fatalf("expected cache hit, got %s", second.ResolutionMethod)
	}
	if second.AnswerText != first.AnswerText {
		t.Fatal("cached text must be byte identical")
	}
	if f.views.calls != 1 {
		t.Fatalf("view queried %d times", f.views.calls)
	}
	if len(f.records.queries) != 2 || f.records.queries[1].ResolutionMethod != common.ResolutionCache {
		t.Fatalf("cache hit must be persisted: %+v", f.records.queries)
	}
}

func TestCachedIgnoresLowConfidence(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.cache.Set(ctx, CacheKey("pregunta", common.FilterSet{}), common.Answer{AnswerText: "vieja", Confidence: 0.5}, time.Hour)

	if _, ok := f.orch.Cached(ctx, Request{Text: "pregunta"}, NewTrace()); ok {
		t.Fatal("low-confidence entries are not hits")
	}
}

func TestFinishCachesHybridAnswers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := Request{Text: "lista de víctimas en Antioquia y sus patrones"}
	ans := common.Answer{Classification: KindHybrid, ResolutionMethod: common.ResolutionHybrid, AnswerText: "ok [CITA-1]", Confidence: 0.9}

	f.orch.Finish(ctx, req, ans, NewTrace())
	hit, ok := f.orch.Cached(ctx, req, NewTrace())
	if !ok || hit.AnswerText != "ok [CITA-1]" {
		t.Fatalf("hybrid answer not cached: %+v %v", hit, ok)
	}
}

func TestAnswerCancelledStillPersists(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ans, err := f.orch.Answer(ctx, Request{Text: "¿Cómo se desarrolló la masacre?"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ans.ResolutionMethod != common.ResolutionError || ans.AnswerText != ai.ErrorAnswer {
		t.Fatalf("unexpected answer: %+v", ans)
	}
	if len(f.records.queries) != 1 || f.records.queries[0].ResolutionMethod != common.ResolutionError {
		t.Fatalf("partial trace must be persisted: %+v", f.records.queries)
	}
	if !strings.Contains(string(f.records.answers[0].LLMMetadata), `"ERROR_RESPOND"`) {
		t.Fatal("error state not traced")
	}
}

func TestAnswerPersistFailureKeepsAnswer(t *testing.T) {
	f := newFixture()
	f.records.saveErr = errors.New("connection refused")

	ans, err := f.orch.Answer(context.Background(), Request{Text: "¿Cómo operaba el bloque?"})
	if err != nil {
		t.Fatalf("Answer error = %v", err)
	}
	if ans.QueryID != 0 || ans.AnswerText == "" {
		t.Fatalf("unexpected answer: %+v", ans)
	}
}

func TestRecordFeedbackValidates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.orch.RecordFeedback(ctx, common.FeedbackRecord{AnswerID: 1, Rating: 6}); err == nil {
		t.Fatal("rating 6 must be rejected")
	}
	if _, err := f.orch.RecordFeedback(ctx, common.FeedbackRecord{AnswerID: 1, Rating: 4, PerAspect: map[string]int{"precision": 0}}); err == nil {
		t.Fatal("per-aspect rating 0 must be rejected")
	}
	id, err := f.orch.RecordFeedback(ctx, common.FeedbackRecord{AnswerID: 1, Rating: 2, Comment: "faltan fuentes"})
	if err != nil || id != 1 {
		t.Fatalf("RecordFeedback = %d, %v", id, err)
	}
	low, err := f.orch.LowSatisfaction(ctx, 0)
	if err != nil || len(low) != 1 || low[0].MeanRating != 2.5 || low[0].Ratings != 2 {
		t.Fatalf("LowSatisfaction = %+v, %v", low, err)
	}
}

func TestCacheKeyQualifiedByFilters(t *testing.T) {
	plain := CacheKey("¿Víctimas en Antioquia?", common.FilterSet{})
	if plain != "victimas en antioquia" {
		t.Fatalf("unexpected key %q", plain)
	}
	filtered := CacheKey("¿Víctimas en Antioquia?", common.FilterSet{Department: "Antioquia"})
	if filtered == plain || !strings.HasPrefix(filtered, plain+"|") {
		t.Fatalf("filters must qualify the key: %q", filtered)
	}
}
