// Package router is the single entry point for a user turn: it rewrites
// follow-ups, classifies the question, dispatches it to the structured
// service and/or the RAG orchestrator, merges the legs and persists the turn.
package router

import (
	"context"
	"errors"
	"strings"

	"github.com/OFFIS-RIT/indaga/backend/pkg/classify"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/conversation"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"
	"github.com/OFFIS-RIT/indaga/backend/pkg/rag"
	"github.com/OFFIS-RIT/indaga/backend/pkg/structured"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultSeedSize = 10
	DefaultMaxNodes = 50
)

// Structured is what the router needs from the structured query service.
type Structured interface {
	Run(ctx context.Context, text string, filters common.FilterSet) (common.StructuredResult, error)
	PersonDossier(ctx context.Context, name string, filters common.FilterSet) (common.StructuredResult, error)
}

// Orchestrator is what the router needs from the RAG orchestrator.
type Orchestrator interface {
	Cached(ctx context.Context, req rag.Request, trace *rag.Trace) (common.Answer, bool)
	FrequentView(text string) (string, bool)
	ResolveFrequent(ctx context.Context, view string, trace *rag.Trace) (common.Answer, error)
	Synthesize(ctx context.Context, req rag.Request, trace *rag.Trace) rag.Synthesis
	ErrorAnswer(label string, trace *rag.Trace) common.Answer
	Finish(ctx context.Context, req rag.Request, ans common.Answer, trace *rag.Trace) common.Answer
}

type Router struct {
	lex        *lexicon.Lexicon
	classifier *classify.Classifier
	sessions   *conversation.Manager
	structured Structured
	rag        Orchestrator
	seedSize   int
	maxNodes   int
}

// New wires a router. sessions may be nil, in which case no follow-up is
// ever rewritten.
func New(lex *lexicon.Lexicon, sessions *conversation.Manager, st Structured, orch Orchestrator) *Router {
	if lex == nil {
		lex = lexicon.Default()
	}
	return &Router{
		lex:        lex,
		classifier: classify.NewClassifier(lex),
		sessions:   sessions,
		structured: st,
		rag:        orch,
		seedSize:   DefaultSeedSize,
		maxNodes:   DefaultMaxNodes,
	}
}

// Request is a user turn.
type Request struct {
	Question  string           `json:"question" validate:"required"`
	UserID    string           `json:"user_id" validate:"required"`
	SessionID string           `json:"session_id"`
	Filters   common.FilterSet `json:"filters"`
}

// Dispatch answers one user turn. The returned answer is always a complete
// envelope. The error is non-nil when the structured path hit a relational
// failure (structured.ErrRelational) or ctx ended.
func (r *Router) Dispatch(ctx context.Context, req Request) (common.Answer, error) {
	question := strings.TrimSpace(req.Question)
	key := conversation.Key{UserID: req.UserID, SessionID: req.SessionID}

	var session *conversation.Session
	if r.sessions != nil && req.SessionID != "" {
		s, release, err := r.sessions.Begin(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return common.Answer{}, ctx.Err()
			}
			logger.Warn("[Router] session unavailable, continuing without context", "session", key.String(), "err", err)
		} else {
			defer release()
			session = s
		}
	}

	rw := conversation.Rewrite{Text: question}
	if r.sessions != nil {
		rw = r.sessions.Rewrite(question, session)
	}
	if rw.Rewritten {
		logger.Debug("[Router] rewrote follow-up", "injected", rw.InjectedEntities, "consecutive", rw.ConsecutiveRewrites)
	}

	ragReq := rag.Request{
		Text:      rw.Text,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Filters:   req.Filters,
	}
	if rw.Rewritten {
		ragReq.RewrittenFrom = question
	}

	ans, cls, err := r.resolve(ctx, ragReq)

	if session != nil {
		turn := conversation.Turn{
			Text:      rw.Text,
			Entities:  turnEntities(cls, rw),
			Rewritten: rw.Rewritten,
		}
		if cerr := r.sessions.Commit(context.WithoutCancel(ctx), key, session, turn); cerr != nil {
			logger.Warn("[Router] failed to store session", "session", key.String(), "err", cerr)
		}
	}
	return ans, err
}

func (r *Router) resolve(ctx context.Context, req rag.Request) (common.Answer, classify.Classification, error) {
	trace := rag.NewTrace()
	cls := r.classifier.Classify(req.Text, req.Filters)

	if cached, ok := r.rag.Cached(ctx, req, trace); ok {
		return r.rag.Finish(ctx, req, cached, trace), cls, nil
	}

	rag.RecordState(trace, rag.StateClassify)
	rag.RecordNote(trace, "classification", string(cls.Kind))

	if view, ok := r.rag.FrequentView(req.Text); ok {
		ans, err := r.rag.ResolveFrequent(ctx, view, trace)
		if err != nil {
			logger.Warn("[Router] materialized view failed", "view", view, "err", err)
			ans = r.rag.ErrorAnswer(rag.KindFrequent, trace)
		}
		return r.rag.Finish(ctx, req, ans, trace), cls, ctx.Err()
	}

	label := string(cls.Kind)
	req.Classification = label

	var (
		ans common.Answer
		err error
	)
	switch cls.Kind {
	case classify.Structured:
		ans, err = r.structuredOnly(ctx, req, trace)
	case classify.Semantic:
		syn := r.rag.Synthesize(ctx, req, trace)
		ans = common.Answer{
			Classification:   label,
			ResolutionMethod: syn.Method,
			AnswerText:       syn.Text,
			Confidence:       syn.Confidence,
			Sources:          syn.Sources,
		}
	default:
		ans = r.hybrid(ctx, req, cls, trace)
	}

	if ans.ResolutionMethod != common.ResolutionError {
		if seed := seedEntities(cls, ans, r.seedSize, r.lex.IsKnownPlace); len(seed) > 0 {
			ans.GraphSeed = &common.GraphSeed{Entities: seed, MaxNodes: r.maxNodes}
		}
	}
	ans = r.rag.Finish(ctx, req, ans, trace)
	if err == nil {
		err = ctx.Err()
	}
	return ans, cls, err
}

func (r *Router) structuredOnly(ctx context.Context, req rag.Request, trace *rag.Trace) (common.Answer, error) {
	rag.RecordState(trace, rag.StateStructured)
	res, err := r.structured.Run(ctx, req.Text, req.Filters)
	if err != nil {
		logger.Error("[Router] structured query failed", "err", err)
		ans := r.rag.ErrorAnswer(req.Classification, trace)
		ans.StructuredPayload = &res
		return ans, err
	}
	return structuredAnswer(req.Classification, res), nil
}

// hybrid runs the structured and semantic legs concurrently. Neither leg
// cancels the other; a failed structured leg leaves its error envelope in
// the payload and the semantic answer stands.
func (r *Router) hybrid(ctx context.Context, req rag.Request, cls classify.Classification, trace *rag.Trace) common.Answer {
	legs := r.classifier.Split(req.Text, cls)

	semReq := req
	semReq.Text = legs.SemanticText
	person := ""
	if cls.PersonOfInterest && len(cls.EntitiesOfInterest) > 0 {
		person = cls.EntitiesOfInterest[0]
		semReq.PersonOfInterest = person
	}

	var (
		g   errgroup.Group
		res common.StructuredResult
		syn rag.Synthesis
	)
	g.Go(func() error {
		rag.RecordState(trace, rag.StateStructured)
		var err error
		if person != "" {
			res, err = r.structured.PersonDossier(ctx, person, req.Filters)
		} else {
			res, err = r.structured.Run(ctx, legs.StructuredText, req.Filters)
		}
		if err != nil {
			if errors.Is(err, structured.ErrRelational) {
				logger.Error("[Router] structured leg failed, keeping semantic leg", "err", err)
			} else {
				logger.Warn("[Router] structured leg failed", "err", err)
			}
			res.ExecutionKind = structured.ExecError
		}
		return nil
	})
	g.Go(func() error {
		syn = r.rag.Synthesize(ctx, semReq, trace)
		return nil
	})
	_ = g.Wait()

	return mergeHybrid(req.Classification, syn, &res)
}

// turnEntities are the entities remembered for a turn: the entities of
// interest of the dispatched text plus whatever was injected into it.
func turnEntities(cls classify.Classification, rw conversation.Rewrite) []string {
	out := make([]string, 0, len(cls.EntitiesOfInterest)+len(rw.InjectedEntities))
	out = append(out, rw.InjectedEntities...)
	out = append(out, cls.EntitiesOfInterest...)
	return dedupeFold(out)
}
