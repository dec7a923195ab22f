package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/classify"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"
)

const (
	heuristicBase       = 0.5
	heuristicKnownBonus = 0.1
	maxNamesPerSentence = 8
)

var reSentenceEnd = regexp.MustCompile(`[.!?;]+(\s+|$)|\n+`)

// EntitySource lists the person mentions of a document.
type EntitySource interface {
	DocumentEntities(ctx context.Context, documentID string) ([]common.Person, []common.Organization, []common.Place, error)
}

// Heuristic pairs the proper names that share a sentence of the summary
// into co_occurs_with relations. Confidence starts at 0.5 and gains 0.1 for
// every endpoint the document also lists as a person or organization.
type Heuristic struct {
	lex      *lexicon.Lexicon
	entities EntitySource
}

// NewHeuristic accepts a nil entities source; every pair then scores 0.5.
func NewHeuristic(lex *lexicon.Lexicon, entities EntitySource) *Heuristic {
	return &Heuristic{lex: lex, entities: entities}
}

func (h *Heuristic) Extract(ctx context.Context, doc common.Document) ([]common.ExtractedRelation, error) {
	summary := strings.TrimSpace(doc.AnalyticSummary)
	if summary == "" {
		return []common.ExtractedRelation{}, nil
	}

	known := make(map[string]struct{})
	if h.entities != nil {
		persons, orgs, _, err := h.entities.DocumentEntities(ctx, doc.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("[Extract] document entities unavailable", "document", doc.ID, "err", err)
		}
		for _, p := range persons {
			known[util.Fold(p.Name)] = struct{}{}
		}
		for _, o := range orgs {
			known[util.Fold(o.Name)] = struct{}{}
		}
	}

	var cands []relationCandidate
	for _, sentence := range sentences(summary) {
		names := h.names(sentence)
		for i := 0; i < len(names); i++ {
			for j := i + 1; j < len(names); j++ {
				conf := heuristicBase
				if _, ok := known[util.Fold(names[i])]; ok {
					conf += heuristicKnownBonus
				}
				if _, ok := known[util.Fold(names[j])]; ok {
					conf += heuristicKnownBonus
				}
				cands = append(cands, relationCandidate{
					Source:     names[i],
					Target:     names[j],
					Kind:       common.KindCoOccursWith,
					Confidence: conf,
					Evidence:   sentence,
				})
			}
		}
	}
	return Validate(h.lex, doc.ID, common.MethodHeuristic, cands), nil
}

func (h *Heuristic) names(sentence string) []string {
	var out []string
	for _, n := range classify.ProperNouns(sentence) {
		if h.lex.IsKnownPlace(n) {
			continue
		}
		out = append(out, n)
		if len(out) == maxNamesPerSentence {
			break
		}
	}
	return out
}

func sentences(text string) []string {
	var out []string
	for _, s := range reSentenceEnd.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
