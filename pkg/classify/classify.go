// Package classify decides how a question is resolved (structured listing,
// semantic analysis or both) and splits hybrid questions into their legs.
// Classification is a pure function of the text and filters; it never fails.
package classify

import (
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
)

// Kind is the resolution strategy for a question.
type Kind string

const (
	Structured Kind = "STRUCTURED"
	Semantic   Kind = "SEMANTIC"
	Hybrid     Kind = "HYBRID"
)

// Classification is the tagged result of Classify. PersonOfInterest marks the
// "who is X" subtype of Hybrid; EntitiesOfInterest then holds X first.
type Classification struct {
	Kind               Kind     `json:"kind"`
	EntitiesOfInterest []string `json:"entities_of_interest"`
	PersonOfInterest   bool     `json:"person_of_interest"`
	StructuredSignal   bool     `json:"structured_signal"`
	SemanticSignal     bool     `json:"semantic_signal"`
}

// Legs holds the two halves of a hybrid question. Either may be empty.
type Legs struct {
	StructuredText string `json:"structured_text"`
	SemanticText   string `json:"semantic_text"`
}

var (
	reYear = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	reNUC  = regexp.MustCompile(`\b\d{11,23}\b`)
)

// Classifier is safe for concurrent use.
type Classifier struct {
	lex *lexicon.Lexicon
}

func NewClassifier(lex *lexicon.Lexicon) *Classifier {
	if lex == nil {
		lex = lexicon.Default()
	}
	return &Classifier{lex: lex}
}

// Classify runs the cascade:
//  1. "who is X" shape with a proper-noun X → Hybrid person of interest
//  2. listing/quantitative signals without analytic language → Structured
//  3. analytic language without listing signals → Semantic
//  4. both → Hybrid
//  5. anything else → Hybrid
//
// Filters count as a listing signal only when the text carries no analytic
// language, so they can make a bare question Structured but never turn an
// analytic one Hybrid.
func (c *Classifier) Classify(text string, filters common.FilterSet) Classification {
	text = strings.TrimSpace(text)
	entities := ProperNouns(text)

	if x, ok := c.entityOfInterest(text); ok {
		return Classification{
			Kind:               Hybrid,
			EntitiesOfInterest: prepend(x, entities),
			PersonOfInterest:   true,
			StructuredSignal:   true,
			SemanticSignal:     true,
		}
	}

	structured := c.hasStructuredSignal(text)
	semantic := lexicon.ContainsAnyPhrase(text, c.lex.AnalyticKeywords)

	cls := Classification{
		EntitiesOfInterest: entities,
		StructuredSignal:   structured,
		SemanticSignal:     semantic,
	}
	switch {
	case structured && !semantic:
		cls.Kind = Structured
	case semantic && !structured:
		cls.Kind = Semantic
	case structured && semantic:
		cls.Kind = Hybrid
	case !filters.IsEmpty():
		cls.Kind = Structured
		cls.StructuredSignal = true
	default:
		cls.Kind = Hybrid
	}
	if cls.EntitiesOfInterest == nil {
		cls.EntitiesOfInterest = []string{}
	}
	return cls
}

func (c *Classifier) hasStructuredSignal(text string) bool {
	if lexicon.ContainsAnyPhrase(text, c.lex.StructuredKeywords) {
		return true
	}
	return reNUC.MatchString(text) || len(reYear.FindAllString(text, -1)) >= 2
}

// entityOfInterest finds "quién es X" style questions and returns X when it
// is a proper-noun span that is not a known place.
func (c *Classifier) entityOfInterest(text string) (string, bool) {
	toks := tokens(text)
	for _, prefix := range c.lex.EntityQuestionPrefixes {
		seq := tokens(prefix)
		end, ok := findSeq(toks, seq)
		if !ok {
			continue
		}
		rest := text[end:]
		for _, span := range properNouns(rest, true) {
			if c.lex.IsKnownPlace(span) {
				continue
			}
			return span, true
		}
	}
	return "", false
}

// Split divides a hybrid question into a structured leg and a semantic leg.
// For a person of interest the legs are fixed templates around the name.
// Otherwise the text is cut at coordinating conjunctions and clauses with
// listing keywords form the structured leg. When every clause lands on one
// side the other side receives the full text, so neither leg loses words.
func (c *Classifier) Split(text string, cls Classification) Legs {
	text = strings.TrimSpace(text)
	if cls.PersonOfInterest && len(cls.EntitiesOfInterest) > 0 {
		x := cls.EntitiesOfInterest[0]
		return Legs{
			StructuredText: "menciones de " + x,
			SemanticText:   "quién es " + x + " y su relevancia en el contexto judicial",
		}
	}
	if text == "" {
		return Legs{}
	}

	var structured, semantic []string
	for _, clause := range c.clauses(text) {
		if c.hasStructuredSignal(clause) {
			structured = append(structured, clause)
		} else {
			semantic = append(semantic, clause)
		}
	}
	legs := Legs{
		StructuredText: strings.Join(structured, " y "),
		SemanticText:   strings.Join(semantic, " y "),
	}
	if legs.StructuredText == "" {
		legs.StructuredText = text
	}
	if legs.SemanticText == "" {
		legs.SemanticText = text
	}
	return legs
}

// clauses cuts text at standalone conjunctions, longest conjunction first.
func (c *Classifier) clauses(text string) []string {
	toks := tokens(text)
	conj := make([][]string, 0, len(c.lex.Conjunctions))
	for _, cj := range c.lex.Conjunctions {
		if seq := tokens(cj); len(seq) > 0 {
			conj = append(conj, foldSeq(seq))
		}
	}
	sortByLenDesc(conj)

	out := make([]string, 0, 2)
	start := 0
	for i := 0; i < len(toks); {
		matched := 0
		for _, seq := range conj {
			if matchAt(toks, i, seq) {
				matched = len(seq)
				break
			}
		}
		if matched == 0 {
			i++
			continue
		}
		if clause := trimClause(text[start:toks[i].start]); clause != "" {
			out = append(out, clause)
		}
		start = toks[i+matched-1].end
		i += matched
	}
	if clause := trimClause(text[start:]); clause != "" {
		out = append(out, clause)
	}
	return out
}

func trimClause(s string) string {
	return strings.Trim(s, " \t\n,;:¿?¡!.")
}

func prepend(x string, list []string) []string {
	out := []string{x}
	for _, v := range list {
		if v != x && !strings.Contains(x, v) {
			out = append(out, v)
		}
	}
	return out
}
