package router

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/classify"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/rag"
)

// structuredSourceCap bounds how many listed documents become answer sources.
// The structured payload keeps the full list.
const structuredSourceCap = 20

var reCitation = regexp.MustCompile(`\[CITA-(\d+)\]`)

// documentSources converts structured document rows to answer sources,
// deduplicated by document id.
func documentSources(docs []common.DocumentRef, limit int) []common.Source {
	seen := make(map[string]struct{}, len(docs))
	out := make([]common.Source, 0, min(len(docs), limit))
	for _, d := range docs {
		if len(out) == limit {
			break
		}
		s := common.Source{
			DocumentID:   d.DocumentID,
			Filename:     d.Filename,
			CaseNumber:   d.CaseNumber,
			DocumentKind: d.DocumentKind,
		}
		if _, ok := seen[s.Key()]; ok {
			continue
		}
		seen[s.Key()] = struct{}{}
		out = append(out, s)
	}
	return out
}

// mergeSources unions semantic and structured sources. Structured entries
// for documents already cited by the semantic leg are dropped. The result is
// stable-sorted by descending similarity and renumbered from 1; the returned
// map translates old semantic citation ids to the new ones.
func mergeSources(semantic, structured []common.Source) ([]common.Source, map[int]int) {
	type entry struct {
		src common.Source
		old int
	}
	entries := make([]entry, 0, len(semantic)+len(structured))
	seenPassage := make(map[string]struct{})
	seenDoc := make(map[string]struct{})
	for _, s := range semantic {
		id := fmt.Sprintf("%s#%d#%d", s.Key(), s.Page, s.Paragraph)
		if _, ok := seenPassage[id]; ok {
			continue
		}
		seenPassage[id] = struct{}{}
		seenDoc[s.Key()] = struct{}{}
		entries = append(entries, entry{src: s, old: s.CitationID})
	}
	for _, s := range structured {
		if _, ok := seenDoc[s.Key()]; ok {
			continue
		}
		seenDoc[s.Key()] = struct{}{}
		entries = append(entries, entry{src: s})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].src.Similarity > entries[j].src.Similarity
	})

	out := make([]common.Source, len(entries))
	mapping := make(map[int]int)
	for i, e := range entries {
		e.src.CitationID = i + 1
		out[i] = e.src
		if e.old > 0 {
			mapping[e.old] = i + 1
		}
	}
	return out, mapping
}

// renumberCitations rewrites [CITA-n] to [CITA-mapping[n]]. Unmapped markers
// are left for EnforceCitations to drop.
func renumberCitations(text string, mapping map[int]int) string {
	return reCitation.ReplaceAllStringFunc(text, func(m string) string {
		n, err := strconv.Atoi(reCitation.FindStringSubmatch(m)[1])
		if err != nil {
			return m
		}
		if to, ok := mapping[n]; ok {
			return "[CITA-" + strconv.Itoa(to) + "]"
		}
		return "[CITA-0]"
	})
}

// mergeHybrid assembles a hybrid answer: the semantic text is authoritative
// for narrative and the structured payload is attached verbatim. The result
// does not depend on which leg finished first.
func mergeHybrid(label string, syn rag.Synthesis, res *common.StructuredResult) common.Answer {
	var docs []common.Source
	if res != nil {
		docs = documentSources(res.Sources, structuredSourceCap)
	}
	sources, mapping := mergeSources(syn.Sources, docs)

	text := syn.Text
	method := common.ResolutionHybrid
	confidence := syn.Confidence
	switch {
	case syn.Method == common.ResolutionError && res != nil && res.ExecutionKind != "error":
		text = res.AnswerText
		method = common.ResolutionStructured
		confidence = structuredConfidence(*res)
	case syn.Method == common.ResolutionError:
		method = common.ResolutionError
		sources = []common.Source{}
	case syn.Method == common.ResolutionFallback:
		method = common.ResolutionFallback
	}
	if method != common.ResolutionError {
		body := renumberCitations(text, mapping)
		text, _ = rag.EnforceCitations(body, sources)
	}

	return common.Answer{
		Classification:    label,
		ResolutionMethod:  method,
		AnswerText:        text,
		Confidence:        confidence,
		Sources:           sources,
		StructuredPayload: res,
	}
}

// structuredAnswer wraps a structured envelope.
func structuredAnswer(label string, res common.StructuredResult) common.Answer {
	sources := documentSources(res.Sources, structuredSourceCap)
	for i := range sources {
		sources[i].CitationID = i + 1
	}
	text, _ := rag.EnforceCitations(res.AnswerText, sources)
	return common.Answer{
		Classification:    label,
		ResolutionMethod:  common.ResolutionStructured,
		AnswerText:        text,
		Confidence:        structuredConfidence(res),
		Sources:           sources,
		StructuredPayload: &res,
	}
}

// structuredConfidence: a deterministic query over curated rows is trusted,
// an empty one much less so.
func structuredConfidence(res common.StructuredResult) float64 {
	if res.ExecutionKind == "error" {
		return 0
	}
	if len(res.Victims) == 0 && len(res.Sources) == 0 {
		return 0.4
	}
	return 0.9
}

// seedEntities picks the entities a contextual graph is built around:
// entities of interest first, then the most mentioned victims, then proper
// nouns of the answer text. Names for which skip returns true are left out.
func seedEntities(cls classify.Classification, ans common.Answer, limit int, skip func(string) bool) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, limit)
	add := func(name string) {
		if len(out) >= limit || len([]rune(name)) < 3 || (skip != nil && skip(name)) {
			return
		}
		k := util.Fold(name)
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, name)
	}
	for _, e := range cls.EntitiesOfInterest {
		add(e)
	}
	if ans.StructuredPayload != nil {
		victims := append([]common.VictimRow(nil), ans.StructuredPayload.Victims...)
		sort.SliceStable(victims, func(i, j int) bool { return victims[i].Mentions > victims[j].Mentions })
		for i, v := range victims {
			if i == topVictims {
				break
			}
			add(v.Name)
		}
	}
	if ans.ResolutionMethod != common.ResolutionError {
		body := ans.AnswerText
		if i := strings.Index(body, "REFERENCIAS:"); i >= 0 {
			body = body[:i]
		}
		body = util.StripCitations(body, func(int) bool { return false })
		for _, n := range classify.ProperNouns(body) {
			add(n)
		}
	}
	return out
}

const topVictims = 5

func dedupeFold(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		k := util.Fold(v)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}
