package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
)

const (
	minEndpointRunes = 3
	maxEvidenceRunes = 300
)

type relationCandidate struct {
	Source     string  `json:"source" jsonschema_description:"Full proper name of the source entity as written in the text"`
	Target     string  `json:"target" jsonschema_description:"Full proper name of the target entity as written in the text"`
	Kind       string  `json:"kind" jsonschema_description:"Lowercase snake_case relation kind, preferably one of the recognized kinds"`
	Confidence float64 `json:"confidence" jsonschema_description:"How explicit the relation is in the text, between 0 and 1"`
	Evidence   string  `json:"evidence" jsonschema_description:"Literal sentence supporting the relation, at most 300 characters"`
}

type relationResponse struct {
	Relations []relationCandidate `json:"relations" jsonschema_description:"Relations stated in the analytic summary"`
}

// Validate turns raw candidates into relations of one document. It drops
// candidates under the confidence floor, with a missing or too short
// endpoint, self loops and victim_of edges toward a state institution. Kinds
// are canonicalized, endpoints title cased and duplicates on
// (source, target, kind) collapsed to their most confident occurrence.
func Validate(lex *lexicon.Lexicon, documentID string, method common.ExtractionMethod, in []relationCandidate) []common.ExtractedRelation {
	out := make([]common.ExtractedRelation, 0, len(in))
	index := make(map[string]int, len(in))
	for _, c := range in {
		if c.Confidence < common.MinRelationConfidence {
			continue
		}
		src := normalizeEndpoint(c.Source)
		tgt := normalizeEndpoint(c.Target)
		if utf8.RuneCountInString(src) < minEndpointRunes || utf8.RuneCountInString(tgt) < minEndpointRunes {
			continue
		}
		if util.Fold(src) == util.Fold(tgt) {
			continue
		}
		kind := lex.CanonicalKind(c.Kind)
		if kind == "" {
			continue
		}
		if kind == common.KindVictimOf && lex.IsStateInstitution(tgt) {
			continue
		}

		rel := common.ExtractedRelation{
			Source:     src,
			Target:     tgt,
			Kind:       kind,
			DocumentID: documentID,
			Evidence:   util.Truncate(strings.TrimSpace(c.Evidence), maxEvidenceRunes),
			Confidence: min(c.Confidence, 1),
			Method:     method,
		}
		key := util.Fold(src) + "|" + util.Fold(tgt) + "|" + kind
		if i, ok := index[key]; ok {
			if rel.Confidence > out[i].Confidence {
				out[i] = rel
			}
			continue
		}
		index[key] = len(out)
		out = append(out, rel)
	}
	return out
}

// normalizeEndpoint title cases a name but keeps short all-caps words, so
// "ANA MATILDE GUZMÁN" becomes "Ana Matilde Guzmán" while "frente 5 FARC"
// and a bare "FARC" keep the acronym.
func normalizeEndpoint(name string) string {
	name = strings.Trim(strings.TrimSpace(name), `"'.,;:`)
	if name == "" {
		return ""
	}
	orig := strings.Fields(name)
	titled := strings.Fields(util.TitleName(name))
	upperName := isUpperWord(strings.ReplaceAll(name, " ", ""))
	for i, w := range orig {
		if i < len(titled) && (!upperName || len(orig) == 1) && isAcronym(w) {
			titled[i] = w
		}
	}
	return strings.Join(titled, " ")
}

func isAcronym(w string) bool {
	n := utf8.RuneCountInString(w)
	return n >= 2 && n <= 6 && isUpperWord(w)
}

func isUpperWord(w string) bool {
	letters := 0
	for _, r := range w {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters > 0
}
