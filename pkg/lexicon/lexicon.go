// Package lexicon holds the curated vocabularies (geographic variants,
// institution and armed-group patterns, referential triggers, relation kind
// aliases, classifier keywords) shared across the engine.
package lexicon

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultYAML []byte

// Lexicon is immutable after Load; it is safe for concurrent use.
type Lexicon struct {
	Departments            map[string][]string `yaml:"departments"`
	Municipalities         map[string][]string `yaml:"municipalities"`
	StateInstitutions      []string            `yaml:"state_institutions"`
	IllegalArmedGroups     []string            `yaml:"illegal_armed_groups"`
	ReferentialTriggers    []string            `yaml:"referential_triggers"`
	FamilyKinds            []string            `yaml:"family_kinds"`
	KindAliases            map[string]string   `yaml:"kind_aliases"`
	EntityQuestionPrefixes []string            `yaml:"entity_question_prefixes"`
	StructuredKeywords     []string            `yaml:"structured_keywords"`
	AnalyticKeywords       []string            `yaml:"analytic_keywords"`
	HypothesisTriggers     []string            `yaml:"hypothesis_triggers"`
	Conjunctions           []string            `yaml:"conjunctions"`
	Frequent               map[string][]string `yaml:"frequent"`

	geoIndex map[string][]string // folded variant -> all variants of its place
	family   map[string]struct{}
	geoWords map[string]struct{} // folded words of every place variant
}

var (
	defaultOnce sync.Once
	defaultLex  *Lexicon
)

// Default returns the embedded lexicon, or the file named by LEXICON_FILE
// when set. A broken override falls back to the embedded copy.
func Default() *Lexicon {
	defaultOnce.Do(func() {
		if path := util.GetEnv("LEXICON_FILE"); path != "" {
			if l, err := LoadFile(path); err == nil {
				defaultLex = l
				return
			}
		}
		l, err := Parse(defaultYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded lexicon is invalid: %v", err))
		}
		defaultLex = l
	})
	return defaultLex
}

// LoadFile parses a lexicon YAML file.
func LoadFile(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and builds the lookup indexes.
func Parse(data []byte) (*Lexicon, error) {
	var l Lexicon
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	l.build()
	return &l, nil
}

func (l *Lexicon) build() {
	// Places sharing a variant (Bogotá is both a department and a
	// municipality) are merged so every variant expands to the same set.
	parent := make(map[string]string)
	surface := make(map[string]string)
	var find func(string) string
	find = func(k string) string {
		if parent[k] != k {
			parent[k] = find(parent[k])
		}
		return parent[k]
	}
	addGroup := func(canonical string, variants []string) {
		all := dedupeFolded(append([]string{canonical}, variants...))
		root := ""
		for _, v := range all {
			key := util.Fold(v)
			if _, ok := parent[key]; !ok {
				parent[key] = key
				surface[key] = v
			}
			if root == "" {
				root = find(key)
				continue
			}
			if r := find(key); r != root {
				parent[r] = root
			}
		}
	}
	for _, name := range sortedKeys(l.Departments) {
		addGroup(name, l.Departments[name])
	}
	for _, name := range sortedKeys(l.Municipalities) {
		addGroup(name, l.Municipalities[name])
	}

	groups := make(map[string][]string)
	for _, key := range sortedKeys(parent) {
		r := find(key)
		groups[r] = append(groups[r], surface[key])
	}
	l.geoIndex = make(map[string][]string, len(parent))
	l.geoWords = make(map[string]struct{})
	for key := range parent {
		l.geoIndex[key] = groups[find(key)]
		for _, w := range splitWords(key) {
			l.geoWords[w] = struct{}{}
		}
	}

	l.family = make(map[string]struct{}, len(l.FamilyKinds))
	for _, k := range l.FamilyKinds {
		l.family[k] = struct{}{}
	}
}

// GeoVariants expands a department or municipality name to every curated
// variant of the same place. Unknown names expand to themselves. The result
// is identical for every variant of a place.
func (l *Lexicon) GeoVariants(name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if vs, ok := l.geoIndex[util.Fold(name)]; ok {
		out := make([]string, len(vs))
		copy(out, vs)
		return out
	}
	return []string{name}
}

// IsKnownPlace reports whether name is a curated department or municipality variant.
func (l *Lexicon) IsKnownPlace(name string) bool {
	_, ok := l.geoIndex[util.Fold(name)]
	return ok
}

// IsPlaceWord reports whether word occurs in any curated place variant,
// "cesar" and "bolivar" included.
func (l *Lexicon) IsPlaceWord(word string) bool {
	_, ok := l.geoWords[util.Fold(word)]
	return ok
}

// IsStateInstitution reports whether name matches an investigative body.
func (l *Lexicon) IsStateInstitution(name string) bool {
	return ContainsAnyPhrase(name, l.StateInstitutions)
}

// IsIllegalGroup reports whether name matches an illegal armed group.
func (l *Lexicon) IsIllegalGroup(name string) bool {
	return ContainsAnyPhrase(name, l.IllegalArmedGroups)
}

// NamesBody reports whether span names a state institution or an armed
// group, or opens the name of one ("Sala de Justicia" for "sala de justicia
// y paz").
func (l *Lexicon) NamesBody(span string) bool {
	if l.IsStateInstitution(span) || l.IsIllegalGroup(span) {
		return true
	}
	words := foldedWords(span)
	if len(words) == 0 {
		return false
	}
	for _, list := range [][]string{l.StateInstitutions, l.IllegalArmedGroups} {
		for _, p := range list {
			pw := foldedWords(p)
			if len(words) <= len(pw) && slices.Equal(pw[:len(words)], words) {
				return true
			}
		}
	}
	return false
}

// IsFamilyKind reports whether kind is a family relation.
func (l *Lexicon) IsFamilyKind(kind string) bool {
	_, ok := l.family[l.CanonicalKind(kind)]
	return ok
}

// CanonicalKind lowercases kind, maps non-identifier runs to "_" and applies
// the alias table: "Hijo de" becomes "son".
func (l *Lexicon) CanonicalKind(kind string) string {
	k := tokenize(util.Fold(kind))
	if alias, ok := l.KindAliases[k]; ok {
		return alias
	}
	return k
}

// HasReferentialTrigger reports whether text contains a back-reference such
// as "sus" or "esa persona". Accents are significant here.
func (l *Lexicon) HasReferentialTrigger(text string) bool {
	words := lowerWords(text)
	for _, trig := range l.ReferentialTriggers {
		if containsSeq(words, lowerWords(trig)) {
			return true
		}
	}
	return false
}

// FrequentView returns the materialized view a question maps to, if any.
// Views are checked in name order so the result is deterministic.
func (l *Lexicon) FrequentView(text string) (string, bool) {
	for _, view := range sortedKeys(l.Frequent) {
		if ContainsAnyPhrase(text, l.Frequent[view]) {
			return view, true
		}
	}
	return "", false
}

// IsHypothesisRequest reports whether the question asks for investigative hypotheses.
func (l *Lexicon) IsHypothesisRequest(text string) bool {
	return ContainsAnyPhrase(text, l.HypothesisTriggers)
}

// ContainsAnyPhrase reports whether any phrase occurs in text on word
// boundaries, ignoring case and accents.
func ContainsAnyPhrase(text string, phrases []string) bool {
	_, ok := FirstPhrase(text, phrases)
	return ok
}

// FirstPhrase returns the first phrase (in list order) found in text.
func FirstPhrase(text string, phrases []string) (string, bool) {
	words := foldedWords(text)
	if len(words) == 0 {
		return "", false
	}
	for _, p := range phrases {
		if containsSeq(words, foldedWords(p)) {
			return p, true
		}
	}
	return "", false
}

// tokenize maps runs of non letters/digits to a single underscore.
func tokenize(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

func foldedWords(s string) []string {
	return splitWords(util.Fold(s))
}

func lowerWords(s string) []string {
	return splitWords(strings.ToLower(s))
}

// splitWords keeps hyphens inside tokens ("farc-ep") and splits on
// everything else that is not a letter or digit.
func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-')
	})
}

func containsSeq(words, seq []string) bool {
	if len(seq) == 0 || len(seq) > len(words) {
		return false
	}
outer:
	for i := 0; i+len(seq) <= len(words); i++ {
		for j := range seq {
			if words[i+j] != seq[j] {
				continue outer
			}
		}
		return true
	}
	return false
}

func dedupeFolded(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
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

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MentionedPlaces returns the canonical department and municipality named in
// text, if any. Only capitalized mentions count, so "la meta" is not Meta.
// The longest matching variant wins.
func (l *Lexicon) MentionedPlaces(text string) (department, municipality string) {
	raw := splitWords(text)
	words := make([]string, len(raw))
	for i, w := range raw {
		words[i] = util.Fold(w)
	}
	find := func(places map[string][]string) string {
		best, bestLen := "", 0
		for _, name := range sortedKeys(places) {
			for _, v := range append([]string{name}, places[name]...) {
				seq := foldedWords(v)
				if len(seq) <= bestLen {
					continue
				}
				if at := indexSeq(words, seq); at >= 0 && startsUpper(raw[at]) {
					best, bestLen = name, len(seq)
				}
			}
		}
		return best
	}
	return find(l.Departments), find(l.Municipalities)
}

func indexSeq(words, seq []string) int {
	if len(seq) == 0 {
		return -1
	}
outer:
	for i := 0; i+len(seq) <= len(words); i++ {
		for j := range seq {
			if words[i+j] != seq[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

func startsUpper(w string) bool {
	for _, r := range w {
		return unicode.IsUpper(r)
	}
	return false
}
