package classify

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
)

type token struct {
	text   string
	folded string
	start  int
	end    int
}

// tokens splits s into words (letters, digits, inner hyphens) with byte offsets.
func tokens(s string) []token {
	var out []token
	start := -1
	for i, r := range s {
		word := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-'
		if word && start < 0 {
			start = i
		}
		if !word && start >= 0 {
			out = append(out, newToken(s, start, i))
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, newToken(s, start, len(s)))
	}
	return out
}

func newToken(s string, start, end int) token {
	t := s[start:end]
	return token{text: t, folded: util.Fold(t), start: start, end: end}
}

func foldSeq(toks []token) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.folded
	}
	return out
}

func matchAt(toks []token, i int, seq []string) bool {
	if i+len(seq) > len(toks) {
		return false
	}
	for j, w := range seq {
		if toks[i+j].folded != w {
			return false
		}
	}
	return true
}

// findSeq returns the byte offset right after the first occurrence of seq.
func findSeq(toks []token, seq []token) (int, bool) {
	if len(seq) == 0 {
		return 0, false
	}
	want := foldSeq(seq)
	for i := range toks {
		if matchAt(toks, i, want) {
			return toks[i+len(want)-1].end, true
		}
	}
	return 0, false
}

func sortByLenDesc(seqs [][]string) {
	sort.SliceStable(seqs, func(i, j int) bool { return len(seqs[i]) > len(seqs[j]) })
}

// connectors may sit inside a proper-noun span ("José de la Cruz").
var connectors = map[string]struct{}{
	"de": {}, "del": {}, "la": {}, "las": {}, "los": {},
}

// capitalized words that open questions or sentences and are never names.
var notNames = map[string]struct{}{
	"quien": {}, "que": {}, "cual": {}, "cuales": {}, "cuando": {}, "donde": {}, "como": {},
	"cuantos": {}, "cuantas": {}, "por": {}, "el": {}, "la": {}, "los": {}, "las": {},
	"un": {}, "una": {}, "dame": {}, "muestra": {}, "muestrame": {}, "lista": {}, "ver": {},
	"en": {}, "de": {}, "del": {}, "y": {}, "se": {}, "su": {}, "sus": {}, "hay": {},
	"referencias": {}, "hipotesis": {}, "formula": {}, "describe": {}, "explica": {},
	"analiza": {}, "segun": {}, "sobre": {}, "para": {}, "con": {}, "sin": {},
	"descripcion": {}, "evidencia": {}, "supuestos": {}, "plan": {}, "proximos": {},
	"cita": {}, "no": {}, "si": {}, "este": {}, "esta": {}, "estos": {}, "estas": {},
}

var reCitation = regexp.MustCompile(`\[CITA-\d+\]`)

// ProperNouns returns capitalized spans in text: runs of capitalized words,
// optionally joined by lowercase connectors ("Ana Matilde Guzmán Borja",
// "Unión Patriótica", "FARC-EP"). Single capitalized words at the start of a
// sentence are ignored unless written in capitals. Citation markers are skipped.
func ProperNouns(text string) []string {
	return properNouns(text, false)
}

func properNouns(text string, allowInitial bool) []string {
	text = reCitation.ReplaceAllString(text, " ")
	toks := tokens(text)
	var out []string
	seen := make(map[string]struct{})

	i := 0
	for i < len(toks) {
		if !isNameWord(toks[i]) {
			i++
			continue
		}
		// A capitalized word opening a sentence only starts a name when
		// another capitalized word follows it directly.
		if !allowInitial && sentenceStart(text, toks[i].start) && !isAllCaps(toks[i].text) &&
			(i+1 >= len(toks) || !isNameWord(toks[i+1]) || !adjacent(text, toks[i], toks[i+1])) {
			i++
			continue
		}
		j := i + 1
		last := i
		for j < len(toks) {
			if isNameWord(toks[j]) && adjacent(text, toks[j-1], toks[j]) {
				last = j
				j++
				continue
			}
			if _, ok := connectors[toks[j].folded]; ok && j+1 < len(toks) && adjacent(text, toks[j-1], toks[j]) {
				j++
				continue
			}
			break
		}
		span := text[toks[i].start:toks[last].end]
		single := last == i
		if single && utf8.RuneCountInString(toks[i].text) < 3 {
			i = last + 1
			continue
		}
		key := util.Fold(span)
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			out = append(out, span)
		}
		i = last + 1
	}
	return out
}

func isNameWord(t token) bool {
	r, _ := utf8.DecodeRuneInString(t.text)
	if !unicode.IsUpper(r) {
		return false
	}
	if _, ok := notNames[t.folded]; ok {
		return false
	}
	return true
}

func isAllCaps(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 2
}

// adjacent reports whether only spaces separate a and b.
func adjacent(text string, a, b token) bool {
	return strings.TrimSpace(text[a.end:b.start]) == ""
}

func sentenceStart(text string, idx int) bool {
	prefix := strings.TrimRight(text[:idx], " \t¿¡\"'(")
	if prefix == "" {
		return true
	}
	switch prefix[len(prefix)-1] {
	case '.', '?', '!', '\n', ':':
		return true
	}
	return false
}
