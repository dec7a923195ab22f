package util

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var (
	reBoldCitation  = regexp.MustCompile(`\*\*\s*(\[CITA-\d+\])\s*\*\*`)
	reLooseCitation = regexp.MustCompile(`(?i)\[\s*cita[\s_-]*(\d+)\s*\]`)
	reCitationList  = regexp.MustCompile(`(?i)\[\s*cita[\s_-]*\d+(?:\s*[,;]\s*(?:cita[\s_-]*)?\d+)+\s*\]`)
	reListNumber    = regexp.MustCompile(`\d+`)
	reCitation      = regexp.MustCompile(`\[CITA-(\d+)\]`)
	reCitationSep   = regexp.MustCompile(`\][\t ]+\[CITA-`)
)

// NormalizeCitations rewrites the citation markers an LLM tends to produce
// ("[cita 2]", "**[CITA-2]**", "[CITA-1, CITA-3]") into the canonical
// "[CITA-N]" form and collapses adjacent repeats of the same marker.
func NormalizeCitations(s string) string {
	s = reCitationList.ReplaceAllStringFunc(s, func(m string) string {
		nums := reListNumber.FindAllString(m, -1)
		parts := make([]string, 0, len(nums))
		for _, n := range nums {
			parts = append(parts, "[CITA-"+n+"]")
		}
		return strings.Join(parts, " ")
	})
	s = reLooseCitation.ReplaceAllString(s, "[CITA-$1]")
	s = reBoldCitation.ReplaceAllString(s, "$1")
	s = dedupeAdjacentCitations(s)
	s = reCitationSep.ReplaceAllString(s, "] [CITA-")
	return s
}

// CitationIndexes returns the distinct N of every "[CITA-N]" marker in s, sorted.
func CitationIndexes(s string) []int {
	seen := make(map[int]struct{})
	for _, m := range reCitation.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		seen[n] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// StripCitations removes every marker whose index is not accepted by keep.
func StripCitations(s string, keep func(n int) bool) string {
	out := reCitation.ReplaceAllStringFunc(s, func(m string) string {
		n, err := strconv.Atoi(reCitation.FindStringSubmatch(m)[1])
		if err == nil && keep(n) {
			return m
		}
		return ""
	})
	return strings.ReplaceAll(out, " .", ".")
}

func dedupeAdjacentCitations(s string) string {
	matches := reCitation.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	cursor := 0

	for mi := 0; mi < len(matches); mi++ {
		m := matches[mi]
		start, end := m[0], m[1]
		id := s[m[2]:m[3]]

		b.WriteString(s[cursor:start])

		dupEnd := end
		next := mi + 1
		initialAtLineStart := isLineStart(s, start)

		for next < len(matches) {
			nextStart := matches[next][0]
			sep := s[dupEnd:nextStart]

			if !onlyWhitespace(sep) {
				break
			}
			if containsLineBreak(sep) && !initialAtLineStart {
				break
			}

			nextID := s[matches[next][2]:matches[next][3]]
			if nextID != id {
				break
			}
			dupEnd = matches[next][1]
			next++
		}

		b.WriteString(s[start:end])

		cursor = dupEnd
		mi = next - 1
	}

	if cursor < len(s) {
		b.WriteString(s[cursor:])
	}
	return b.String()
}

func onlyWhitespace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func containsLineBreak(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n', '\r':
			return true
		}
	}
	return false
}

func isLineStart(s string, idx int) bool {
	if idx <= 0 {
		return true
	}
	prev := s[idx-1]
	return prev == '\n' || prev == '\r'
}
