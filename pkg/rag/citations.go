package rag

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
)

var reReferences = regexp.MustCompile(`(?im)^[#*\s]*referencias\s*:?\**\s*$`)

// EnforceCitations normalizes the model's markers, drops the ones that do
// not index into sources and rebuilds the REFERENCIAS block from the cited
// sources. When sources is empty every marker is removed. When nothing valid
// is cited the block lists every source, so a non-empty source list always
// leaves at least one valid marker in the text.
func EnforceCitations(text string, sources []common.Source) (string, []int) {
	body := util.NormalizeCitations(text)
	if loc := reReferences.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}
	body = util.StripCitations(body, func(n int) bool { return n >= 1 && n <= len(sources) })
	body = strings.TrimSpace(body)
	if len(sources) == 0 {
		return body, nil
	}

	used := util.CitationIndexes(body)
	listed := used
	if len(listed) == 0 {
		listed = make([]int, len(sources))
		for i := range sources {
			listed[i] = i + 1
		}
	}
	return body + "\n\n" + referencesBlock(sources, listed), used
}

func referencesBlock(sources []common.Source, ids []int) string {
	var b strings.Builder
	b.WriteString("REFERENCIAS:")
	for _, n := range ids {
		s := sources[n-1]
		if s.Page == 0 && s.Paragraph == 0 {
			// document-level source from a structured listing
			fmt.Fprintf(&b, "\n[CITA-%d] %s", n, s.Filename)
			if s.CaseNumber != "" {
				fmt.Fprintf(&b, ", NUC %s", s.CaseNumber)
			}
			continue
		}
		fmt.Fprintf(&b, "\n[CITA-%d] %s, página %d, párrafo %d", n, s.Filename, s.Page, s.Paragraph)
	}
	return b.String()
}
