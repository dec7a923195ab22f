package retrieval

import (
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/ai"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
)

const snippetChars = 300

// BuildContext renders chunks as numbered evidence blocks. Block i carries
// the marker [CITA-i] and becomes sources[i-1]. Blocks are added in order
// until tokenBudget is reached; the first block is always kept.
func BuildContext(chunks []common.Chunk, tokenBudget, excerptChars int) (string, []common.Source) {
	var b strings.Builder
	sources := make([]common.Source, 0, len(chunks))
	used := 0
	for _, c := range chunks {
		n := len(sources) + 1
		excerpt := util.Truncate(strings.TrimSpace(c.Excerpt), excerptChars)
		block := formatBlock(n, c, excerpt)
		cost := ai.CountTokens(block)
		if tokenBudget > 0 && len(sources) > 0 && used+cost > tokenBudget {
			break
		}
		used += cost
		b.WriteString(block)
		sources = append(sources, common.Source{
			CitationID:   n,
			DocumentID:   c.DocumentID,
			Filename:     c.Filename,
			CaseNumber:   c.CaseNumber,
			DocumentKind: c.DocumentKind,
			Page:         c.Page,
			Paragraph:    c.Paragraph,
			Similarity:   c.Similarity,
			Excerpt:      excerpt,
		})
	}
	return strings.TrimRight(b.String(), "\n"), sources
}

func formatBlock(n int, c common.Chunk, excerpt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[CITA-%d]\n", n)
	fmt.Fprintf(&b, "Archivo: %s\n", c.Filename)
	if c.DocumentKind != "" {
		fmt.Fprintf(&b, "Tipo de documento: %s\n", c.DocumentKind)
	}
	if c.CaseNumber != "" {
		fmt.Fprintf(&b, "NUC: %s\n", c.CaseNumber)
	}
	fmt.Fprintf(&b, "Página: %d, párrafo: %d\n", c.Page, c.Paragraph)
	fmt.Fprintf(&b, "Similitud: %.2f\n", c.Similarity)
	if s := strings.TrimSpace(c.AnalyticSnippet); s != "" {
		fmt.Fprintf(&b, "Resumen analítico: %s\n", util.Truncate(s, snippetChars))
	}
	fmt.Fprintf(&b, "Extracto: %s\n\n", excerpt)
	return b.String()
}
