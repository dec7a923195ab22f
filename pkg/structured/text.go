package structured

import (
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
)

const previewNames = 10

func listingText(res common.StructuredResult) string {
	var b strings.Builder
	if len(res.Victims) == 0 && len(res.Sources) == 0 {
		b.WriteString("No se encontraron registros para los filtros aplicados")
		if len(res.AppliedFilters) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(res.AppliedFilters, "; "))
		}
		b.WriteString(".")
		return b.String()
	}

	total := max(res.Total, len(res.Victims))
	fmt.Fprintf(&b, "Se identificaron %d víctimas en %d documentos", total, len(res.Sources))
	if len(res.AppliedFilters) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(res.AppliedFilters, "; "))
	}
	b.WriteString(".")

	if len(res.Victims) > 0 {
		b.WriteString("\n\nVíctimas con más menciones:\n")
		for i, v := range res.Victims {
			if i == previewNames {
				fmt.Fprintf(&b, "- … y %d más\n", len(res.Victims)-previewNames)
				break
			}
			fmt.Fprintf(&b, "- %s: %d menciones en %d documentos\n", v.Name, v.Mentions, v.Documents)
		}
	}
	if res.ExecutionKind == ExecDefaultListing {
		fmt.Fprintf(&b, "\nPágina %d, %d resultados por página.", res.Page, res.PageSize)
	}
	return strings.TrimRight(b.String(), "\n")
}

func dossierText(name string, docs []common.DocumentRef) string {
	if len(docs) == 0 {
		return fmt.Sprintf("No se encontraron documentos que mencionen a %s.", name)
	}
	mentions := 0
	for _, d := range docs {
		mentions += d.Mentions
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s aparece en %d documentos (%d menciones registradas).", name, len(docs), mentions)
	b.WriteString("\n\nDocumentos:\n")
	for i, d := range docs {
		if i == previewNames {
			fmt.Fprintf(&b, "- … y %d más\n", len(docs)-previewNames)
			break
		}
		fmt.Fprintf(&b, "- %s", d.Filename)
		if d.CaseNumber != "" {
			fmt.Fprintf(&b, ", NUC %s", d.CaseNumber)
		}
		if d.DocumentKind != "" {
			fmt.Fprintf(&b, ", %s", d.DocumentKind)
		}
		if d.Mentions > 0 {
			fmt.Fprintf(&b, " (%d menciones)", d.Mentions)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
