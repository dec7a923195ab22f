package rag

import (
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/pkg/store"
)

const maxViewRows = 25

var viewTitles = map[string]string{
	"dashboard_metrics":    "Métricas generales del corpus",
	"top_entities":         "Entidades más mencionadas",
	"geographic_breakdown": "Distribución geográfica de los casos",
	"entity_counts":        "Conteo de entidades",
}

var columnLabels = map[string]string{
	"documents":    "documentos",
	"victims":      "víctimas",
	"perpetrators": "perpetradores",
	"relations":    "relaciones",
	"departments":  "departamentos",
	"name":         "nombre",
	"role":         "rol",
	"mentions":     "menciones",
	"department":   "departamento",
	"entity_type":  "tipo de entidad",
	"total":        "total",
}

// viewProse renders a materialized aggregation as Markdown.
func viewProse(v store.ViewResult) string {
	title := viewTitles[v.View]
	if title == "" {
		title = v.View
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", title)
	if len(v.Rows) == 0 {
		b.WriteString("\nNo hay datos agregados disponibles.")
		return b.String()
	}

	if len(v.Rows) == 1 {
		b.WriteString("\n")
		for i, col := range v.Columns {
			fmt.Fprintf(&b, "- %s: %s\n", label(col), formatValue(v.Rows[0][i]))
		}
		return strings.TrimRight(b.String(), "\n")
	}

	b.WriteString("\n")
	for n, row := range v.Rows {
		if n == maxViewRows {
			fmt.Fprintf(&b, "\n(%d filas adicionales omitidas)", len(v.Rows)-maxViewRows)
			break
		}
		parts := make([]string, 0, len(row))
		for i, col := range v.Columns {
			if i >= len(row) {
				break
			}
			parts = append(parts, label(col)+": "+formatValue(row[i]))
		}
		fmt.Fprintf(&b, "%d. %s\n", n+1, strings.Join(parts, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func label(col string) string {
	if l, ok := columnLabels[col]; ok {
		return l
	}
	return strings.ReplaceAll(col, "_", " ")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "s/d"
	case float32:
		return fmt.Sprintf("%.2f", x)
	case float64:
		return fmt.Sprintf("%.2f", x)
	case time.Time:
		return x.Format("2006-01-02")
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}
