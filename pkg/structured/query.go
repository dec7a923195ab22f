package structured

import (
	"fmt"
	"strings"

	pgxstore "github.com/OFFIS-RIT/indaga/backend/pkg/store/pgx"
)

func victimsSQL(fc pgxstore.FilterClause, a *pgxstore.Args, limit, offset int) string {
	var b strings.Builder
	b.WriteString(`
WITH v AS (
    SELECT p.normalized_name, p.name, p.document_id
    FROM persons p
    JOIN documents d ON d.id = p.document_id
    `)
	b.WriteString(fc.Where("p.role ILIKE '%victim%'", "p.role NOT ILIKE '%perpetrator%'"))
	b.WriteString(`
),
g AS (
    SELECT normalized_name, min(name) AS name, count(*) AS mentions,
           count(DISTINCT document_id) AS documents,
           array_agg(DISTINCT document_id) AS doc_ids
    FROM v
    GROUP BY normalized_name
)
SELECT g.name, g.mentions, g.documents,
       coalesce((SELECT array_agg(DISTINCT pl.name ORDER BY pl.name) FROM places pl
                 WHERE pl.kind = 'department' AND pl.document_id = ANY(g.doc_ids)), '{}'),
       coalesce((SELECT array_agg(DISTINCT pl.name ORDER BY pl.name) FROM places pl
                 WHERE pl.kind = 'municipality' AND pl.document_id = ANY(g.doc_ids)), '{}'),
       count(*) OVER () AS total
FROM g
ORDER BY g.mentions DESC, g.name`)
	if limit > 0 {
		b.WriteString("\nLIMIT " + a.Add(limit) + " OFFSET " + a.Add(offset))
	}
	return b.String()
}

const documentColumns = `d.id, d.filename, coalesce(d.case_number, ''), coalesce(d.chamber, ''),
       coalesce(d.document_kind, ''), d.production_date, d.pages, coalesce(d.file_hash, ''),
       coalesce((SELECT pl.name FROM places pl WHERE pl.document_id = d.id AND pl.kind = 'department' ORDER BY pl.id LIMIT 1), ''),
       coalesce((SELECT pl.name FROM places pl WHERE pl.document_id = d.id AND pl.kind = 'municipality' ORDER BY pl.id LIMIT 1), ''),
       d.created_at`

func sourcesSQL(fc pgxstore.FilterClause, a *pgxstore.Args, limit int) string {
	return "SELECT " + documentColumns + ", 0\nFROM documents d\n" + fc.Where() +
		"\nORDER BY d.created_at DESC, d.id\nLIMIT " + a.Add(limit)
}

func dossierSQL(name string, fc pgxstore.FilterClause, a *pgxstore.Args, limit int) string {
	p := a.Add(pgxstore.LikePattern(name))
	mention := fmt.Sprintf(
		"(SELECT count(*) FROM persons mp WHERE mp.document_id = d.id AND %s LIKE %s)",
		pgxstore.Folded("mp.name"), p)
	match := fmt.Sprintf(
		"(EXISTS (SELECT 1 FROM persons mp WHERE mp.document_id = d.id AND %s LIKE %s) OR %s LIKE %s)",
		pgxstore.Folded("mp.name"), p, pgxstore.Folded("d.analytic_summary"), p)
	return "SELECT " + documentColumns + ",\n       " + mention + " AS mentions\nFROM documents d\n" +
		fc.Where(match) + "\nORDER BY mentions DESC, d.created_at DESC, d.id\nLIMIT " + a.Add(limit)
}
