package pgx

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
)

// Args collects bound parameters and hands out their placeholders.
type Args []any

// Add binds v and returns its placeholder.
func (a *Args) Add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

// Folded wraps a column so it compares case and accent insensitively
// against LikePattern values.
func Folded(col string) string {
	return "lower(unaccent(coalesce(" + col + ", '')))"
}

// LikePattern builds a bound substring pattern for a Folded column.
func LikePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(util.Fold(s)) + "%"
}

// FilterClause holds WHERE conditions over documents aliased as d.
type FilterClause struct {
	Conds   []string
	Applied []string
}

// BuildFilters renders f as conditions over d. Every user value is bound;
// only column names and operators are literal.
func BuildFilters(lex *lexicon.Lexicon, f common.FilterSet, a *Args) FilterClause {
	var fc FilterClause

	if len(f.CaseNumbers) > 0 {
		fc.Conds = append(fc.Conds, "d.case_number = ANY("+a.Add(f.CaseNumbers)+"::text[])")
		fc.Applied = append(fc.Applied, "case_numbers="+strings.Join(f.CaseNumbers, ","))
	}
	if f.DocumentKind != "" {
		fc.Conds = append(fc.Conds, Folded("d.document_kind")+" LIKE "+a.Add(LikePattern(f.DocumentKind)))
		fc.Applied = append(fc.Applied, "document_kind="+f.DocumentKind)
	}
	if f.Chamber != "" {
		fc.Conds = append(fc.Conds, Folded("d.chamber")+" LIKE "+a.Add(LikePattern(f.Chamber)))
		fc.Applied = append(fc.Applied, "chamber="+f.Chamber)
	}
	if f.StartDate != nil {
		fc.Conds = append(fc.Conds, "d.production_date >= "+a.Add(*f.StartDate))
		fc.Applied = append(fc.Applied, "start_date="+f.StartDate.Format("2006-01-02"))
	}
	if f.EndDate != nil {
		fc.Conds = append(fc.Conds, "d.production_date <= "+a.Add(*f.EndDate))
		fc.Applied = append(fc.Applied, "end_date="+f.EndDate.Format("2006-01-02"))
	}
	// Department and municipality are matched independently against the
	// place rows of the document, so both must hold when both are given.
	if f.Department != "" {
		fc.Conds = append(fc.Conds, placeExists("department", lex.GeoVariants(f.Department), a))
		fc.Applied = append(fc.Applied, "department="+f.Department)
	}
	if f.Municipality != "" {
		fc.Conds = append(fc.Conds, placeExists("municipality", lex.GeoVariants(f.Municipality), a))
		fc.Applied = append(fc.Applied, "municipality="+f.Municipality)
	}
	if f.PersonName != "" {
		fc.Conds = append(fc.Conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM persons fp WHERE fp.document_id = d.id AND %s LIKE %s)",
			Folded("fp.name"), a.Add(LikePattern(f.PersonName))))
		fc.Applied = append(fc.Applied, "person_name="+f.PersonName)
	}
	return fc
}

// placeExists renders one disjunct per curated variant. Patterns are sorted
// so every spelling of a place yields the same query.
func placeExists(kind string, variants []string, a *Args) string {
	patterns := make([]string, 0, len(variants))
	for _, v := range variants {
		p := LikePattern(v)
		if !slices.Contains(patterns, p) {
			patterns = append(patterns, p)
		}
	}
	slices.Sort(patterns)

	disj := make([]string, 0, len(patterns))
	for _, p := range patterns {
		disj = append(disj, Folded("pl.name")+" LIKE "+a.Add(p))
	}
	return fmt.Sprintf(
		"EXISTS (SELECT 1 FROM places pl WHERE pl.document_id = d.id AND pl.kind = %s AND (%s))",
		a.Add(kind), strings.Join(disj, " OR "))
}

// Where joins extra conditions and the filter conditions with AND.
func (fc FilterClause) Where(extra ...string) string {
	conds := append(append([]string{}, extra...), fc.Conds...)
	if len(conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conds, " AND ")
}

// And is Where for clauses that already have a WHERE.
func (fc FilterClause) And() string {
	if len(fc.Conds) == 0 {
		return ""
	}
	return " AND " + strings.Join(fc.Conds, " AND ")
}
