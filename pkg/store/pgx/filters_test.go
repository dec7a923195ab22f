package pgx

import (
	"reflect"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
)

func TestGeographicVariantSymmetry(t *testing.T) {
	lex := lexicon.Default()
	for _, places := range []map[string][]string{lex.Departments, lex.Municipalities} {
		for name, variants := range places {
			var ref Args
			refFC := BuildFilters(lex, common.FilterSet{Department: name}, &ref)
			for _, v := range variants {
				var got Args
				fc := BuildFilters(lex, common.FilterSet{Department: v}, &got)
				if !reflect.DeepEqual(fc.Conds, refFC.Conds) || !reflect.DeepEqual(got, ref) {
					t.Fatalf("variant %q of %q builds a different query:\n%v %v\n%v %v", v, name, fc.Conds, got, refFC.Conds, ref)
				}
			}
		}
	}
}

func TestFiltersAreBound(t *testing.T) {
	lex := lexicon.Default()
	evil := "Antioquia' OR 1=1 --"
	var a Args
	fc := BuildFilters(lex, common.FilterSet{
		Department:   evil,
		DocumentKind: "sentencia",
		CaseNumbers:  []string{"110016000253200680281"},
		PersonName:   "100%_real",
	}, &a)
	sql := "SELECT 1 FROM documents d " + fc.Where()
	if strings.Contains(sql, "1=1") || strings.Contains(sql, "sentencia") || strings.Contains(sql, "110016000253200680281") {
		t.Fatalf("user values leaked into SQL:\n%s", sql)
	}
	found := false
	for _, v := range a {
		if s, ok := v.(string); ok && s == `%100\%\_real%` {
			found = true
		}
	}
	if !found {
		t.Fatalf("LIKE wildcards in values must be escaped, args=%v", a)
	}
}

func TestDepartmentAndMunicipalityBothRequired(t *testing.T) {
	var a Args
	fc := BuildFilters(lexicon.Default(), common.FilterSet{Department: "Antioquia", Municipality: "Medellín"}, &a)
	if len(fc.Conds) != 2 {
		t.Fatalf("expected two independent place conditions, got %v", fc.Conds)
	}
	if !strings.Contains(fc.Conds[0], "EXISTS") || !strings.Contains(fc.Conds[1], "EXISTS") {
		t.Fatalf("place conditions must be correlated subqueries: %v", fc.Conds)
	}
	if !strings.Contains(fc.Where(), " AND ") {
		t.Fatal("place conditions must be conjoined")
	}
}
