package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
)

type fakeSource struct {
	docs []common.Document
	rels []common.ExtractedRelation
}

func (f *fakeSource) DocumentsAfter(ctx context.Context, afterID string, limit int) ([]common.Document, error) {
	var out []common.Document
	for _, d := range f.docs {
		if d.ID > afterID && len(out) < limit {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeSource) DocumentEntities(ctx context.Context, id string) ([]common.Person, []common.Organization, []common.Place, error) {
	return []common.Person{{Name: "Oswaldo Olivo", Role: common.RoleVictim}},
		[]common.Organization{{Name: "Frente 5 FARC", Kind: common.OrgIllegalForce}},
		nil, nil
}

func (f *fakeSource) RelationsAfter(ctx context.Context, afterID int64, limit int) ([]common.ExtractedRelation, error) {
	var out []common.ExtractedRelation
	for _, r := range f.rels {
		if r.ID > afterID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

type write struct {
	cypher string
	rows   []map[string]any
}

type fakeWriter struct {
	writes []write
	failOn string
}

func (f *fakeWriter) Write(ctx context.Context, cypher string, params map[string]any) error {
	if f.failOn != "" && strings.Contains(cypher, f.failOn) {
		return errors.New("write failed")
	}
	rows, _ := params["rows"].([]map[string]any)
	f.writes = append(f.writes, write{cypher: cypher, rows: rows})
	return nil
}

func (f *fakeWriter) matching(fragment string) []write {
	var out []write
	for _, w := range f.writes {
		if strings.Contains(w.cypher, fragment) {
			out = append(out, w)
		}
	}
	return out
}

func TestLoaderLoad(t *testing.T) {
	src := &fakeSource{
		docs: []common.Document{{ID: "a", Filename: "a.pdf"}, {ID: "b", Filename: "b.pdf"}, {ID: "c", Filename: "c.pdf"}},
		rels: []common.ExtractedRelation{
			{ID: 1, Source: "Oswaldo Olivo", Target: "Frente 5 FARC", Kind: common.KindVictimOf, DocumentID: "a", Method: common.MethodLLM, Confidence: 0.9},
			{ID: 2, Source: "Oswaldo Olivo", Target: "Fiscalía General de la Nación", Kind: common.KindVictimOf, DocumentID: "a", Method: common.MethodLLM, Confidence: 0.9},
			{ID: 3, Source: "Pedro Rangel", Target: "Oswaldo Olivo", Kind: common.KindBrother, DocumentID: "b", Method: common.MethodLLM, Confidence: 0.7},
		},
	}
	w := &fakeWriter{}
	stats, err := NewLoader(src, w, lexicon.Default(), 2).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stats.Documents != 3 || stats.Mentions != 6 || stats.Relations != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if got := len(w.matching("CREATE CONSTRAINT")); got != 2 {
		t.Fatalf("expected 2 schema statements, got %d", got)
	}
	if got := len(w.matching("MERGE (d:Document")); got != 2 {
		t.Fatalf("expected 2 document batches, got %d", got)
	}
	if got := len(w.matching("VICTIMA_DE")) + len(w.matching("VICTIM_OF")); got != 1 {
		t.Fatalf("expected one victim_of batch, got %d", got)
	}
	for _, wr := range w.writes {
		for _, row := range wr.rows {
			if row["name"] == "Fiscalía General de la Nación" || row["target_key"] == "fiscalia general de la nacion" {
				t.Fatalf("institution written: %+v", row)
			}
		}
	}
	orgs := w.matching("e:Organization")
	found := false
	for _, wr := range orgs {
		for _, row := range wr.rows {
			if row["name"] == "Frente 5 FARC" {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("armed group endpoint not labeled Organization")
	}
}

func TestLoaderStopsOnWriteError(t *testing.T) {
	src := &fakeSource{docs: []common.Document{{ID: "a"}}}
	w := &fakeWriter{failOn: "MERGE (d:Document"}
	if _, err := NewLoader(src, w, lexicon.Default(), 10).Load(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
}

func TestRelationLabel(t *testing.T) {
	cases := map[string]string{
		"victim_of":   "VICTIM_OF",
		"víctima de":  "VICTIMA_DE",
		"son":         "SON",
		"  ":          "RELATED_TO",
		"2nd cousin":  "R_2ND_COUSIN",
		"a}-[x]-(b":   "A_X_B",
		"member_of--": "MEMBER_OF",
	}
	for in, want := range cases {
		if got := RelationLabel(in); got != want {
			t.Fatalf("RelationLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
