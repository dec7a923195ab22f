package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
	"github.com/OFFIS-RIT/indaga/backend/pkg/store"
)

type fakeRelational struct {
	rels      []common.ExtractedRelation
	relsErr   error
	co        []store.CoOccurrence
	mentions  []store.Mention
	top       []common.ExtractedRelation
	places    []store.PlaceMention
	placeArgs []string
	doc       common.Document
	persons   []common.Person
	orgs      []common.Organization
	docPlaces []common.Place
}

func (f *fakeRelational) RelationsForSeeds(ctx context.Context, seeds []string, method common.ExtractionMethod, minConfidence float64, limit int) ([]common.ExtractedRelation, error) {
	if method != common.MethodLLM || minConfidence != MinSemanticConfidence {
		return nil, fmt.Errorf("unexpected method %s or floor %v", method, minConfidence)
	}
	return f.rels, f.relsErr
}

func (f *fakeRelational) CoOccurrences(ctx context.Context, seeds []string, limit int) ([]store.CoOccurrence, error) {
	return f.co, nil
}

func (f *fakeRelational) SeedMentions(ctx context.Context, seeds []string, limit int) ([]store.Mention, error) {
	return f.mentions, nil
}

func (f *fakeRelational) TopRelations(ctx context.Context, method common.ExtractionMethod, minConfidence float64, hubs, limit int) ([]common.ExtractedRelation, error) {
	return f.top, nil
}

func (f *fakeRelational) PlaceMentions(ctx context.Context, places []string, limit int) ([]store.PlaceMention, error) {
	f.placeArgs = places
	return f.places, nil
}

func (f *fakeRelational) DocumentEntities(ctx context.Context, id string) ([]common.Person, []common.Organization, []common.Place, error) {
	return f.persons, f.orgs, f.docPlaces, nil
}

func (f *fakeRelational) Document(ctx context.Context, id string) (common.Document, error) {
	if f.doc.ID != id {
		return common.Document{}, errors.New("not found")
	}
	return f.doc, nil
}

type fakeTriples struct {
	triples []Triple
	err     error
	calls   int
}

func (f *fakeTriples) MostConnected(ctx context.Context, hubs, limit int) ([]Triple, error) {
	f.calls++
	return f.triples, f.err
}

func (f *fakeTriples) Geographic(ctx context.Context, keys []string, limit int) ([]Triple, error) {
	f.calls++
	return f.triples, f.err
}

func (f *fakeTriples) DocumentMentions(ctx context.Context, id string, limit int) ([]Triple, error) {
	f.calls++
	return f.triples, f.err
}

func nodeByName(g common.SubGraph, name string) (common.GraphNode, bool) {
	for _, n := range g.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return common.GraphNode{}, false
}

const ana = "Ana Matilde Guzmán Borja"

func victimRelations() []common.ExtractedRelation {
	return []common.ExtractedRelation{
		{Source: ana, Target: "Frente 5 FARC", Kind: common.KindVictimOf, DocumentID: "d1", Confidence: 0.9, Method: common.MethodLLM},
		{Source: "Luis Guzmán", Target: ana, Kind: common.KindSon, DocumentID: "d1", Confidence: 0.8, Method: common.MethodLLM},
		{Source: ana, Target: "Fiscalía General de la Nación", Kind: common.KindVictimOf, DocumentID: "d2", Confidence: 0.9, Method: common.MethodLLM},
		{Source: ana, Target: "Unión Patriótica", Kind: common.KindMemberOf, DocumentID: "d2", Confidence: 0.7, Method: common.MethodLLM},
		{Source: ana, Target: "Frente 5 FARC", Kind: common.KindVictimOf, DocumentID: "d3", Confidence: 0.7, Method: common.MethodLLM},
	}
}

func TestBuildSemanticGraphForVictim(t *testing.T) {
	lex := lexicon.Default()
	a := New(&fakeRelational{rels: victimRelations()}, nil, lex)

	g := a.Build(context.Background(), []string{ana}, 50)

	if len(g.Edges) != 3 {
		t.Fatalf("expected 3 edges, got %+v", g.Edges)
	}
	for _, e := range g.Edges {
		target, _ := nodeByNameID(g, e.Target)
		if e.Type == common.KindVictimOf && lex.IsStateInstitution(target.Name) {
			t.Fatalf("victim_of edge toward a state institution: %+v", e)
		}
	}
	want := map[string]struct {
		typ   string
		level int
	}{
		ana:                {common.NodeVictim, 0},
		"Frente 5 FARC":    {common.NodeIllegalEntity, 2},
		"Luis Guzmán":      {common.NodeRelative, 1},
		"Unión Patriótica": {common.NodeOrganization, 2},
	}
	for name, w := range want {
		n, ok := nodeByName(g, name)
		if !ok || n.Type != w.typ || n.Level != w.level {
			t.Fatalf("node %q = %+v, want type %s level %d", name, n, w.typ, w.level)
		}
	}
	if g.Nodes[0].Name != ana || g.Nodes[0].Metadata["seed"] != true {
		t.Fatalf("seed must come first, got %+v", g.Nodes[0])
	}
	if g.Config.NodeColors[common.NodeVictim] == "" || g.Config.EdgeColors[common.KindVictimOf] == "" {
		t.Fatal("config is missing color maps")
	}

	var farcEdge common.GraphEdge
	for _, e := range g.Edges {
		if e.Type == common.KindVictimOf {
			farcEdge = e
		}
	}
	docs, _ := farcEdge.Metadata["documents"].([]string)
	if farcEdge.Weight != 0.9 || !slices.Equal(docs, []string{"d1", "d3"}) {
		t.Fatalf("repeated edge not merged: %+v", farcEdge)
	}
}

func nodeByNameID(g common.SubGraph, id string) (common.GraphNode, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return common.GraphNode{}, false
}

func TestBuildFallsBackToCoOccurrence(t *testing.T) {
	cases := []struct {
		name string
		rel  *fakeRelational
	}{
		{"no semantic edges", &fakeRelational{}},
		{"semantic query failed", &fakeRelational{relsErr: errors.New("db timeout")}},
		{"only suppressed edges", &fakeRelational{rels: []common.ExtractedRelation{
			{Source: ana, Target: "Juzgado 2 Penal", Kind: common.KindVictimOf, Confidence: 0.9},
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.rel.co = []store.CoOccurrence{{Source: ana, Target: "Pedro Rangel", SharedDocuments: 2, DocumentIDs: []string{"d1", "d2"}}}
			tc.rel.mentions = []store.Mention{{Name: ana, Role: common.RoleVictim, DocumentID: "d1", Filename: "a.pdf"}}
			g := New(tc.rel, nil, lexicon.Default()).Build(context.Background(), []string{ana}, 50)

			if len(g.Edges) != 1 || g.Edges[0].Type != common.KindCoOccursWith || g.Edges[0].Weight != 2 {
				t.Fatalf("unexpected fallback edges %+v", g.Edges)
			}
			if n, _ := nodeByName(g, ana); n.Type != common.NodeVictim {
				t.Fatalf("seed type = %q, want victim", n.Type)
			}
			if !strings.HasPrefix(g.Config.Title, "Co-ocurrencias") {
				t.Fatalf("title = %q", g.Config.Title)
			}
		})
	}
}

func TestFallbackNonEmptyWhenSeedIsMentioned(t *testing.T) {
	rel := &fakeRelational{mentions: []store.Mention{
		{Name: "Oswaldo Olivo", Role: common.RoleUnclassified, DocumentID: "d9", Filename: "auto.pdf"},
	}}
	g := New(rel, nil, lexicon.Default()).Build(context.Background(), []string{"Oswaldo Olivo"}, 50)
	if len(g.Nodes) != 2 || len(g.Edges) != 1 || g.Edges[0].Type != KindMentionedIn {
		t.Fatalf("expected seed and document, got %+v", g)
	}
	if doc, _ := nodeByName(g, "auto.pdf"); doc.Type != common.NodeDocument {
		t.Fatalf("document node = %+v", doc)
	}
}

func TestBuildCapsNodes(t *testing.T) {
	var rels []common.ExtractedRelation
	for i := range 10 {
		rels = append(rels, common.ExtractedRelation{
			Source: ana, Target: fmt.Sprintf("Persona %c", 'A'+i), Kind: common.KindAppearsWith,
			Confidence: 0.9, DocumentID: "d1", Method: common.MethodLLM,
		})
	}
	g := New(&fakeRelational{rels: rels}, nil, lexicon.Default()).Build(context.Background(), []string{ana}, 4)
	if len(g.Nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(g.Nodes))
	}
	if g.Nodes[0].Name != ana {
		t.Fatalf("seed dropped by the cap: %+v", g.Nodes)
	}
	kept := map[string]bool{}
	for _, n := range g.Nodes {
		kept[n.ID] = true
	}
	for _, e := range g.Edges {
		if !kept[e.Source] || !kept[e.Target] {
			t.Fatalf("edge with a dropped endpoint: %+v", e)
		}
	}
}

func TestBuildWithoutSeeds(t *testing.T) {
	g := New(&fakeRelational{}, nil, lexicon.Default()).Build(context.Background(), []string{" ", ""}, 50)
	if g.Nodes == nil || g.Edges == nil || len(g.Nodes) != 0 {
		t.Fatalf("expected an empty, non-nil graph, got %+v", g)
	}
}

func TestPredefinedFallBackToRelational(t *testing.T) {
	triples := &fakeTriples{err: errors.New("neo4j unavailable")}
	rel := &fakeRelational{
		top: victimRelations(),
		places: []store.PlaceMention{
			{Place: "Bogotá", Name: ana, Role: common.RoleVictim, DocumentID: "d1"},
			{Place: "Bogotá D.C.", Name: ana, Role: common.RoleVictim, DocumentID: "d2"},
		},
		doc:     common.Document{ID: "d1", Filename: "sentencia.pdf"},
		persons: []common.Person{{Name: ana, Role: common.RoleVictim}},
		orgs:    []common.Organization{{Name: "Frente 5 FARC", Kind: common.OrgIllegalForce}},
	}
	a := New(rel, triples, lexicon.Default())
	ctx := context.Background()

	if g := a.MostConnected(ctx, 20); len(g.Edges) != 3 {
		t.Fatalf("most connected fallback = %+v", g.Edges)
	}

	g := a.Geographic(ctx, "Distrito Capital", "", 20)
	if !slices.Contains(rel.placeArgs, "Bogotá") || !slices.Contains(rel.placeArgs, "Santa Fe de Bogotá") {
		t.Fatalf("place variants not expanded: %v", rel.placeArgs)
	}
	if len(g.Edges) != 2 || g.Edges[0].Type != KindLocatedIn {
		t.Fatalf("geographic fallback = %+v", g.Edges)
	}

	g = a.DocumentGraph(ctx, "d1", 20)
	if len(g.Nodes) != 3 || g.Nodes[0].Type != common.NodeDocument {
		t.Fatalf("document fallback = %+v", g.Nodes)
	}
	if n, _ := nodeByName(g, "Frente 5 FARC"); n.Type != common.NodeIllegalEntity {
		t.Fatalf("organization type = %q", n.Type)
	}
	if triples.calls != 3 {
		t.Fatalf("graph store queried %d times, want 3", triples.calls)
	}
}

func TestPredefinedFromTriples(t *testing.T) {
	triples := &fakeTriples{triples: []Triple{
		{Source: ana, SourceLabel: LabelPerson, SourceRole: "victim", Relation: KindMentionedIn, Target: "sentencia.pdf", TargetLabel: LabelDocument, Weight: 1, DocumentID: "d1"},
		{Source: "Frente 5 FARC", SourceLabel: LabelOrganization, Relation: KindMentionedIn, Target: "sentencia.pdf", TargetLabel: LabelDocument, Weight: 1, DocumentID: "d1"},
		{Source: ana, SourceLabel: LabelPerson, Relation: common.KindVictimOf, Target: "Tribunal Superior", TargetLabel: LabelOrganization, Weight: 1, DocumentID: "d1"},
	}}
	g := New(&fakeRelational{}, triples, lexicon.Default()).DocumentGraph(context.Background(), "d1", 20)
	if len(g.Edges) != 2 {
		t.Fatalf("expected the institution edge dropped, got %+v", g.Edges)
	}
	if n, _ := nodeByName(g, ana); n.Type != common.NodeVictim {
		t.Fatalf("victim type from role = %+v", n)
	}
	if n, _ := nodeByName(g, "sentencia.pdf"); n.ID != "d:d1" || n.Level != 4 {
		t.Fatalf("document node = %+v", n)
	}
}
