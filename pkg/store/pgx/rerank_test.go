package pgx

import (
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
)

func TestQueryKeywords(t *testing.T) {
	got := queryKeywords("¿Cuál fue la relación entre Oswaldo Olivo y la Unión Patriótica? Oswaldo")
	want := []string{"oswaldo", "olivo", "union", "patriotica"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("queryKeywords = %v, want %v", got, want)
	}
}

func TestRerankPrefersAgreement(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	rows := []chunkRow{
		{ID: 1, Chunk: common.Chunk{ID: "1", Excerpt: "texto sin relación"}, Distance: f(0.30)},
		{ID: 2, Chunk: common.Chunk{ID: "2", Excerpt: "Oswaldo Olivo militante de la Unión Patriótica"}, Distance: f(0.35), Rank: f(0.8)},
		{ID: 3, Chunk: common.Chunk{ID: "3", Excerpt: "Unión Patriótica"}, Rank: f(0.9)},
	}
	got := rerankChunkResults(rows, queryKeywords("Oswaldo Olivo Unión Patriótica"), 3)
	if len(got) != 3 || got[0].ID != "2" {
		t.Fatalf("expected chunk 2 first, got %+v", got)
	}
	for _, c := range got {
		if c.Similarity < 0 || c.Similarity > 1 {
			t.Fatalf("similarity out of range: %+v", c)
		}
	}
	if got := rerankChunkResults(rows, nil, 1); len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("without keywords the closest dense hit wins, got %+v", got)
	}
}

func TestChunkSimilarity(t *testing.T) {
	tests := []struct {
		name string
		c    hybridDiscoveryCandidate
		want float64
	}{
		{"dense", hybridDiscoveryCandidate{SemanticDistance: 0.2}, 0.8},
		{"lexical only full coverage", hybridDiscoveryCandidate{SemanticDistance: maxCosineDistance, KeywordMatches: 2, KeywordTotal: 2}, 0.7},
		{"lexical only no keywords", hybridDiscoveryCandidate{SemanticDistance: maxCosineDistance}, 0},
		{"far dense", hybridDiscoveryCandidate{SemanticDistance: 1.5}, 0},
	}
	for _, tc := range tests {
		if got := chunkSimilarity(tc.c); got < tc.want-1e-9 || got > tc.want+1e-9 {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCandidateLimit(t *testing.T) {
	for _, tc := range []struct{ in, want int32 }{{0, 60}, {1, 40}, {10, 60}, {100, 240}} {
		if got := candidateLimit(tc.in); got != tc.want {
			t.Fatalf("candidateLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
