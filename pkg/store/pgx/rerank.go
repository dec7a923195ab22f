package pgx

import (
	"sort"
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
)

const rrfK = 60.0

type hybridDiscoveryCandidate struct {
	Index            int
	ID               int64
	SemanticDistance float64
	KeywordRank      float64
	KeywordMatches   int32
	KeywordTotal     int32
}

// Spanish function words that never count as keywords.
var stopwords = map[string]struct{}{
	"para": {}, "como": {}, "sobre": {}, "entre": {}, "desde": {}, "hasta": {}, "cual": {},
	"cuales": {}, "quien": {}, "quienes": {}, "donde": {}, "cuando": {}, "porque": {},
	"esta": {}, "este": {}, "estos": {}, "estas": {}, "aquel": {}, "ellos": {}, "ellas": {},
	"sus": {}, "fue": {}, "fueron": {}, "hay": {}, "tiene": {}, "tienen": {}, "pero": {},
	"dame": {}, "muestrame": {}, "segun": {}, "contra": {}, "todos": {},
	"todas": {}, "otro": {}, "otra": {}, "tambien": {}, "puede": {}, "relacion": {},
}

// queryKeywords returns the distinct content words of a question, folded.
func queryKeywords(text string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, w := range strings.FieldsFunc(util.Fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) < 4 {
			continue
		}
		if _, ok := stopwords[w]; ok {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func keywordMatches(content string, keywords []string) int32 {
	if len(keywords) == 0 {
		return 0
	}
	folded := util.Fold(content)
	var n int32
	for _, k := range keywords {
		if strings.Contains(folded, k) {
			n++
		}
	}
	return n
}

func candidateLimit(limit int32) int32 {
	if limit <= 0 {
		limit = 10
	}

	candidateLimit := min(max(limit*6, 40), 240)

	return candidateLimit
}

func keywordCoverage(matches, total int32) float64 {
	if total <= 0 {
		return 0
	}
	coverage := float64(matches) / float64(total)
	if coverage < 0 {
		return 0
	}
	if coverage > 1 {
		return 1
	}
	return coverage
}

func buildRankPositions(
	candidates []hybridDiscoveryCandidate,
	less func(a, b hybridDiscoveryCandidate) bool,
) map[int]int {
	order := make([]int, len(candidates))
	for i := range candidates {
		order[i] = i
	}

	sort.SliceStable(order, func(i, j int) bool {
		return less(candidates[order[i]], candidates[order[j]])
	})

	positions := make(map[int]int, len(candidates))
	for rank, index := range order {
		positions[index] = rank + 1
	}

	return positions
}

func rrfComponent(rank int, weight float64) float64 {
	if rank <= 0 {
		return 0
	}
	return weight / (rrfK + float64(rank))
}

// selectRerankedCandidateIndexes fuses the dense ranking with the lexical
// rank and keyword coverage rankings by reciprocal rank fusion.
func selectRerankedCandidateIndexes(candidates []hybridDiscoveryCandidate, limit int32) []int {
	if len(candidates) == 0 || limit <= 0 {
		return nil
	}

	semanticRanks := buildRankPositions(candidates, func(a, b hybridDiscoveryCandidate) bool {
		if a.SemanticDistance == b.SemanticDistance {
			return a.ID < b.ID
		}
		return a.SemanticDistance < b.SemanticDistance
	})

	hasKeywords := false
	for _, candidate := range candidates {
		if candidate.KeywordTotal > 0 {
			hasKeywords = true
			break
		}
	}

	keywordRanks := map[int]int{}
	coverageRanks := map[int]int{}
	if hasKeywords {
		keywordRanks = buildRankPositions(candidates, func(a, b hybridDiscoveryCandidate) bool {
			if a.KeywordRank == b.KeywordRank {
				if a.KeywordMatches == b.KeywordMatches {
					if a.SemanticDistance == b.SemanticDistance {
						return a.ID < b.ID
					}
					return a.SemanticDistance < b.SemanticDistance
				}
				return a.KeywordMatches > b.KeywordMatches
			}
			return a.KeywordRank > b.KeywordRank
		})

		coverageRanks = buildRankPositions(candidates, func(a, b hybridDiscoveryCandidate) bool {
			coverageA := keywordCoverage(a.KeywordMatches, a.KeywordTotal)
			coverageB := keywordCoverage(b.KeywordMatches, b.KeywordTotal)
			if coverageA == coverageB {
				if a.KeywordMatches == b.KeywordMatches {
					if a.SemanticDistance == b.SemanticDistance {
						return a.ID < b.ID
					}
					return a.SemanticDistance < b.SemanticDistance
				}
				return a.KeywordMatches > b.KeywordMatches
			}
			return coverageA > coverageB
		})
	}

	type scoredCandidate struct {
		Candidate hybridDiscoveryCandidate
		Score     float64
	}

	scored := make([]scoredCandidate, len(candidates))
	for i, candidate := range candidates {
		score := rrfComponent(semanticRanks[candidate.Index], 1.0)
		if hasKeywords {
			score += rrfComponent(keywordRanks[candidate.Index], 1.0)
			score += rrfComponent(coverageRanks[candidate.Index], 1.0)
		}

		scored[i] = scoredCandidate{Candidate: candidate, Score: score}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			if scored[i].Candidate.SemanticDistance == scored[j].Candidate.SemanticDistance {
				if scored[i].Candidate.KeywordMatches == scored[j].Candidate.KeywordMatches {
					return scored[i].Candidate.ID < scored[j].Candidate.ID
				}
				return scored[i].Candidate.KeywordMatches > scored[j].Candidate.KeywordMatches
			}
			return scored[i].Candidate.SemanticDistance < scored[j].Candidate.SemanticDistance
		}
		return scored[i].Score > scored[j].Score
	})

	if limit > int32(len(scored)) {
		limit = int32(len(scored))
	}

	selected := make([]int, 0, limit)
	for i := int32(0); i < limit; i++ {
		selected = append(selected, scored[i].Candidate.Index)
	}

	return selected
}

// chunkRow is a hybrid search hit before fusion. Distance is nil for
// lexical-only hits and Rank is nil for dense-only hits.
type chunkRow struct {
	ID       int64
	Chunk    common.Chunk
	Distance *float64
	Rank     *float64
}

// maxCosineDistance stands in for hits the dense leg did not return.
const maxCosineDistance = 2.0

func rerankChunkResults(rows []chunkRow, keywords []string, limit int32) []common.Chunk {
	candidates := make([]hybridDiscoveryCandidate, len(rows))
	for i, row := range rows {
		c := hybridDiscoveryCandidate{
			Index:            i,
			ID:               row.ID,
			SemanticDistance: maxCosineDistance,
			KeywordMatches:   keywordMatches(row.Chunk.Excerpt, keywords),
			KeywordTotal:     int32(len(keywords)),
		}
		if row.Distance != nil {
			c.SemanticDistance = *row.Distance
		}
		if row.Rank != nil {
			c.KeywordRank = *row.Rank
		}
		candidates[i] = c
	}

	indexes := selectRerankedCandidateIndexes(candidates, limit)
	ranked := make([]common.Chunk, 0, len(indexes))
	for _, index := range indexes {
		chunk := rows[index].Chunk
		chunk.Similarity = chunkSimilarity(candidates[index])
		ranked = append(ranked, chunk)
	}
	return ranked
}

// chunkSimilarity maps a candidate to [0,1]. Dense hits use cosine
// similarity; lexical-only hits are scored by keyword coverage and never
// exceed 0.7.
func chunkSimilarity(c hybridDiscoveryCandidate) float64 {
	lexical := 0.7 * keywordCoverage(c.KeywordMatches, c.KeywordTotal)
	if c.SemanticDistance >= maxCosineDistance {
		return lexical
	}
	return clamp01(max(1-c.SemanticDistance, lexical))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
