package rag

import "github.com/OFFIS-RIT/indaga/backend/pkg/common"

const (
	MaxLLMConfidence          = 0.95
	MaxMaterializedConfidence = 0.99
	NoEvidenceConfidence      = 0.1
	maxFallbackConfidence     = 0.5

	// saturation is the source count past which more evidence stops
	// raising confidence.
	saturation = 5
)

// semanticConfidence grows with the number of sources and their mean
// similarity and never exceeds MaxLLMConfidence.
func semanticConfidence(sources []common.Source) float64 {
	if len(sources) == 0 {
		return NoEvidenceConfidence
	}
	coverage := float64(min(len(sources), saturation)) / saturation
	sum := 0.0
	for _, s := range sources {
		sum += clamp01(s.Similarity)
	}
	mean := sum / float64(len(sources))
	return min(0.3+0.65*(0.5*coverage+0.5*mean), MaxLLMConfidence)
}

// fallbackConfidence scores the extractive answer served when synthesis failed.
func fallbackConfidence(sources []common.Source) float64 {
	if len(sources) == 0 {
		return NoEvidenceConfidence
	}
	return min(semanticConfidence(sources)*0.6, maxFallbackConfidence)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
