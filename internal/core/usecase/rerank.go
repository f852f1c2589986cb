package usecase

import (
	"sort"
	"strings"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
)

// RerankConfig holds the hand-tuned bonus weights of the composite
// relevance score. The defaults mirror production tuning; the mechanism
// (multi-factor composite scoring) is what matters, not the exact numbers.
type RerankConfig struct {
	SweetSpotBonus float64
	ShortPenalty   float64
	LongPenalty    float64
	KeywordBonus   float64
	QuestionBonus  float64
	PositionBonus  float64
	PositionDecay  float64

	SweetSpotMinChars int
	SweetSpotMaxChars int
	ShortMaxChars     int
	LongMinChars      int
}

func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		SweetSpotBonus: 0.10,
		ShortPenalty:   0.20,
		LongPenalty:    0.10,
		KeywordBonus:   0.15,
		QuestionBonus:  0.05,
		PositionBonus:  0.02,
		PositionDecay:  0.005,

		SweetSpotMinChars: 200,
		SweetSpotMaxChars: 800,
		ShortMaxChars:     100,
		LongMinChars:      1500,
	}
}

var interrogativeWords = []string{"what", "how", "why", "when", "where", "who"}

var explanatoryMarkers = []string{"because", "since", "due to", "reason", "cause"}

// rerankCandidates reorders an over-fetched candidate pool by a composite
// heuristic score, independent of the original retrieval order. It is a pure
// permutation: no candidate is added or dropped. The composite score and the
// 1-based rank are recorded on each candidate for observability.
func rerankCandidates(query string, candidates []domain.Candidate, cfg RerankConfig) []domain.Candidate {
	if len(candidates) == 0 {
		return candidates
	}

	queryWords := wordSet(query)
	queryLower := strings.ToLower(query)
	isQuestion := containsAny(queryLower, interrogativeWords)

	out := make([]domain.Candidate, len(candidates))
	copy(out, candidates)

	for i := range out {
		score := out[i].BestScore()
		score += lengthBonus(len(out[i].Content), cfg)
		score += cfg.KeywordBonus * wordOverlap(queryWords, wordSet(out[i].Content))
		if isQuestion && containsAny(strings.ToLower(out[i].Content), explanatoryMarkers) {
			score += cfg.QuestionBonus
		}
		score += positionBonus(out[i].ChunkIndex, cfg)

		out[i].RerankScore = clamp01(score)
		out[i].HasRerankScore = true
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RerankScore > out[j].RerankScore
	})

	for i := range out {
		meta := out[i].CloneMetadata()
		meta[domain.MetaRerankPosition] = i + 1
		meta[domain.MetaRerankScore] = out[i].RerankScore
		out[i].Metadata = meta
	}
	return out
}

// lengthBonus prefers chunks in the usable sweet spot: very short chunks
// carry too little signal, very long ones dilute the prompt.
func lengthBonus(contentLen int, cfg RerankConfig) float64 {
	switch {
	case contentLen >= cfg.SweetSpotMinChars && contentLen <= cfg.SweetSpotMaxChars:
		return cfg.SweetSpotBonus
	case contentLen < cfg.ShortMaxChars:
		return -cfg.ShortPenalty
	case contentLen > cfg.LongMinChars:
		return -cfg.LongPenalty
	default:
		return 0
	}
}

// positionBonus decays fast: it cannot dominate at chunk_index >= 4.
func positionBonus(chunkIndex int, cfg RerankConfig) float64 {
	if chunkIndex < 0 {
		return 0
	}
	bonus := cfg.PositionBonus - float64(chunkIndex)*cfg.PositionDecay
	if bonus < 0 {
		return 0
	}
	return bonus
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

func wordOverlap(query, content map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	matches := 0
	for w := range query {
		if _, ok := content[w]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
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
