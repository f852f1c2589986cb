package usecase

import (
	"context"
	"log/slog"
	"sort"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
)

// searchArm is one side of a hybrid search (vector or keyword).
type searchArm func(ctx context.Context) ([]domain.Candidate, error)

type armOutcome struct {
	candidates []domain.Candidate
	err        error
}

// runArms executes both search arms concurrently and waits for both. A
// failure in one arm does not cancel the other; the failed side degrades to
// an empty candidate list. Only when both arms fail does the call fail.
func runArms(ctx context.Context, vector, keyword searchArm) (vectorResults, keywordResults []domain.Candidate, err error) {
	vectorCh := make(chan armOutcome, 1)
	keywordCh := make(chan armOutcome, 1)

	go func() {
		candidates, armErr := vector(ctx)
		vectorCh <- armOutcome{candidates: candidates, err: armErr}
	}()
	go func() {
		candidates, armErr := keyword(ctx)
		keywordCh <- armOutcome{candidates: candidates, err: armErr}
	}()

	vectorOut := <-vectorCh
	keywordOut := <-keywordCh

	if vectorOut.err != nil && keywordOut.err != nil {
		return nil, nil, domain.WrapError(domain.ErrSearchBackendFailed, "hybrid search", vectorOut.err)
	}
	if vectorOut.err != nil {
		slog.Warn("vector_arm_degraded", "error", vectorOut.err)
		vectorOut.candidates = nil
	}
	if keywordOut.err != nil {
		slog.Warn("keyword_arm_degraded", "error", keywordOut.err)
		keywordOut.candidates = nil
	}
	return vectorOut.candidates, keywordOut.candidates, nil
}

// fuseHybrid merges vector and keyword result lists into one weighted
// ranking. Each list is normalized by its own maximum so the top hit of
// either method scores 1.0 and the two score scales become comparable.
// Candidates are merged by chunk id; ties keep first-seen insertion order.
func fuseHybrid(vectorResults, keywordResults []domain.Candidate, vectorWeight, bm25Weight float64) []domain.Candidate {
	if len(vectorResults) == 0 && len(keywordResults) == 0 {
		return nil
	}

	vectorMax := maxVectorScore(vectorResults)
	keywordMax := maxKeywordScore(keywordResults)

	merged := make(map[string]int, len(vectorResults)+len(keywordResults))
	out := make([]domain.Candidate, 0, len(vectorResults)+len(keywordResults))

	for _, c := range vectorResults {
		c.HybridScore = (c.VectorScore / vectorMax) * vectorWeight
		c.HasHybridScore = true
		merged[c.ChunkID] = len(out)
		out = append(out, c)
	}
	for _, c := range keywordResults {
		keywordTerm := (c.KeywordScore / keywordMax) * bm25Weight
		if idx, ok := merged[c.ChunkID]; ok {
			out[idx].KeywordScore = c.KeywordScore
			out[idx].HasKeywordScore = true
			out[idx].HybridScore += keywordTerm
			continue
		}
		c.HybridScore = keywordTerm
		c.HasHybridScore = true
		merged[c.ChunkID] = len(out)
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].HybridScore > out[j].HybridScore
	})
	return out
}

func maxVectorScore(candidates []domain.Candidate) float64 {
	max := 0.0
	for _, c := range candidates {
		if c.VectorScore > max {
			max = c.VectorScore
		}
	}
	if max <= 0 {
		return 1.0
	}
	return max
}

func maxKeywordScore(candidates []domain.Candidate) float64 {
	max := 0.0
	for _, c := range candidates {
		if c.KeywordScore > max {
			max = c.KeywordScore
		}
	}
	if max <= 0 {
		return 1.0
	}
	return max
}
