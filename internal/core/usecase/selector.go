package usecase

import (
	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
)

// selectContexts greedily picks the final ordered subset of an already
// ranked candidate list. The walk never reorders: a candidate that would
// overflow the character budget is skipped, not a stopping point, because a
// later shorter candidate may still fit.
//
// The first accepted candidate is admitted even when it alone exceeds the
// budget, so a query never comes back empty just because the best chunk is
// oversized.
func selectContexts(query string, ranked []domain.Candidate, requestedMax, charBudget int) []domain.RetrievedContext {
	if requestedMax <= 0 || len(ranked) == 0 {
		return nil
	}
	if charBudget <= 0 {
		charBudget = domain.DefaultContextCharBudget
	}

	optimal := optimalContextCount(classifyComplexity(query), requestedMax)

	selected := make([]domain.RetrievedContext, 0, optimal)
	totalChars := 0
	for _, candidate := range ranked {
		if len(selected) >= optimal {
			break
		}
		contentLen := len(candidate.Content)
		if len(selected) > 0 && totalChars+contentLen > charBudget {
			continue
		}

		totalChars += contentLen
		meta := contextMetadata(candidate)
		meta[domain.MetaPosition] = len(selected) + 1
		meta[domain.MetaTotalChars] = totalChars
		selected = append(selected, domain.RetrievedContext{
			Content:  candidate.Content,
			Metadata: meta,
		})
	}
	return selected
}

// contextMetadata builds the caller-facing metadata for one candidate:
// the original chunk metadata plus document identity and whichever scores
// the pipeline computed.
func contextMetadata(c domain.Candidate) map[string]any {
	meta := c.CloneMetadata()
	meta[domain.MetaDocumentID] = c.DocumentID
	meta[domain.MetaChunkIndex] = c.ChunkIndex
	if c.HasVectorScore {
		meta[domain.MetaSimilarity] = c.VectorScore
	}
	if c.HasKeywordScore {
		meta[domain.MetaKeywordScore] = c.KeywordScore
	}
	if c.HasHybridScore {
		meta[domain.MetaHybridScore] = c.HybridScore
	}
	if c.HasRerankScore {
		meta[domain.MetaRerankScore] = c.RerankScore
	}
	return meta
}
