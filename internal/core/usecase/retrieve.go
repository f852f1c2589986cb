package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
	"github.com/vporoshin/chatbot-retrieval/internal/core/ports"
)

// relaxedThresholdFactor loosens the similarity cutoff when building the
// over-fetched pool for reranking, so borderline candidates get a second
// chance from the composite scorer.
const relaxedThresholdFactor = 0.8

// minContextChars drops near-empty fragments from hybrid results.
const minContextChars = 10

// Service orchestrates the retrieval pipeline. Every public method follows
// the same contract: a fallback ladder of strategies is tried in order and
// the first success wins; when everything fails the caller gets an empty
// result, never an error. A broken retrieval layer must degrade the chat
// experience, not break the conversation.
type Service struct {
	embedder ports.Embedder
	vector   ports.VectorSearcher
	keyword  ports.KeywordSearcher
	rerank   RerankConfig
}

func NewService(embedder ports.Embedder, vector ports.VectorSearcher, keyword ports.KeywordSearcher) *Service {
	return NewServiceWithConfig(embedder, vector, keyword, DefaultRerankConfig())
}

func NewServiceWithConfig(embedder ports.Embedder, vector ports.VectorSearcher, keyword ports.KeywordSearcher, rerank RerankConfig) *Service {
	if rerank == (RerankConfig{}) {
		rerank = DefaultRerankConfig()
	}
	return &Service{
		embedder: embedder,
		vector:   vector,
		keyword:  keyword,
		rerank:   rerank,
	}
}

type retrievalStrategy struct {
	name string
	mode domain.RetrievalMode
	run  func(ctx context.Context, query, tenantID string, settings domain.RetrievalSettings) ([]domain.RetrievedContext, error)
}

// Retrieve is vector-only retrieval: embed, search above the threshold,
// map to contexts.
func (s *Service) Retrieve(ctx context.Context, req domain.RetrievalRequest) domain.RetrievalResult {
	return s.execute(ctx, req, []retrievalStrategy{s.vectorStrategy()})
}

// RetrieveHybrid fuses concurrent vector and keyword searches; when hybrid
// is disabled or fails, it degrades to vector-only.
func (s *Service) RetrieveHybrid(ctx context.Context, req domain.RetrievalRequest) domain.RetrievalResult {
	settings := req.Settings.Normalize()
	ladder := make([]retrievalStrategy, 0, 2)
	if settings.UseHybrid {
		ladder = append(ladder, s.hybridStrategy())
	}
	ladder = append(ladder, s.vectorStrategy())
	return s.execute(ctx, req, ladder)
}

// RetrieveReranked builds a relaxed-threshold candidate pool, reranks it
// when it is larger than the requested context count, and always applies
// complexity-driven budgeted selection. Falls back to vector-only with the
// original threshold.
func (s *Service) RetrieveReranked(ctx context.Context, req domain.RetrievalRequest) domain.RetrievalResult {
	return s.execute(ctx, req, []retrievalStrategy{s.rerankedStrategy(), s.vectorStrategy()})
}

func (s *Service) execute(ctx context.Context, req domain.RetrievalRequest, ladder []retrievalStrategy) (result domain.RetrievalResult) {
	// Truly unexpected programming errors stop at this boundary too.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("retrieval_panic", "tenant_id", req.TenantID, "panic", r)
			result = domain.RetrievalResult{}
		}
	}()

	tenantID := strings.TrimSpace(req.TenantID)
	query := strings.TrimSpace(req.Query)
	if tenantID == "" || query == "" {
		slog.Warn("retrieval_invalid_input", "tenant_id", tenantID, "query_empty", query == "")
		return domain.RetrievalResult{}
	}
	settings := req.Settings.Normalize()

	for _, strategy := range ladder {
		if ctx.Err() != nil {
			return domain.RetrievalResult{}
		}
		contexts, err := strategy.run(ctx, query, tenantID, settings)
		if err == nil {
			return domain.RetrievalResult{Contexts: contexts, Mode: strategy.mode}
		}
		// A cancelled call yields no output, not a truncated one.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.RetrievalResult{}
		}
		slog.Warn("retrieval_strategy_failed",
			"strategy", strategy.name,
			"tenant_id", tenantID,
			"error", err,
		)
	}
	return domain.RetrievalResult{}
}

func (s *Service) vectorStrategy() retrievalStrategy {
	return retrievalStrategy{
		name: "vector_only",
		mode: domain.ModeVector,
		run: func(ctx context.Context, query, tenantID string, settings domain.RetrievalSettings) ([]domain.RetrievedContext, error) {
			candidates, err := s.vectorCandidates(ctx, query, tenantID, settings.MaxContexts, settings.SimilarityThreshold)
			if err != nil {
				return nil, err
			}
			return contextsFromCandidates(candidates), nil
		},
	}
}

func (s *Service) hybridStrategy() retrievalStrategy {
	return retrievalStrategy{
		name: "hybrid",
		mode: domain.ModeHybrid,
		run: func(ctx context.Context, query, tenantID string, settings domain.RetrievalSettings) ([]domain.RetrievedContext, error) {
			// Over-fetch to leave room for the thin-content filter.
			candidates, err := s.hybridCandidates(ctx, query, tenantID, settings.MaxContexts*2, settings.SimilarityThreshold, settings)
			if err != nil {
				return nil, err
			}
			if len(candidates) > settings.MaxContexts {
				candidates = candidates[:settings.MaxContexts]
			}
			return contextsFromCandidates(candidates), nil
		},
	}
}

func (s *Service) rerankedStrategy() retrievalStrategy {
	return retrievalStrategy{
		name: "hybrid_with_rerank",
		mode: domain.ModeReranked,
		run: func(ctx context.Context, query, tenantID string, settings domain.RetrievalSettings) ([]domain.RetrievedContext, error) {
			relaxed := settings.SimilarityThreshold * relaxedThresholdFactor

			var pool []domain.Candidate
			var err error
			if settings.UseHybrid {
				pool, err = s.hybridCandidates(ctx, query, tenantID, settings.InitialRetrievalLimit, relaxed, settings)
			} else {
				pool, err = s.vectorCandidates(ctx, query, tenantID, settings.InitialRetrievalLimit, relaxed)
			}
			if err != nil {
				return nil, err
			}

			if len(pool) > settings.MaxContexts {
				pool = s.rerankSafe(query, pool)
			}
			return selectContexts(query, pool, settings.MaxContexts, settings.ContextCharBudget), nil
		},
	}
}

func (s *Service) vectorCandidates(ctx context.Context, query, tenantID string, limit int, threshold float64) ([]domain.Candidate, error) {
	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbeddingFailed, "embed query", err)
	}
	candidates, err := s.vector.VectorSearch(ctx, embedding, tenantID, limit, threshold)
	if err != nil {
		return nil, domain.WrapError(domain.ErrSearchBackendFailed, "vector search", err)
	}
	return candidates, nil
}

func (s *Service) hybridCandidates(ctx context.Context, query, tenantID string, fetchLimit int, threshold float64, settings domain.RetrievalSettings) ([]domain.Candidate, error) {
	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbeddingFailed, "embed query", err)
	}

	vectorResults, keywordResults, err := runArms(ctx,
		func(armCtx context.Context) ([]domain.Candidate, error) {
			return s.vector.VectorSearch(armCtx, embedding, tenantID, fetchLimit, threshold)
		},
		func(armCtx context.Context) ([]domain.Candidate, error) {
			return s.keyword.KeywordSearch(armCtx, query, tenantID, fetchLimit)
		},
	)
	if err != nil {
		return nil, err
	}

	fused := fuseHybrid(vectorResults, keywordResults, settings.VectorWeight, settings.BM25Weight)
	return dropThinCandidates(fused), nil
}

// rerankSafe never fails the call: a reranking problem returns the pool in
// its original order instead.
func (s *Service) rerankSafe(query string, pool []domain.Candidate) (out []domain.Candidate) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("rerank_failed", "panic", r)
			out = pool
		}
	}()
	return rerankCandidates(query, pool, s.rerank)
}

func dropThinCandidates(candidates []domain.Candidate) []domain.Candidate {
	out := candidates[:0:0]
	for _, c := range candidates {
		if len(strings.TrimSpace(c.Content)) < minContextChars {
			continue
		}
		out = append(out, c)
	}
	return out
}

func contextsFromCandidates(candidates []domain.Candidate) []domain.RetrievedContext {
	out := make([]domain.RetrievedContext, 0, len(candidates))
	for i, c := range candidates {
		meta := contextMetadata(c)
		meta[domain.MetaPosition] = i + 1
		out = append(out, domain.RetrievedContext{Content: c.Content, Metadata: meta})
	}
	return out
}
