package domain

// QueryComplexity classifies how much context a query is likely to need.
type QueryComplexity string

const (
	ComplexitySimple   QueryComplexity = "simple"
	ComplexityModerate QueryComplexity = "moderate"
	ComplexityComplex  QueryComplexity = "complex"
)

// RetrievalMode names the three public retrieval pipelines.
type RetrievalMode string

const (
	ModeVector   RetrievalMode = "vector"
	ModeHybrid   RetrievalMode = "hybrid"
	ModeReranked RetrievalMode = "reranked"
)

// RetrievalSettings are the per-tenant tuning knobs for context retrieval.
// Zero values are replaced with defaults by Normalize.
type RetrievalSettings struct {
	TenantID string `json:"tenant_id"`

	MaxContexts         int     `json:"max_contexts"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	VectorWeight        float64 `json:"vector_weight"`
	BM25Weight          float64 `json:"bm25_weight"`

	UseHybrid    bool `json:"use_hybrid"`
	UseReranking bool `json:"use_reranking"`

	// InitialRetrievalLimit is the over-fetched pool size for the reranked
	// mode. ContextCharBudget bounds the total characters the selector may
	// admit.
	InitialRetrievalLimit int `json:"initial_retrieval_limit"`
	ContextCharBudget     int `json:"context_char_budget"`
}

const (
	DefaultMaxContexts           = 3
	DefaultSimilarityThreshold   = 0.7
	DefaultVectorWeight          = 0.7
	DefaultBM25Weight            = 0.3
	DefaultInitialRetrievalLimit = 10
	DefaultContextCharBudget     = 3000
)

// DefaultRetrievalSettings returns platform defaults for a tenant that has
// not tuned anything.
func DefaultRetrievalSettings(tenantID string) RetrievalSettings {
	return RetrievalSettings{
		TenantID:              tenantID,
		MaxContexts:           DefaultMaxContexts,
		SimilarityThreshold:   DefaultSimilarityThreshold,
		VectorWeight:          DefaultVectorWeight,
		BM25Weight:            DefaultBM25Weight,
		UseHybrid:             true,
		UseReranking:          true,
		InitialRetrievalLimit: DefaultInitialRetrievalLimit,
		ContextCharBudget:     DefaultContextCharBudget,
	}
}

// Normalize fills missing numeric fields with defaults and clamps the
// similarity threshold into [0,1].
func (s RetrievalSettings) Normalize() RetrievalSettings {
	out := s
	if out.MaxContexts <= 0 {
		out.MaxContexts = DefaultMaxContexts
	}
	if out.SimilarityThreshold <= 0 {
		out.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if out.SimilarityThreshold > 1 {
		out.SimilarityThreshold = 1
	}
	if out.VectorWeight < 0 {
		out.VectorWeight = DefaultVectorWeight
	}
	if out.BM25Weight < 0 {
		out.BM25Weight = DefaultBM25Weight
	}
	if out.VectorWeight == 0 && out.BM25Weight == 0 {
		out.VectorWeight = DefaultVectorWeight
		out.BM25Weight = DefaultBM25Weight
	}
	if out.InitialRetrievalLimit <= 0 {
		out.InitialRetrievalLimit = DefaultInitialRetrievalLimit
	}
	if out.ContextCharBudget <= 0 {
		out.ContextCharBudget = DefaultContextCharBudget
	}
	return out
}

// RetrievalRequest is the inbound contract of the orchestrator. Settings
// fields act as overrides on top of the tenant's stored settings.
type RetrievalRequest struct {
	TenantID string
	Query    string
	Settings RetrievalSettings
}

// RetrievalResult is the ordered best-first output of one retrieval call.
type RetrievalResult struct {
	Contexts []RetrievedContext `json:"contexts"`
	Mode     RetrievalMode      `json:"mode"`
}

// Empty reports whether the call yielded no usable context. Callers fall back
// to a plain LLM answer in that case.
func (r RetrievalResult) Empty() bool {
	return len(r.Contexts) == 0
}

// ContextTexts returns the contexts as a plain string slice, ready to be
// interpolated into a prompt.
func (r RetrievalResult) ContextTexts() []string {
	out := make([]string, 0, len(r.Contexts))
	for _, c := range r.Contexts {
		out = append(out, c.Content)
	}
	return out
}
