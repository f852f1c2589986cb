package domain

// Candidate is a transient per-call retrieval result. It is created at the
// storage-adapter boundary, flows through fusion, reranking and selection, and
// is discarded when the call returns. Score fields carry presence flags
// because a candidate may come from only one retrieval arm.
type Candidate struct {
	ChunkID    string
	DocumentID string
	Content    string
	ChunkIndex int
	Metadata   map[string]any

	VectorScore    float64
	HasVectorScore bool

	KeywordScore    float64
	HasKeywordScore bool

	HybridScore    float64
	HasHybridScore bool

	RerankScore    float64
	HasRerankScore bool
}

// BestScore returns the strongest evidence signal populated on the candidate.
func (c Candidate) BestScore() float64 {
	best := 0.0
	if c.HasHybridScore && c.HybridScore > best {
		best = c.HybridScore
	}
	if c.HasVectorScore && c.VectorScore > best {
		best = c.VectorScore
	}
	if c.HasKeywordScore && c.KeywordScore > best {
		best = c.KeywordScore
	}
	return best
}

// CloneMetadata returns a shallow copy of the candidate metadata so pipeline
// stages can annotate it without mutating adapter-owned maps.
func (c Candidate) CloneMetadata() map[string]any {
	out := make(map[string]any, len(c.Metadata)+4)
	for k, v := range c.Metadata {
		out[k] = v
	}
	return out
}

// RetrievedContext is one entry of the orchestrator output, ordered best
// first. Metadata carries at minimum document_id, whichever scores were
// computed, and the final position.
type RetrievedContext struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Metadata keys written by the retrieval pipeline.
const (
	MetaDocumentID     = "document_id"
	MetaChunkIndex     = "chunk_index"
	MetaSimilarity     = "similarity"
	MetaKeywordScore   = "keyword_score"
	MetaHybridScore    = "hybrid_score"
	MetaRerankScore    = "rerank_score"
	MetaRerankPosition = "rerank_position"
	MetaPosition       = "position"
	MetaTotalChars     = "total_chars"
)
