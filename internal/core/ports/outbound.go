package ports

import (
	"context"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
)

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder embeds many texts in one provider call, preserving order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// TextSplitter cuts document text into indexable chunks.
type TextSplitter interface {
	Split(text string) []string
}

// VectorSearcher returns at most limit tenant-scoped candidates with
// VectorScore >= threshold, ordered descending by VectorScore.
type VectorSearcher interface {
	VectorSearch(ctx context.Context, embedding []float32, tenantID string, limit int, threshold float64) ([]domain.Candidate, error)
}

// KeywordSearcher returns tenant-scoped candidates ranked by text relevance.
// Scores are not required to be normalized; fusion rescales them.
type KeywordSearcher interface {
	KeywordSearch(ctx context.Context, query, tenantID string, limit int) ([]domain.Candidate, error)
}

// ChunkIndexer upserts chunks with their embeddings into the search store.
type ChunkIndexer interface {
	IndexChunks(ctx context.Context, chunks []domain.Chunk) error
}

// SettingsRepository persists per-tenant retrieval settings.
type SettingsRepository interface {
	GetByTenant(ctx context.Context, tenantID string) (domain.RetrievalSettings, error)
	Upsert(ctx context.Context, settings domain.RetrievalSettings) error
}

// InvalidationQueue delivers corpus/settings change events so cached tenant
// state can be dropped.
type InvalidationQueue interface {
	PublishTenantChanged(ctx context.Context, tenantID string) error
	SubscribeTenantChanged(ctx context.Context, handler func(ctx context.Context, tenantID string) error) error
	Close()
}
