package ports

import (
	"context"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
)

// ContextRetriever is the public entry point of the retrieval pipeline. All
// three modes share the never-fail contract: a retrieval failure degrades to
// an empty result instead of an error, so the calling chat flow can answer
// without context.
type ContextRetriever interface {
	// Retrieve is vector-only retrieval: embed the query, search by cosine
	// similarity above the threshold, no fusion or reranking.
	Retrieve(ctx context.Context, req domain.RetrievalRequest) domain.RetrievalResult

	// RetrieveHybrid fuses concurrent vector and keyword searches into one
	// weighted ranking. Falls back to Retrieve when hybrid is disabled or
	// fails.
	RetrieveHybrid(ctx context.Context, req domain.RetrievalRequest) domain.RetrievalResult

	// RetrieveReranked over-fetches a relaxed-threshold hybrid pool, reranks
	// it with the composite heuristic and applies complexity-driven,
	// budget-bounded selection.
	RetrieveReranked(ctx context.Context, req domain.RetrievalRequest) domain.RetrievalResult
}

// DocumentIngestor turns raw document text into indexed, embedded chunks.
type DocumentIngestor interface {
	IngestDocument(ctx context.Context, doc domain.IngestRequest) (int, error)
}

// SettingsProvider resolves the effective retrieval settings for a tenant.
type SettingsProvider interface {
	SettingsFor(ctx context.Context, tenantID string) (domain.RetrievalSettings, error)
	Invalidate(tenantID string)
}
