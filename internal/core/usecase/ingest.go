package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
	"github.com/vporoshin/chatbot-retrieval/internal/core/ports"
)

// IngestService prepares a document for retrieval: split into chunks, embed
// the batch, upsert into the search store. Chunk ids are derived from the
// document id and chunk index so re-ingesting a changed document overwrites
// its previous chunks in place.
type IngestService struct {
	splitter ports.TextSplitter
	embedder ports.BatchEmbedder
	indexer  ports.ChunkIndexer
}

func NewIngestService(splitter ports.TextSplitter, embedder ports.BatchEmbedder, indexer ports.ChunkIndexer) *IngestService {
	return &IngestService{
		splitter: splitter,
		embedder: embedder,
		indexer:  indexer,
	}
}

func (s *IngestService) IngestDocument(ctx context.Context, req domain.IngestRequest) (int, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	documentID := strings.TrimSpace(req.DocumentID)
	if tenantID == "" {
		return 0, domain.WrapError(domain.ErrTenantRequired, "ingest document", fmt.Errorf("tenant id is empty"))
	}
	if documentID == "" {
		return 0, domain.WrapError(domain.ErrInvalidInput, "ingest document", fmt.Errorf("document id is empty"))
	}

	parts := s.splitter.Split(req.Content)
	if len(parts) == 0 {
		return 0, nil
	}

	vectors, err := s.embedder.EmbedBatch(ctx, parts)
	if err != nil {
		return 0, domain.WrapError(domain.ErrEmbeddingFailed, "embed chunks", err)
	}
	if len(vectors) != len(parts) {
		return 0, domain.WrapError(domain.ErrEmbeddingFailed, "embed chunks",
			fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(parts)))
	}

	chunks := make([]domain.Chunk, 0, len(parts))
	for i, part := range parts {
		chunks = append(chunks, domain.Chunk{
			ID:         fmt.Sprintf("%s:%d", documentID, i),
			DocumentID: documentID,
			TenantID:   tenantID,
			Content:    part,
			Embedding:  vectors[i],
			ChunkIndex: i,
			Metadata:   req.Metadata,
		})
	}

	if err := s.indexer.IndexChunks(ctx, chunks); err != nil {
		return 0, domain.WrapError(domain.ErrSearchBackendFailed, "index chunks", err)
	}
	return len(chunks), nil
}
