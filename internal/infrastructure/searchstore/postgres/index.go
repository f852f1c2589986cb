package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
)

// IndexChunks upserts chunks with their embeddings into the search store.
// The whole batch is written in one transaction so a partially indexed
// document is never visible to retrieval.
func (s *Store) IndexChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const query = `
INSERT INTO chunks (id, document_id, tenant_id, content, chunk_index, metadata, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE
SET content = EXCLUDED.content,
    chunk_index = EXCLUDED.chunk_index,
    metadata = EXCLUDED.metadata,
    embedding = EXCLUDED.embedding
`
	for _, chunk := range chunks {
		metadataJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}

		embedding, err := s.embeddingArg(chunk.Embedding)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, query,
			chunk.ID, chunk.DocumentID, chunk.TenantID, chunk.Content, chunk.ChunkIndex, metadataJSON, embedding,
		); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index tx: %w", err)
	}
	return nil
}

func (s *Store) embeddingArg(embedding []float32) (any, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if s.useVector {
		return pgvector.NewVector(embedding), nil
	}
	raw, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding: %w", err)
	}
	return raw, nil
}
