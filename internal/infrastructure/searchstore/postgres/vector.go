package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/pgvector/pgvector-go"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
)

// VectorSearch returns the tenant's chunks most similar to the query
// embedding, best first, keeping only rows at or above the threshold.
// Similarity is cosine, mapped from pgvector's distance as 1 - distance.
func (s *Store) VectorSearch(ctx context.Context, embedding []float32, tenantID string, limit int, threshold float64) ([]domain.Candidate, error) {
	if len(embedding) == 0 || limit <= 0 {
		return nil, nil
	}
	if !s.useVector {
		return s.bruteForceSearch(ctx, embedding, tenantID, limit, threshold)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, document_id, content, chunk_index, metadata, 1 - (embedding <=> $1) AS similarity
FROM chunks
WHERE tenant_id = $2
  AND embedding IS NOT NULL
  AND 1 - (embedding <=> $1) >= $3
ORDER BY embedding <=> $1
LIMIT $4
`, pgvector.NewVector(embedding), tenantID, threshold, limit)
	if err != nil {
		// A broken index still has correct data underneath it. Brute force
		// reads the vector column as text, which decodes as a JSON array.
		slog.Warn("vector_search_fallback_brute_force", "tenant_id", tenantID, "error", err)
		return s.bruteForceSearch(ctx, embedding, tenantID, limit, threshold)
	}
	defer rows.Close()

	return scanScoredCandidates(rows, markVectorScore)
}

// bruteForceSearch loads the tenant's embeddings and scores them in Go. Used
// only when the vector extension is missing.
func (s *Store) bruteForceSearch(ctx context.Context, embedding []float32, tenantID string, limit int, threshold float64) ([]domain.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, document_id, content, chunk_index, metadata, embedding
FROM chunks
WHERE tenant_id = $1 AND embedding IS NOT NULL
`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("brute force query: %w", err)
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		var metadataRaw, embeddingRaw []byte
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.Content, &c.ChunkIndex, &metadataRaw, &embeddingRaw); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		if c.Metadata, err = decodeMetadata(metadataRaw); err != nil {
			return nil, err
		}

		var stored []float32
		if err := json.Unmarshal(embeddingRaw, &stored); err != nil {
			return nil, fmt.Errorf("decode stored embedding: %w", err)
		}
		similarity := cosineSimilarity(embedding, stored)
		if similarity < threshold {
			continue
		}
		c.VectorScore = similarity
		c.HasVectorScore = true
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].VectorScore > out[j].VectorScore
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type scoreMarker func(c *domain.Candidate, score float64)

func markVectorScore(c *domain.Candidate, score float64) {
	c.VectorScore = score
	c.HasVectorScore = true
}

func markKeywordScore(c *domain.Candidate, score float64) {
	c.KeywordScore = score
	c.HasKeywordScore = true
}

func scanScoredCandidates(rows *sql.Rows, mark scoreMarker) ([]domain.Candidate, error) {
	var out []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		var metadataRaw []byte
		var score float64
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.Content, &c.ChunkIndex, &metadataRaw, &score); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		var err error
		if c.Metadata, err = decodeMetadata(metadataRaw); err != nil {
			return nil, err
		}
		mark(&c, score)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}
	return out, nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode chunk metadata: %w", err)
	}
	return out, nil
}
