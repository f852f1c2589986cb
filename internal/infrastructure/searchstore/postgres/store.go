package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store is the Postgres search backend. It serves both retrieval arms from
// one chunks table: pgvector cosine search for the semantic arm and
// full-text search for the keyword arm.
//
// When the vector extension cannot be installed the store degrades to a
// JSONB embedding column and brute-force cosine scoring in Go; a runtime
// failure of the indexed query degrades the same way for that call. That
// keeps small self-hosted deployments working at reduced speed.
type Store struct {
	db        *sql.DB
	dim       int
	useVector bool
}

func NewStore(db *sql.DB, embeddingDim int) *Store {
	return &Store{
		db:        db,
		dim:       embeddingDim,
		useVector: true,
	}
}

// EnsureSchema creates the chunks table and its indexes. Bootstrap DDL is
// serialized across replicas with an advisory lock.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		slog.Warn("pgvector_unavailable", "error", err)
		s.useVector = false
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026052101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	embeddingColumn := fmt.Sprintf("vector(%d)", s.dim)
	if !s.useVector {
		embeddingColumn = "JSONB"
	}

	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	content TEXT NOT NULL,
	chunk_index INTEGER NOT NULL DEFAULT 0,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding %s,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chunks_tenant ON chunks(tenant_id);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_content_fts ON chunks USING GIN (to_tsvector('english', content));
`, embeddingColumn)
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if s.useVector {
		if _, err := tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops)`); err != nil {
			return fmt.Errorf("create embedding index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
