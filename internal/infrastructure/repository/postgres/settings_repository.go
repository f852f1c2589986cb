package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
)

// SettingsRepository persists per-tenant retrieval settings.
type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *SettingsRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api replicas.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026052102)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS retrieval_settings (
	tenant_id TEXT PRIMARY KEY,
	max_contexts INTEGER NOT NULL,
	similarity_threshold DOUBLE PRECISION NOT NULL,
	vector_weight DOUBLE PRECISION NOT NULL,
	bm25_weight DOUBLE PRECISION NOT NULL,
	use_hybrid BOOLEAN NOT NULL,
	use_reranking BOOLEAN NOT NULL,
	initial_retrieval_limit INTEGER NOT NULL,
	context_char_budget INTEGER NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *SettingsRepository) GetByTenant(ctx context.Context, tenantID string) (domain.RetrievalSettings, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT tenant_id, max_contexts, similarity_threshold, vector_weight, bm25_weight,
       use_hybrid, use_reranking, initial_retrieval_limit, context_char_budget
FROM retrieval_settings
WHERE tenant_id = $1
`, tenantID)

	var s domain.RetrievalSettings
	err := row.Scan(
		&s.TenantID, &s.MaxContexts, &s.SimilarityThreshold, &s.VectorWeight, &s.BM25Weight,
		&s.UseHybrid, &s.UseReranking, &s.InitialRetrievalLimit, &s.ContextCharBudget,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RetrievalSettings{}, domain.WrapError(domain.ErrSettingsNotFound, "get settings", err)
		}
		return domain.RetrievalSettings{}, fmt.Errorf("scan settings: %w", err)
	}
	return s.Normalize(), nil
}

func (r *SettingsRepository) Upsert(ctx context.Context, settings domain.RetrievalSettings) error {
	s := settings.Normalize()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO retrieval_settings (
	tenant_id, max_contexts, similarity_threshold, vector_weight, bm25_weight,
	use_hybrid, use_reranking, initial_retrieval_limit, context_char_budget, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (tenant_id) DO UPDATE
SET max_contexts = EXCLUDED.max_contexts,
    similarity_threshold = EXCLUDED.similarity_threshold,
    vector_weight = EXCLUDED.vector_weight,
    bm25_weight = EXCLUDED.bm25_weight,
    use_hybrid = EXCLUDED.use_hybrid,
    use_reranking = EXCLUDED.use_reranking,
    initial_retrieval_limit = EXCLUDED.initial_retrieval_limit,
    context_char_budget = EXCLUDED.context_char_budget,
    updated_at = EXCLUDED.updated_at
`,
		s.TenantID, s.MaxContexts, s.SimilarityThreshold, s.VectorWeight, s.BM25Weight,
		s.UseHybrid, s.UseReranking, s.InitialRetrievalLimit, s.ContextCharBudget, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}
