package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
)

// KeywordSearch runs Postgres full-text search over the tenant's chunks and
// falls back to ILIKE token matching when the FTS query cannot be executed,
// so exotic queries still return lexical matches.
func (s *Store) KeywordSearch(ctx context.Context, query, tenantID string, limit int) ([]domain.Candidate, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}

	candidates, err := s.fullTextSearch(ctx, query, tenantID, limit)
	if err == nil {
		return candidates, nil
	}
	slog.Warn("fts_fallback_ilike", "tenant_id", tenantID, "error", err)

	return s.ilikeSearch(ctx, query, tenantID, limit)
}

func (s *Store) fullTextSearch(ctx context.Context, query, tenantID string, limit int) ([]domain.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, document_id, content, chunk_index, metadata,
       ts_rank_cd(to_tsvector('english', content), q) AS score
FROM chunks, websearch_to_tsquery('english', $1) AS q
WHERE tenant_id = $2
  AND to_tsvector('english', content) @@ q
ORDER BY score DESC
LIMIT $3
`, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("full text query: %w", err)
	}
	defer rows.Close()

	return scanScoredCandidates(rows, markKeywordScore)
}

// ilikeSearch scores each chunk by the fraction of query tokens it contains.
func (s *Store) ilikeSearch(ctx context.Context, query, tenantID string, limit int) ([]domain.Candidate, error) {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	var score strings.Builder
	var where strings.Builder
	args := make([]any, 0, len(tokens)+2)
	args = append(args, tenantID)

	for i, token := range tokens {
		placeholder := fmt.Sprintf("$%d", i+2)
		if i > 0 {
			score.WriteString(" + ")
			where.WriteString(" OR ")
		}
		fmt.Fprintf(&score, "(CASE WHEN content ILIKE %s THEN 1 ELSE 0 END)", placeholder)
		fmt.Fprintf(&where, "content ILIKE %s", placeholder)
		args = append(args, "%"+token+"%")
	}
	args = append(args, limit)

	sqlText := fmt.Sprintf(`
SELECT id, document_id, content, chunk_index, metadata,
       (%s)::float / %d AS score
FROM chunks
WHERE tenant_id = $1 AND (%s)
ORDER BY score DESC
LIMIT $%d
`, score.String(), len(tokens), where.String(), len(tokens)+2)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("ilike query: %w", err)
	}
	defer rows.Close()

	return scanScoredCandidates(rows, markKeywordScore)
}

func queryTokens(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		token := strings.Trim(f, `"'.,;:!?()`)
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}
