package config

import "testing"

func TestLoadIncludesRetrievalDefaults(t *testing.T) {
	t.Setenv("RETRIEVAL_MAX_CONTEXTS", "")
	t.Setenv("RETRIEVAL_SIMILARITY_THRESHOLD", "")
	t.Setenv("RETRIEVAL_VECTOR_WEIGHT", "")
	t.Setenv("RETRIEVAL_BM25_WEIGHT", "")
	t.Setenv("RETRIEVAL_INITIAL_LIMIT", "")
	t.Setenv("RETRIEVAL_CONTEXT_CHAR_BUDGET", "")

	cfg := Load()
	if cfg.RetrievalMaxContexts != 3 {
		t.Fatalf("expected default max contexts 3, got %d", cfg.RetrievalMaxContexts)
	}
	if cfg.RetrievalSimilarityThreshold != 0.7 {
		t.Fatalf("expected default threshold 0.7, got %v", cfg.RetrievalSimilarityThreshold)
	}
	if cfg.RetrievalVectorWeight != 0.7 || cfg.RetrievalBM25Weight != 0.3 {
		t.Fatalf("expected default weights 0.7/0.3, got %v/%v", cfg.RetrievalVectorWeight, cfg.RetrievalBM25Weight)
	}
	if cfg.RetrievalContextCharBudget != 3000 {
		t.Fatalf("expected default char budget 3000, got %d", cfg.RetrievalContextCharBudget)
	}
	if cfg.MaxInFlight != 256 {
		t.Fatalf("expected default max in-flight 256, got %d", cfg.MaxInFlight)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("EMBEDDING_DIM", "1536")
	t.Setenv("RETRIEVAL_MAX_CONTEXTS", "6")
	t.Setenv("RETRIEVAL_SIMILARITY_THRESHOLD", "0.55")
	t.Setenv("RATE_LIMIT_RPS", "25.5")
	t.Setenv("MAX_IN_FLIGHT", "32")

	cfg := Load()
	if cfg.EmbeddingProvider != "openai" {
		t.Fatalf("expected provider override, got %q", cfg.EmbeddingProvider)
	}
	if cfg.EmbeddingDim != 1536 {
		t.Fatalf("expected embedding dim 1536, got %d", cfg.EmbeddingDim)
	}
	if cfg.RetrievalMaxContexts != 6 {
		t.Fatalf("expected max contexts 6, got %d", cfg.RetrievalMaxContexts)
	}
	if cfg.RetrievalSimilarityThreshold != 0.55 {
		t.Fatalf("expected threshold 0.55, got %v", cfg.RetrievalSimilarityThreshold)
	}
	if cfg.RateLimitRPS != 25.5 {
		t.Fatalf("expected rate limit 25.5, got %v", cfg.RateLimitRPS)
	}
	if cfg.MaxInFlight != 32 {
		t.Fatalf("expected max in-flight 32, got %d", cfg.MaxInFlight)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("RETRIEVAL_MAX_CONTEXTS", "not-a-number")
	t.Setenv("RATE_LIMIT_RPS", "also-bad")

	cfg := Load()
	if cfg.RetrievalMaxContexts != 3 {
		t.Fatalf("malformed int should fall back to default, got %d", cfg.RetrievalMaxContexts)
	}
	if cfg.RateLimitRPS != 50 {
		t.Fatalf("malformed float should fall back to default, got %v", cfg.RateLimitRPS)
	}
}
