package embedding

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
	"github.com/vporoshin/chatbot-retrieval/internal/infrastructure/embedding/ollama"
	"github.com/vporoshin/chatbot-retrieval/internal/infrastructure/resilience"
)

type countingEmbedder struct {
	failures int
	err      error
	calls    int
}

func (e *countingEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	e.calls++
	if e.calls <= e.failures {
		return nil, e.err
	}
	return []float32{0.1, 0.2}, nil
}

func (e *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.calls <= e.failures {
		return nil, e.err
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{0.1, 0.2}
	}
	return vecs, nil
}

func testConfig() resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}
}

func TestResilientRetriesOverload(t *testing.T) {
	inner := &countingEmbedder{
		failures: 2,
		err:      &ollama.HTTPStatusError{Operation: "embed", StatusCode: http.StatusServiceUnavailable, Status: "503"},
	}
	embedder := NewResilient(inner, testConfig(), nil, "api", "ollama")

	vec, err := embedder.EmbedQuery(context.Background(), "hello")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("unexpected vector %v", vec)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestResilientDoesNotRetryBadRequest(t *testing.T) {
	inner := &countingEmbedder{
		failures: 10,
		err:      &ollama.HTTPStatusError{Operation: "embed", StatusCode: http.StatusBadRequest, Status: "400"},
	}
	embedder := NewResilient(inner, testConfig(), nil, "api", "ollama")

	_, err := embedder.EmbedQuery(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", inner.calls)
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("bad request must not be marked temporary: %v", err)
	}
}

func TestResilientRetriesBatchOverload(t *testing.T) {
	inner := &countingEmbedder{
		failures: 1,
		err:      &ollama.HTTPStatusError{Operation: "embed", StatusCode: http.StatusTooManyRequests, Status: "429"},
	}
	embedder := NewResilient(inner, testConfig(), nil, "api", "ollama")

	vecs, err := embedder.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", inner.calls)
	}
}

func TestResilientMarksExhaustedRetriesTemporary(t *testing.T) {
	inner := &countingEmbedder{
		failures: 10,
		err:      &ollama.HTTPStatusError{Operation: "embed", StatusCode: http.StatusBadGateway, Status: "502"},
	}
	embedder := NewResilient(inner, testConfig(), nil, "api", "ollama")

	_, err := embedder.EmbedQuery(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary classification, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected retries to exhaust at 3 attempts, got %d", inner.calls)
	}
}
