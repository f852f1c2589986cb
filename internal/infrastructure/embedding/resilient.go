package embedding

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
	"github.com/vporoshin/chatbot-retrieval/internal/core/ports"
	"github.com/vporoshin/chatbot-retrieval/internal/infrastructure/embedding/ollama"
	"github.com/vporoshin/chatbot-retrieval/internal/infrastructure/resilience"
	"github.com/vporoshin/chatbot-retrieval/internal/observability/metrics"
)

// Provider is the raw embedding client contract both backends satisfy.
type Provider interface {
	ports.Embedder
	ports.BatchEmbedder
}

// Resilient decorates an embedding provider with retries, a circuit breaker
// and call metrics. It is the embedder implementation the rest of the
// service sees, for both single queries and ingestion batches.
type Resilient struct {
	inner    Provider
	exec     *resilience.Executor
	metrics  *metrics.ServerMetrics
	service  string
	provider string
}

func NewResilient(inner Provider, cfg resilience.Config, m *metrics.ServerMetrics, service, provider string) *Resilient {
	return &Resilient{
		inner:    inner,
		exec:     resilience.NewExecutor(cfg, ClassifyError),
		metrics:  m,
		service:  service,
		provider: provider,
	}
}

func (r *Resilient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var vec []float32
	err := r.exec.Do(ctx, "embed_query", func(callCtx context.Context) error {
		v, callErr := r.inner.EmbedQuery(callCtx, text)
		if callErr != nil {
			return callErr
		}
		vec = v
		return nil
	})
	if r.metrics != nil {
		r.metrics.RecordEmbedding(r.service, r.provider, time.Since(start), err)
	}
	if err != nil {
		return nil, wrapTemporaryIfNeeded("embed query", err)
	}
	return vec, nil
}

func (r *Resilient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var vecs [][]float32
	err := r.exec.Do(ctx, "embed_batch", func(callCtx context.Context) error {
		v, callErr := r.inner.EmbedBatch(callCtx, texts)
		if callErr != nil {
			return callErr
		}
		vecs = v
		return nil
	})
	if r.metrics != nil {
		r.metrics.RecordEmbedding(r.service, r.provider, time.Since(start), err)
	}
	if err != nil {
		return nil, wrapTemporaryIfNeeded("embed batch", err)
	}
	return vecs, nil
}

// ClassifyError maps embedding provider failures onto the retry policy.
// Overload and transport errors are retryable; malformed requests are not
// and must not count against the breaker.
func ClassifyError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	var statusErr *ollama.HTTPStatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode)
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	return resilience.ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

func classifyStatus(statusCode int) resilience.ErrorClassification {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	default:
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	class := ClassifyError(err)
	if class.Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
