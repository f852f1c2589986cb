package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerMetrics holds the API server metric families on a private registry,
// so the /metrics endpoint exposes only what this service registers.
type ServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	retrievalTotal     *prometheus.CounterVec
	retrievalDuration  *prometheus.HistogramVec
	retrievalContexts  *prometheus.HistogramVec
	retrievalChars     *prometheus.HistogramVec
	settingsCacheTotal *prometheus.CounterVec
	invalidationsTotal *prometheus.CounterVec
	embeddingTotal     *prometheus.CounterVec
	embeddingDuration  *prometheus.HistogramVec
	indexedChunksTotal *prometheus.CounterVec
}

func NewServerMetrics(service string) *ServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cbr",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cbr",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cbr",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retrievalTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cbr",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total retrieval calls by mode and outcome.",
		},
		[]string{"service", "mode", "outcome"},
	)
	retrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cbr",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Retrieval pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "mode"},
	)
	retrievalContexts := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cbr",
			Subsystem: "retrieval",
			Name:      "contexts",
			Help:      "Distribution of contexts returned per retrieval call.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"service", "mode"},
	)
	retrievalChars := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cbr",
			Subsystem: "retrieval",
			Name:      "context_chars",
			Help:      "Distribution of total context characters per retrieval call.",
			Buckets:   []float64{100, 300, 600, 1000, 1500, 2000, 3000, 4500},
		},
		[]string{"service", "mode"},
	)
	settingsCacheTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cbr",
			Subsystem: "settings",
			Name:      "cache_requests_total",
			Help:      "Tenant settings cache lookups by result.",
		},
		[]string{"service", "result"},
	)
	invalidationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cbr",
			Subsystem: "settings",
			Name:      "invalidations_total",
			Help:      "Total tenant settings cache invalidations by origin.",
		},
		[]string{"service", "origin"},
	)
	embeddingTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cbr",
			Subsystem: "embedding",
			Name:      "requests_total",
			Help:      "Total embedding provider calls by status.",
		},
		[]string{"service", "provider", "status"},
	)
	embeddingDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cbr",
			Subsystem: "embedding",
			Name:      "duration_seconds",
			Help:      "Embedding provider call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "provider"},
	)
	indexedChunksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cbr",
			Subsystem: "index",
			Name:      "chunks_total",
			Help:      "Total chunks written to the search store by status.",
		},
		[]string{"service", "status"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		retrievalTotal,
		retrievalDuration,
		retrievalContexts,
		retrievalChars,
		settingsCacheTotal,
		invalidationsTotal,
		embeddingTotal,
		embeddingDuration,
		indexedChunksTotal,
	)

	return &ServerMetrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		retrievalTotal:     retrievalTotal,
		retrievalDuration:  retrievalDuration,
		retrievalContexts:  retrievalContexts,
		retrievalChars:     retrievalChars,
		settingsCacheTotal: settingsCacheTotal,
		invalidationsTotal: invalidationsTotal,
		embeddingTotal:     embeddingTotal,
		embeddingDuration:  embeddingDuration,
		indexedChunksTotal: indexedChunksTotal,
	}
}

func (m *ServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *ServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/tenants/"):
		return "/v1/tenants/{tenant_id}/settings"
	default:
		return path
	}
}

// RecordRetrieval captures one completed retrieval call. An empty context
// list counts as the "empty" outcome so dashboards can watch the silent
// degradation the never-fail contract allows.
func (m *ServerMetrics) RecordRetrieval(service, mode string, contexts, totalChars int, duration time.Duration) {
	if mode == "" {
		mode = "none"
	}
	outcome := "hit"
	if contexts == 0 {
		outcome = "empty"
	}
	m.retrievalTotal.WithLabelValues(service, mode, outcome).Inc()
	m.retrievalDuration.WithLabelValues(service, mode).Observe(duration.Seconds())
	m.retrievalContexts.WithLabelValues(service, mode).Observe(float64(contexts))
	m.retrievalChars.WithLabelValues(service, mode).Observe(float64(totalChars))
}

func (m *ServerMetrics) RecordSettingsCache(service string, hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	m.settingsCacheTotal.WithLabelValues(service, result).Inc()
}

func (m *ServerMetrics) RecordInvalidation(service, origin string) {
	if origin == "" {
		origin = "unknown"
	}
	m.invalidationsTotal.WithLabelValues(service, origin).Inc()
}

func (m *ServerMetrics) RecordEmbedding(service, provider string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.embeddingTotal.WithLabelValues(service, provider, status).Inc()
	m.embeddingDuration.WithLabelValues(service, provider).Observe(duration.Seconds())
}

func (m *ServerMetrics) RecordIndexedChunks(service string, count int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.indexedChunksTotal.WithLabelValues(service, status).Add(float64(count))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
