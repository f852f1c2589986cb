package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
	"github.com/vporoshin/chatbot-retrieval/internal/core/ports"
	"github.com/vporoshin/chatbot-retrieval/internal/observability/metrics"
)

type RouterConfig struct {
	Service         string
	RateLimitRPS    float64
	RateLimitBurst  int
	MaxInFlight     int
	MaxInFlightWait time.Duration

	// Defaults are the deployment's platform retrieval settings, served when
	// a tenant has none stored or the settings store is unreachable. Zero
	// means the built-in defaults.
	Defaults domain.RetrievalSettings
}

type Router struct {
	retriever ports.ContextRetriever
	settings  ports.SettingsProvider
	repo      ports.SettingsRepository
	indexer   ports.ChunkIndexer
	ingestor  ports.DocumentIngestor
	queue     ports.InvalidationQueue
	metrics   *metrics.ServerMetrics
	cfg       RouterConfig
}

func NewRouter(
	retriever ports.ContextRetriever,
	settings ports.SettingsProvider,
	repo ports.SettingsRepository,
	indexer ports.ChunkIndexer,
	ingestor ports.DocumentIngestor,
	queue ports.InvalidationQueue,
	m *metrics.ServerMetrics,
	cfg RouterConfig,
) *Router {
	if cfg.Service == "" {
		cfg.Service = "api"
	}
	return &Router{
		retriever: retriever,
		settings:  settings,
		repo:      repo,
		indexer:   indexer,
		ingestor:  ingestor,
		queue:     queue,
		metrics:   m,
		cfg:       cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/retrieve", rt.retrieve)
	mux.HandleFunc("/v1/tenants/", rt.tenantSettings)
	mux.HandleFunc("/v1/chunks", rt.indexChunks)
	mux.HandleFunc("/v1/documents", rt.ingestDocument)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.cfg.MaxInFlight > 0 {
		wait := rt.cfg.MaxInFlightWait
		if wait <= 0 {
			wait = 100 * time.Millisecond
		}
		handler = backpressureMiddleware(handler, rt.cfg.MaxInFlight, wait)
	}
	if rt.cfg.RateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	}
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.cfg.Service, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type retrieveRequest struct {
	TenantID string `json:"tenant_id"`
	Query    string `json:"query"`
	Mode     string `json:"mode"`

	MaxContexts         *int     `json:"max_contexts"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
	UseHybrid           *bool    `json:"use_hybrid"`
	UseReranking        *bool    `json:"use_reranking"`
}

type retrieveResponse struct {
	Contexts []string             `json:"contexts"`
	Metadata []map[string]any     `json:"metadata"`
	Mode     domain.RetrievalMode `json:"mode"`
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.TenantID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant_id is required"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	settings, err := rt.settings.SettingsFor(r.Context(), req.TenantID)
	if err != nil {
		// Stored settings being unreachable must not take retrieval down.
		slog.Warn("settings_load_failed", "tenant_id", req.TenantID, "error", err)
		settings = rt.defaultSettings(req.TenantID)
	}
	applyOverrides(&settings, req)

	start := time.Now()
	result := rt.dispatch(r, req, settings)
	if rt.metrics != nil {
		totalChars := 0
		for _, c := range result.Contexts {
			totalChars += len(c.Content)
		}
		rt.metrics.RecordRetrieval(rt.cfg.Service, string(result.Mode), len(result.Contexts), totalChars, time.Since(start))
	}

	resp := retrieveResponse{
		Contexts: make([]string, 0, len(result.Contexts)),
		Metadata: make([]map[string]any, 0, len(result.Contexts)),
		Mode:     result.Mode,
	}
	for _, c := range result.Contexts {
		resp.Contexts = append(resp.Contexts, c.Content)
		resp.Metadata = append(resp.Metadata, c.Metadata)
	}
	writeJSON(w, http.StatusOK, resp)
}

// dispatch picks the retrieval pipeline: an explicit mode in the request
// wins, otherwise the tenant's settings decide.
func (rt *Router) dispatch(r *http.Request, req retrieveRequest, settings domain.RetrievalSettings) domain.RetrievalResult {
	request := domain.RetrievalRequest{
		TenantID: req.TenantID,
		Query:    req.Query,
		Settings: settings,
	}

	switch domain.RetrievalMode(req.Mode) {
	case domain.ModeVector:
		return rt.retriever.Retrieve(r.Context(), request)
	case domain.ModeHybrid:
		return rt.retriever.RetrieveHybrid(r.Context(), request)
	case domain.ModeReranked:
		return rt.retriever.RetrieveReranked(r.Context(), request)
	}

	switch {
	case settings.UseReranking:
		return rt.retriever.RetrieveReranked(r.Context(), request)
	case settings.UseHybrid:
		return rt.retriever.RetrieveHybrid(r.Context(), request)
	default:
		return rt.retriever.Retrieve(r.Context(), request)
	}
}

func (rt *Router) defaultSettings(tenantID string) domain.RetrievalSettings {
	if rt.cfg.Defaults == (domain.RetrievalSettings{}) {
		return domain.DefaultRetrievalSettings(tenantID)
	}
	settings := rt.cfg.Defaults
	settings.TenantID = tenantID
	return settings.Normalize()
}

func applyOverrides(settings *domain.RetrievalSettings, req retrieveRequest) {
	if req.MaxContexts != nil && *req.MaxContexts > 0 {
		settings.MaxContexts = *req.MaxContexts
	}
	if req.SimilarityThreshold != nil && *req.SimilarityThreshold > 0 {
		settings.SimilarityThreshold = *req.SimilarityThreshold
	}
	if req.UseHybrid != nil {
		settings.UseHybrid = *req.UseHybrid
	}
	if req.UseReranking != nil {
		settings.UseReranking = *req.UseReranking
	}
}

// tenantSettings serves GET and PUT for /v1/tenants/{tenant_id}/settings.
func (rt *Router) tenantSettings(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/tenants/")
	tenantID, suffix, found := strings.Cut(rest, "/")
	if !found || suffix != "settings" || tenantID == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		rt.getSettings(w, r, tenantID)
	case http.MethodPut:
		rt.putSettings(w, r, tenantID)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (rt *Router) getSettings(w http.ResponseWriter, r *http.Request, tenantID string) {
	settings, err := rt.repo.GetByTenant(r.Context(), tenantID)
	if err != nil {
		if domain.IsKind(err, domain.ErrSettingsNotFound) {
			writeJSON(w, http.StatusOK, rt.defaultSettings(tenantID))
			return
		}
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (rt *Router) putSettings(w http.ResponseWriter, r *http.Request, tenantID string) {
	var settings domain.RetrievalSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	settings.TenantID = tenantID
	settings = settings.Normalize()

	if err := rt.repo.Upsert(r.Context(), settings); err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	rt.settings.Invalidate(tenantID)
	if rt.metrics != nil {
		rt.metrics.RecordInvalidation(rt.cfg.Service, "api")
	}
	if rt.queue != nil {
		// Best effort: other replicas catch up through the queue; this
		// replica is already invalidated.
		if err := rt.queue.PublishTenantChanged(r.Context(), tenantID); err != nil {
			slog.Warn("invalidation_publish_failed", "tenant_id", tenantID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, settings)
}

type indexChunksRequest struct {
	Chunks []chunkPayload `json:"chunks"`
}

type chunkPayload struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	TenantID   string         `json:"tenant_id"`
	Content    string         `json:"content"`
	ChunkIndex int            `json:"chunk_index"`
	Metadata   map[string]any `json:"metadata"`
	Embedding  []float32      `json:"embedding"`
}

func (rt *Router) indexChunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req indexChunksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if len(req.Chunks) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chunks are required"})
		return
	}

	chunks := make([]domain.Chunk, 0, len(req.Chunks))
	for _, c := range req.Chunks {
		if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.TenantID) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chunk id and tenant_id are required"})
			return
		}
		chunks = append(chunks, domain.Chunk{
			ID:         c.ID,
			DocumentID: c.DocumentID,
			TenantID:   c.TenantID,
			Content:    c.Content,
			ChunkIndex: c.ChunkIndex,
			Metadata:   c.Metadata,
			Embedding:  c.Embedding,
		})
	}

	err := rt.indexer.IndexChunks(r.Context(), chunks)
	if rt.metrics != nil {
		rt.metrics.RecordIndexedChunks(rt.cfg.Service, len(chunks), err)
	}
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"indexed": len(chunks)})
}

// ingestDocument accepts raw document text and runs the full pipeline:
// split, embed, index. Pre-embedded chunks go through /v1/chunks instead.
func (rt *Router) ingestDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req domain.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	indexed, err := rt.ingestor.IngestDocument(r.Context(), req)
	if rt.metrics != nil {
		rt.metrics.RecordIndexedChunks(rt.cfg.Service, indexed, err)
	}
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"document_id": req.DocumentID,
		"indexed":     indexed,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
