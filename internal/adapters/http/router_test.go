package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
)

type fakeRetriever struct {
	result   domain.RetrievalResult
	lastMode string
	lastReq  domain.RetrievalRequest
}

func (f *fakeRetriever) Retrieve(_ context.Context, req domain.RetrievalRequest) domain.RetrievalResult {
	f.lastMode = "vector"
	f.lastReq = req
	return f.result
}

func (f *fakeRetriever) RetrieveHybrid(_ context.Context, req domain.RetrievalRequest) domain.RetrievalResult {
	f.lastMode = "hybrid"
	f.lastReq = req
	return f.result
}

func (f *fakeRetriever) RetrieveReranked(_ context.Context, req domain.RetrievalRequest) domain.RetrievalResult {
	f.lastMode = "reranked"
	f.lastReq = req
	return f.result
}

type fakeSettingsProvider struct {
	settings    domain.RetrievalSettings
	err         error
	invalidated []string
}

func (f *fakeSettingsProvider) SettingsFor(_ context.Context, tenantID string) (domain.RetrievalSettings, error) {
	if f.err != nil {
		return domain.RetrievalSettings{}, f.err
	}
	if f.settings.TenantID == "" {
		return domain.DefaultRetrievalSettings(tenantID), nil
	}
	return f.settings, nil
}

func (f *fakeSettingsProvider) Invalidate(tenantID string) {
	f.invalidated = append(f.invalidated, tenantID)
}

type fakeSettingsRepo struct {
	stored map[string]domain.RetrievalSettings
	err    error
}

func (f *fakeSettingsRepo) GetByTenant(_ context.Context, tenantID string) (domain.RetrievalSettings, error) {
	if f.err != nil {
		return domain.RetrievalSettings{}, f.err
	}
	settings, ok := f.stored[tenantID]
	if !ok {
		return domain.RetrievalSettings{}, domain.WrapError(domain.ErrSettingsNotFound, "get settings", errors.New("no rows"))
	}
	return settings, nil
}

func (f *fakeSettingsRepo) Upsert(_ context.Context, settings domain.RetrievalSettings) error {
	if f.err != nil {
		return f.err
	}
	if f.stored == nil {
		f.stored = make(map[string]domain.RetrievalSettings)
	}
	f.stored[settings.TenantID] = settings
	return nil
}

type fakeIndexer struct {
	chunks []domain.Chunk
	err    error
}

func (f *fakeIndexer) IndexChunks(_ context.Context, chunks []domain.Chunk) error {
	if f.err != nil {
		return f.err
	}
	f.chunks = append(f.chunks, chunks...)
	return nil
}

type fakeIngestor struct {
	indexed int
	err     error
	last    domain.IngestRequest
}

func (f *fakeIngestor) IngestDocument(_ context.Context, req domain.IngestRequest) (int, error) {
	f.last = req
	if f.err != nil {
		return 0, f.err
	}
	return f.indexed, nil
}

type fakeQueue struct {
	published []string
	err       error
}

func (f *fakeQueue) PublishTenantChanged(_ context.Context, tenantID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, tenantID)
	return nil
}

func (f *fakeQueue) SubscribeTenantChanged(ctx context.Context, _ func(context.Context, string) error) error {
	<-ctx.Done()
	return nil
}

func (f *fakeQueue) Close() {}

type routerFixture struct {
	retriever *fakeRetriever
	provider  *fakeSettingsProvider
	repo      *fakeSettingsRepo
	indexer   *fakeIndexer
	ingestor  *fakeIngestor
	queue     *fakeQueue
	handler   http.Handler
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		retriever: &fakeRetriever{},
		provider:  &fakeSettingsProvider{},
		repo:      &fakeSettingsRepo{},
		indexer:   &fakeIndexer{},
		ingestor:  &fakeIngestor{},
		queue:     &fakeQueue{},
	}
	f.handler = NewRouter(f.retriever, f.provider, f.repo, f.indexer, f.ingestor, f.queue, nil, RouterConfig{Service: "api"}).Handler()
	return f
}

func doJSON(t *testing.T, handler http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestRetrieveReturnsContextsAndMetadata(t *testing.T) {
	f := newRouterFixture(t)
	f.retriever.result = domain.RetrievalResult{
		Mode: domain.ModeReranked,
		Contexts: []domain.RetrievedContext{
			{Content: "first chunk", Metadata: map[string]any{"document_id": "d1", "position": 1}},
			{Content: "second chunk", Metadata: map[string]any{"document_id": "d2", "position": 2}},
		},
	}

	res := doJSON(t, f.handler, http.MethodPost, "/v1/retrieve", map[string]any{
		"tenant_id": "tenant-1",
		"query":     "how do refunds work",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	var resp retrieveResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Contexts) != 2 || len(resp.Metadata) != 2 {
		t.Fatalf("expected parallel arrays of 2, got %d/%d", len(resp.Contexts), len(resp.Metadata))
	}
	if resp.Contexts[0] != "first chunk" {
		t.Fatalf("unexpected first context %q", resp.Contexts[0])
	}
	if resp.Mode != domain.ModeReranked {
		t.Fatalf("unexpected mode %q", resp.Mode)
	}
	// Platform defaults enable reranking, so the reranked pipeline runs.
	if f.retriever.lastMode != "reranked" {
		t.Fatalf("expected reranked dispatch, got %s", f.retriever.lastMode)
	}
}

func TestRetrieveValidatesBody(t *testing.T) {
	f := newRouterFixture(t)

	res := doJSON(t, f.handler, http.MethodPost, "/v1/retrieve", map[string]any{"query": "hello"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("missing tenant expected 400, got %d", res.Code)
	}

	res = doJSON(t, f.handler, http.MethodPost, "/v1/retrieve", map[string]any{"tenant_id": "t"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("missing query expected 400, got %d", res.Code)
	}
}

func TestRetrieveExplicitModeWins(t *testing.T) {
	f := newRouterFixture(t)
	f.retriever.result = domain.RetrievalResult{Mode: domain.ModeVector}

	res := doJSON(t, f.handler, http.MethodPost, "/v1/retrieve", map[string]any{
		"tenant_id": "tenant-1",
		"query":     "quick lookup",
		"mode":      "vector",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if f.retriever.lastMode != "vector" {
		t.Fatalf("expected vector dispatch, got %s", f.retriever.lastMode)
	}
}

func TestRetrieveAppliesOverrides(t *testing.T) {
	f := newRouterFixture(t)
	maxContexts := 7
	threshold := 0.5

	res := doJSON(t, f.handler, http.MethodPost, "/v1/retrieve", map[string]any{
		"tenant_id":            "tenant-1",
		"query":                "how do refunds work",
		"max_contexts":         maxContexts,
		"similarity_threshold": threshold,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if f.retriever.lastReq.Settings.MaxContexts != 7 {
		t.Fatalf("override lost: %+v", f.retriever.lastReq.Settings)
	}
	if f.retriever.lastReq.Settings.SimilarityThreshold != 0.5 {
		t.Fatalf("override lost: %+v", f.retriever.lastReq.Settings)
	}
}

func TestRetrieveSurvivesSettingsFailure(t *testing.T) {
	f := newRouterFixture(t)
	f.provider.err = errors.New("db down")
	f.retriever.result = domain.RetrievalResult{Mode: domain.ModeReranked}

	res := doJSON(t, f.handler, http.MethodPost, "/v1/retrieve", map[string]any{
		"tenant_id": "tenant-1",
		"query":     "how do refunds work",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("settings failure must not fail retrieval, got %d", res.Code)
	}
	if f.retriever.lastReq.Settings.MaxContexts != domain.DefaultMaxContexts {
		t.Fatalf("expected default settings, got %+v", f.retriever.lastReq.Settings)
	}
}

func TestRouterUsesDeploymentDefaults(t *testing.T) {
	f := &routerFixture{
		retriever: &fakeRetriever{},
		provider:  &fakeSettingsProvider{err: errors.New("db down")},
		repo:      &fakeSettingsRepo{},
		indexer:   &fakeIndexer{},
		ingestor:  &fakeIngestor{},
		queue:     &fakeQueue{},
	}
	deploymentDefaults := domain.RetrievalSettings{
		MaxContexts:         6,
		SimilarityThreshold: 0.55,
		UseHybrid:           true,
	}
	f.handler = NewRouter(f.retriever, f.provider, f.repo, f.indexer, f.ingestor, f.queue, nil, RouterConfig{
		Service:  "api",
		Defaults: deploymentDefaults,
	}).Handler()

	res := doJSON(t, f.handler, http.MethodPost, "/v1/retrieve", map[string]any{
		"tenant_id": "tenant-1",
		"query":     "how do refunds work",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if f.retriever.lastReq.Settings.MaxContexts != 6 || f.retriever.lastReq.Settings.SimilarityThreshold != 0.55 {
		t.Fatalf("deployment defaults not applied: %+v", f.retriever.lastReq.Settings)
	}

	res = doJSON(t, f.handler, http.MethodGet, "/v1/tenants/tenant-2/settings", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var settings domain.RetrievalSettings
	if err := json.NewDecoder(res.Body).Decode(&settings); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if settings.TenantID != "tenant-2" || settings.MaxContexts != 6 {
		t.Fatalf("expected deployment defaults, got %+v", settings)
	}
}

func TestGetSettingsDefaultsForUnknownTenant(t *testing.T) {
	f := newRouterFixture(t)

	res := doJSON(t, f.handler, http.MethodGet, "/v1/tenants/tenant-1/settings", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	var settings domain.RetrievalSettings
	if err := json.NewDecoder(res.Body).Decode(&settings); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if settings.TenantID != "tenant-1" || settings.MaxContexts != domain.DefaultMaxContexts {
		t.Fatalf("expected defaults, got %+v", settings)
	}
}

func TestPutSettingsInvalidatesAndPublishes(t *testing.T) {
	f := newRouterFixture(t)

	res := doJSON(t, f.handler, http.MethodPut, "/v1/tenants/tenant-1/settings", map[string]any{
		"max_contexts":         5,
		"similarity_threshold": 0.6,
		"use_hybrid":           true,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	stored, ok := f.repo.stored["tenant-1"]
	if !ok {
		t.Fatal("settings not persisted")
	}
	if stored.MaxContexts != 5 || stored.SimilarityThreshold != 0.6 {
		t.Fatalf("unexpected stored settings %+v", stored)
	}
	if len(f.provider.invalidated) != 1 || f.provider.invalidated[0] != "tenant-1" {
		t.Fatalf("cache not invalidated: %v", f.provider.invalidated)
	}
	if len(f.queue.published) != 1 || f.queue.published[0] != "tenant-1" {
		t.Fatalf("change not published: %v", f.queue.published)
	}
}

func TestPutSettingsToleratesPublishFailure(t *testing.T) {
	f := newRouterFixture(t)
	f.queue.err = errors.New("nats down")

	res := doJSON(t, f.handler, http.MethodPut, "/v1/tenants/tenant-1/settings", map[string]any{
		"max_contexts": 4,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("publish failure must not fail the update, got %d", res.Code)
	}
	if len(f.provider.invalidated) != 1 {
		t.Fatalf("local cache must still be invalidated: %v", f.provider.invalidated)
	}
}

func TestIndexChunksAccepted(t *testing.T) {
	f := newRouterFixture(t)

	res := doJSON(t, f.handler, http.MethodPost, "/v1/chunks", map[string]any{
		"chunks": []map[string]any{
			{
				"id":        "c1",
				"tenant_id": "tenant-1",
				"content":   "chunk body",
				"embedding": []float32{0.1, 0.2},
			},
		},
	})
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if len(f.indexer.chunks) != 1 || f.indexer.chunks[0].ID != "c1" {
		t.Fatalf("chunks not forwarded: %+v", f.indexer.chunks)
	}
}

func TestIndexChunksValidates(t *testing.T) {
	f := newRouterFixture(t)

	res := doJSON(t, f.handler, http.MethodPost, "/v1/chunks", map[string]any{"chunks": []map[string]any{}})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("empty batch expected 400, got %d", res.Code)
	}

	res = doJSON(t, f.handler, http.MethodPost, "/v1/chunks", map[string]any{
		"chunks": []map[string]any{{"id": "c1"}},
	})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("missing tenant expected 400, got %d", res.Code)
	}
}

func TestIngestDocumentAccepted(t *testing.T) {
	f := newRouterFixture(t)
	f.ingestor.indexed = 4

	res := doJSON(t, f.handler, http.MethodPost, "/v1/documents", map[string]any{
		"tenant_id":   "tenant-1",
		"document_id": "doc-9",
		"content":     "long document body",
	})
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}

	var resp map[string]any
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["indexed"].(float64) != 4 || resp["document_id"] != "doc-9" {
		t.Fatalf("unexpected response %v", resp)
	}
	if f.ingestor.last.TenantID != "tenant-1" || f.ingestor.last.Content != "long document body" {
		t.Fatalf("request not forwarded: %+v", f.ingestor.last)
	}
}

func TestIngestDocumentMapsDomainErrors(t *testing.T) {
	f := newRouterFixture(t)
	f.ingestor.err = domain.WrapError(domain.ErrTenantRequired, "ingest document", errors.New("tenant id is empty"))

	res := doJSON(t, f.handler, http.MethodPost, "/v1/documents", map[string]any{
		"document_id": "doc-9",
		"content":     "body",
	})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestHealthz(t *testing.T) {
	f := newRouterFixture(t)

	res := doJSON(t, f.handler, http.MethodGet, "/healthz", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}
