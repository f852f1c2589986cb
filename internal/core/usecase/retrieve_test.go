package usecase

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
)

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

type fakeVectorSearcher struct {
	results      []domain.Candidate
	err          error
	gotLimit     int
	gotThreshold float64
}

func (f *fakeVectorSearcher) VectorSearch(_ context.Context, _ []float32, _ string, limit int, threshold float64) ([]domain.Candidate, error) {
	f.gotLimit = limit
	f.gotThreshold = threshold
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeKeywordSearcher struct {
	results  []domain.Candidate
	err      error
	gotQuery string
}

func (f *fakeKeywordSearcher) KeywordSearch(_ context.Context, query, _ string, _ int) ([]domain.Candidate, error) {
	f.gotQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func vectorCandidate(id string, score float64) domain.Candidate {
	return domain.Candidate{
		ChunkID:        id,
		DocumentID:     "doc-" + id,
		Content:        "content of chunk " + id + " with enough words to matter",
		VectorScore:    score,
		HasVectorScore: true,
	}
}

func newTestService(embedder *fakeEmbedder, vector *fakeVectorSearcher, keyword *fakeKeywordSearcher) *Service {
	return NewService(embedder, vector, keyword)
}

func testRequest(settings domain.RetrievalSettings) domain.RetrievalRequest {
	return domain.RetrievalRequest{
		TenantID: "tenant-1",
		Query:    "how do I configure webhooks",
		Settings: settings,
	}
}

func TestRetrieveVectorOnly(t *testing.T) {
	vector := &fakeVectorSearcher{results: []domain.Candidate{
		vectorCandidate("a", 0.92),
		vectorCandidate("b", 0.81),
	}}
	svc := newTestService(&fakeEmbedder{vec: []float32{0.1, 0.2}}, vector, &fakeKeywordSearcher{})

	result := svc.Retrieve(context.Background(), testRequest(domain.RetrievalSettings{
		MaxContexts:         3,
		SimilarityThreshold: 0.7,
	}))

	if result.Mode != domain.ModeVector {
		t.Fatalf("mode = %s, want %s", result.Mode, domain.ModeVector)
	}
	if len(result.Contexts) != 2 {
		t.Fatalf("expected 2 contexts, got %d", len(result.Contexts))
	}
	if vector.gotLimit != 3 || vector.gotThreshold != 0.7 {
		t.Fatalf("search called with limit=%d threshold=%v, want 3 and 0.7", vector.gotLimit, vector.gotThreshold)
	}
	if result.Contexts[0].Metadata[domain.MetaSimilarity] != 0.92 {
		t.Fatalf("similarity missing from metadata: %v", result.Contexts[0].Metadata)
	}
	if result.Contexts[0].Metadata[domain.MetaPosition] != 1 || result.Contexts[1].Metadata[domain.MetaPosition] != 2 {
		t.Fatal("positions not annotated in result metadata")
	}
}

func TestRetrieveEmbeddingFailureIsEmpty(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("provider down")}
	vector := &fakeVectorSearcher{results: []domain.Candidate{vectorCandidate("a", 0.9)}}
	keyword := &fakeKeywordSearcher{results: []domain.Candidate{vectorCandidate("b", 0.8)}}
	svc := newTestService(embedder, vector, keyword)

	settings := domain.RetrievalSettings{UseHybrid: true, UseReranking: true}
	ctx := context.Background()

	if got := svc.Retrieve(ctx, testRequest(settings)); !got.Empty() {
		t.Fatalf("vector mode returned contexts despite embedding failure: %+v", got)
	}
	if got := svc.RetrieveHybrid(ctx, testRequest(settings)); !got.Empty() {
		t.Fatalf("hybrid mode returned contexts despite embedding failure: %+v", got)
	}
	if got := svc.RetrieveReranked(ctx, testRequest(settings)); !got.Empty() {
		t.Fatalf("reranked mode returned contexts despite embedding failure: %+v", got)
	}
}

func TestRetrieveSearchFailureIsEmpty(t *testing.T) {
	vector := &fakeVectorSearcher{err: errors.New("index offline")}
	svc := newTestService(&fakeEmbedder{vec: []float32{0.1}}, vector, &fakeKeywordSearcher{})

	result := svc.Retrieve(context.Background(), testRequest(domain.RetrievalSettings{}))
	if !result.Empty() {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if result.Mode != "" {
		t.Fatalf("empty result carries mode %q", result.Mode)
	}
}

func TestRetrieveHybridDegradedArm(t *testing.T) {
	vector := &fakeVectorSearcher{results: []domain.Candidate{
		vectorCandidate("a", 0.9),
		vectorCandidate("b", 0.7),
	}}
	keyword := &fakeKeywordSearcher{err: errors.New("fts unavailable")}
	svc := newTestService(&fakeEmbedder{vec: []float32{0.1}}, vector, keyword)

	result := svc.RetrieveHybrid(context.Background(), testRequest(domain.RetrievalSettings{
		MaxContexts: 2,
		UseHybrid:   true,
	}))

	// One dead arm degrades the fusion, it does not fail the call.
	if result.Mode != domain.ModeHybrid {
		t.Fatalf("mode = %s, want %s", result.Mode, domain.ModeHybrid)
	}
	if len(result.Contexts) != 2 {
		t.Fatalf("expected 2 contexts from the healthy arm, got %d", len(result.Contexts))
	}
}

func TestRetrieveHybridDisabledUsesVector(t *testing.T) {
	vector := &fakeVectorSearcher{results: []domain.Candidate{vectorCandidate("a", 0.9)}}
	keyword := &fakeKeywordSearcher{}
	svc := newTestService(&fakeEmbedder{vec: []float32{0.1}}, vector, keyword)

	result := svc.RetrieveHybrid(context.Background(), testRequest(domain.RetrievalSettings{
		MaxContexts: 2,
		UseHybrid:   false,
	}))

	if result.Mode != domain.ModeVector {
		t.Fatalf("mode = %s, want %s", result.Mode, domain.ModeVector)
	}
	if keyword.gotQuery != "" {
		t.Fatal("keyword arm called although hybrid is disabled")
	}
}

func TestRetrieveHybridOverFetchAndTrim(t *testing.T) {
	results := make([]domain.Candidate, 0, 6)
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		results = append(results, vectorCandidate(id, 0.9))
	}
	vector := &fakeVectorSearcher{results: results}
	svc := newTestService(&fakeEmbedder{vec: []float32{0.1}}, vector, &fakeKeywordSearcher{})

	result := svc.RetrieveHybrid(context.Background(), testRequest(domain.RetrievalSettings{
		MaxContexts: 2,
		UseHybrid:   true,
	}))

	if vector.gotLimit != 4 {
		t.Fatalf("hybrid fetch limit = %d, want 2x requested (4)", vector.gotLimit)
	}
	if len(result.Contexts) != 2 {
		t.Fatalf("expected trim to 2 contexts, got %d", len(result.Contexts))
	}
}

func TestRetrieveHybridDropsThinContent(t *testing.T) {
	thin := vectorCandidate("thin", 0.99)
	thin.Content = "   hi   "
	vector := &fakeVectorSearcher{results: []domain.Candidate{
		thin,
		vectorCandidate("solid", 0.8),
	}}
	svc := newTestService(&fakeEmbedder{vec: []float32{0.1}}, vector, &fakeKeywordSearcher{})

	result := svc.RetrieveHybrid(context.Background(), testRequest(domain.RetrievalSettings{
		MaxContexts: 3,
		UseHybrid:   true,
	}))

	if len(result.Contexts) != 1 {
		t.Fatalf("expected thin chunk dropped, got %d contexts", len(result.Contexts))
	}
	if result.Contexts[0].Metadata[domain.MetaDocumentID] != "doc-solid" {
		t.Fatalf("wrong surviving chunk: %v", result.Contexts[0].Metadata[domain.MetaDocumentID])
	}
}

func TestRetrieveRerankedRelaxedThreshold(t *testing.T) {
	pool := make([]domain.Candidate, 0, 12)
	for i := 0; i < 12; i++ {
		c := vectorCandidate(string(rune('a'+i)), 0.9-float64(i)*0.02)
		c.Content = strings.Repeat("useful words about webhooks ", 12)
		pool = append(pool, c)
	}
	vector := &fakeVectorSearcher{results: pool}
	svc := newTestService(&fakeEmbedder{vec: []float32{0.1}}, vector, &fakeKeywordSearcher{})

	result := svc.RetrieveReranked(context.Background(), testRequest(domain.RetrievalSettings{
		MaxContexts:           3,
		SimilarityThreshold:   0.7,
		InitialRetrievalLimit: 12,
		UseHybrid:             false,
	}))

	if result.Mode != domain.ModeReranked {
		t.Fatalf("mode = %s, want %s", result.Mode, domain.ModeReranked)
	}
	if vector.gotLimit != 12 {
		t.Fatalf("pool fetch limit = %d, want 12", vector.gotLimit)
	}
	relaxed := 0.7 * relaxedThresholdFactor
	if vector.gotThreshold != relaxed {
		t.Fatalf("pool threshold = %v, want relaxed %v", vector.gotThreshold, relaxed)
	}
	if len(result.Contexts) > 3 {
		t.Fatalf("selection exceeded requested maximum: %d contexts", len(result.Contexts))
	}
	if _, ok := result.Contexts[0].Metadata[domain.MetaRerankScore]; !ok {
		t.Fatal("reranked contexts carry no rerank score")
	}
}

func TestRetrieveRerankedSkipsRerankForSmallPool(t *testing.T) {
	vector := &fakeVectorSearcher{results: []domain.Candidate{
		vectorCandidate("a", 0.9),
		vectorCandidate("b", 0.8),
	}}
	svc := newTestService(&fakeEmbedder{vec: []float32{0.1}}, vector, &fakeKeywordSearcher{})

	result := svc.RetrieveReranked(context.Background(), testRequest(domain.RetrievalSettings{
		MaxContexts: 3,
	}))

	if result.Mode != domain.ModeReranked {
		t.Fatalf("mode = %s, want %s", result.Mode, domain.ModeReranked)
	}
	if len(result.Contexts) != 2 {
		t.Fatalf("expected both contexts, got %d", len(result.Contexts))
	}
	if _, ok := result.Contexts[0].Metadata[domain.MetaRerankScore]; ok {
		t.Fatal("pool at or below the maximum must not be reranked")
	}
}

func TestRetrieveRerankedTotalFailureIsEmpty(t *testing.T) {
	vector := &fakeVectorSearcher{err: errors.New("pool fetch failed")}
	svc := newTestService(&fakeEmbedder{vec: []float32{0.1}}, vector, &fakeKeywordSearcher{})

	result := svc.RetrieveReranked(context.Background(), testRequest(domain.RetrievalSettings{MaxContexts: 3}))
	if !result.Empty() {
		t.Fatalf("expected empty result when every strategy fails, got %+v", result)
	}
}

func TestRetrieveValidatesInput(t *testing.T) {
	svc := newTestService(&fakeEmbedder{vec: []float32{0.1}}, &fakeVectorSearcher{}, &fakeKeywordSearcher{})

	if got := svc.Retrieve(context.Background(), domain.RetrievalRequest{TenantID: "  ", Query: "hello"}); !got.Empty() {
		t.Fatalf("blank tenant accepted: %+v", got)
	}
	if got := svc.Retrieve(context.Background(), domain.RetrievalRequest{TenantID: "t", Query: "   "}); !got.Empty() {
		t.Fatalf("blank query accepted: %+v", got)
	}
}

func TestRetrieveCancelledContext(t *testing.T) {
	vector := &fakeVectorSearcher{results: []domain.Candidate{vectorCandidate("a", 0.9)}}
	svc := newTestService(&fakeEmbedder{vec: []float32{0.1}}, vector, &fakeKeywordSearcher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if got := svc.Retrieve(ctx, testRequest(domain.RetrievalSettings{})); !got.Empty() {
		t.Fatalf("cancelled retrieval returned contexts: %+v", got)
	}
}

func TestRetrieveIsIdempotent(t *testing.T) {
	vector := &fakeVectorSearcher{results: []domain.Candidate{
		vectorCandidate("a", 0.9),
		vectorCandidate("b", 0.8),
	}}
	svc := newTestService(&fakeEmbedder{vec: []float32{0.1}}, vector, &fakeKeywordSearcher{})
	req := testRequest(domain.RetrievalSettings{MaxContexts: 3})

	first := svc.Retrieve(context.Background(), req)
	second := svc.Retrieve(context.Background(), req)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated retrieval diverged:\n%+v\n%+v", first, second)
	}
}
