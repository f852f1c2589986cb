package bootstrap

import (
	"context"
	"fmt"

	"github.com/vporoshin/chatbot-retrieval/internal/config"
	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
	"github.com/vporoshin/chatbot-retrieval/internal/core/ports"
	"github.com/vporoshin/chatbot-retrieval/internal/core/usecase"
	"github.com/vporoshin/chatbot-retrieval/internal/infrastructure/cache"
	"github.com/vporoshin/chatbot-retrieval/internal/infrastructure/chunking"
	"github.com/vporoshin/chatbot-retrieval/internal/infrastructure/embedding"
	embollama "github.com/vporoshin/chatbot-retrieval/internal/infrastructure/embedding/ollama"
	embopenai "github.com/vporoshin/chatbot-retrieval/internal/infrastructure/embedding/openai"
	"github.com/vporoshin/chatbot-retrieval/internal/infrastructure/queue/nats"
	"github.com/vporoshin/chatbot-retrieval/internal/infrastructure/repository/postgres"
	"github.com/vporoshin/chatbot-retrieval/internal/infrastructure/resilience"
	searchpg "github.com/vporoshin/chatbot-retrieval/internal/infrastructure/searchstore/postgres"
	"github.com/vporoshin/chatbot-retrieval/internal/observability/metrics"
)

const serviceName = "retrieval-api"

type App struct {
	Config   config.Config
	Defaults domain.RetrievalSettings
	Metrics  *metrics.ServerMetrics

	Retriever ports.ContextRetriever
	Ingestor  ports.DocumentIngestor
	Settings  ports.SettingsProvider
	Repo      ports.SettingsRepository
	Indexer   ports.ChunkIndexer
	Queue     ports.InvalidationQueue

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	repo := postgres.NewSettingsRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure settings schema: %w", err)
	}

	store := searchpg.NewStore(db, cfg.EmbeddingDim)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure chunks schema: %w", err)
	}

	serverMetrics := metrics.NewServerMetrics(serviceName)

	defaults := platformDefaults(cfg)
	settingsCache, err := cache.NewSettingsCache(repo, defaults, cfg.SettingsCacheSize, serverMetrics, serviceName)
	if err != nil {
		return nil, fmt.Errorf("init settings cache: %w", err)
	}

	resilienceCfg := resilience.DefaultConfig()
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceConfig: &resilienceCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("init invalidation queue: %w", err)
	}

	embedder, err := buildEmbedder(cfg, serverMetrics, resilienceCfg)
	if err != nil {
		queue.Close()
		return nil, err
	}

	service := usecase.NewService(embedder, store, store)
	splitter := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	ingestor := usecase.NewIngestService(splitter, embedder, store)

	return &App{
		Config:   cfg,
		Defaults: defaults,
		Metrics:  serverMetrics,

		Retriever: service,
		Ingestor:  ingestor,
		Settings:  settingsCache,
		Repo:      repo,
		Indexer:   store,
		Queue:     queue,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

// platformDefaults turns the RETRIEVAL_* env knobs into the settings served
// to tenants that never stored their own.
func platformDefaults(cfg config.Config) domain.RetrievalSettings {
	return domain.RetrievalSettings{
		MaxContexts:           cfg.RetrievalMaxContexts,
		SimilarityThreshold:   cfg.RetrievalSimilarityThreshold,
		VectorWeight:          cfg.RetrievalVectorWeight,
		BM25Weight:            cfg.RetrievalBM25Weight,
		UseHybrid:             true,
		UseReranking:          true,
		InitialRetrievalLimit: cfg.RetrievalInitialLimit,
		ContextCharBudget:     cfg.RetrievalContextCharBudget,
	}.Normalize()
}

func buildEmbedder(cfg config.Config, m *metrics.ServerMetrics, resilienceCfg resilience.Config) (*embedding.Resilient, error) {
	switch cfg.EmbeddingProvider {
	case "ollama":
		client := embollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel)
		return embedding.NewResilient(client, resilienceCfg, m, serviceName, "ollama"), nil
	case "openai":
		client := embopenai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIEmbedModel)
		return embedding.NewResilient(client, resilienceCfg, m, serviceName, "openai"), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}

// RunInvalidationSubscriber consumes settings-change events until the
// context is cancelled, dropping the local cache entry for each.
func (a *App) RunInvalidationSubscriber(ctx context.Context) error {
	return a.Queue.SubscribeTenantChanged(ctx, func(_ context.Context, tenantID string) error {
		a.Settings.Invalidate(tenantID)
		if a.Metrics != nil {
			a.Metrics.RecordInvalidation(serviceName, "queue")
		}
		return nil
	})
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
