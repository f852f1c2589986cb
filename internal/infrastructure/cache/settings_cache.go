package cache

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
	"github.com/vporoshin/chatbot-retrieval/internal/core/ports"
	"github.com/vporoshin/chatbot-retrieval/internal/observability/metrics"
)

// SettingsCache fronts the settings repository with an in-process LRU so the
// hot retrieval path does not pay a database round trip per request. Entries
// are evicted explicitly through Invalidate, driven by the invalidation
// queue, or by LRU pressure.
type SettingsCache struct {
	repo     ports.SettingsRepository
	entries  *lru.Cache[string, domain.RetrievalSettings]
	defaults domain.RetrievalSettings
	metrics  *metrics.ServerMetrics
	service  string
}

// NewSettingsCache builds the cache. defaults are the deployment's platform
// settings, served to tenants that never tuned anything; a zero value falls
// back to the built-in defaults.
func NewSettingsCache(repo ports.SettingsRepository, defaults domain.RetrievalSettings, size int, m *metrics.ServerMetrics, service string) (*SettingsCache, error) {
	if size <= 0 {
		size = 1024
	}
	if defaults == (domain.RetrievalSettings{}) {
		defaults = domain.DefaultRetrievalSettings("")
	}
	entries, err := lru.New[string, domain.RetrievalSettings](size)
	if err != nil {
		return nil, err
	}
	return &SettingsCache{
		repo:     repo,
		entries:  entries,
		defaults: defaults.Normalize(),
		metrics:  m,
		service:  service,
	}, nil
}

// SettingsFor returns the tenant's settings, falling back to platform
// defaults when the tenant has never tuned anything. A repository failure is
// returned to the caller; the router decides how to degrade.
func (c *SettingsCache) SettingsFor(ctx context.Context, tenantID string) (domain.RetrievalSettings, error) {
	if settings, ok := c.entries.Get(tenantID); ok {
		c.recordLookup(true)
		return settings, nil
	}
	c.recordLookup(false)

	settings, err := c.repo.GetByTenant(ctx, tenantID)
	if err != nil {
		if domain.IsKind(err, domain.ErrSettingsNotFound) {
			settings = c.defaults
			settings.TenantID = tenantID
			c.entries.Add(tenantID, settings)
			return settings, nil
		}
		return domain.RetrievalSettings{}, err
	}

	c.entries.Add(tenantID, settings)
	return settings, nil
}

func (c *SettingsCache) Invalidate(tenantID string) {
	if c.entries.Remove(tenantID) {
		slog.Debug("settings_cache_invalidated", "tenant_id", tenantID)
	}
}

func (c *SettingsCache) recordLookup(hit bool) {
	if c.metrics != nil {
		c.metrics.RecordSettingsCache(c.service, hit)
	}
}
