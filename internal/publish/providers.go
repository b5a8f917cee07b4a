package publish

import (
	"context"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoro/internal/interfaces"
	"github.com/ternarybob/memoro/internal/models"
)

// ProviderRegistry maps entity types to publish providers. Types with no
// registered provider fall back to the internal provider, which records the
// publish locally without an external platform.
type ProviderRegistry struct {
	logger arbor.ILogger

	mu        sync.RWMutex
	providers map[string]interfaces.PublishProvider
	fallback  interfaces.PublishProvider
}

// NewProviderRegistry creates a registry with the internal fallback provider
func NewProviderRegistry(logger arbor.ILogger) *ProviderRegistry {
	return &ProviderRegistry{
		logger:    logger,
		providers: make(map[string]interfaces.PublishProvider),
		fallback:  &internalProvider{},
	}
}

// Register binds a provider to an entity type, replacing any previous one
func (r *ProviderRegistry) Register(entityType string, provider interfaces.PublishProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[entityType] = provider
	r.logger.Info().
		Str("entity_type", entityType).
		Msg("Publish provider registered")
}

// Unregister removes the provider for an entity type
func (r *ProviderRegistry) Unregister(entityType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, entityType)
}

// Get returns the provider for an entity type, falling back to the internal
// provider when none is registered
func (r *ProviderRegistry) Get(entityType string) interfaces.PublishProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if provider, ok := r.providers[entityType]; ok {
		return provider
	}
	return r.fallback
}

// Has returns true when a provider is explicitly registered for the type
func (r *ProviderRegistry) Has(entityType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[entityType]
	return ok
}

// RegisteredTypes returns the entity types with an explicit provider, sorted
func (r *ProviderRegistry) RegisteredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.providers))
	for entityType := range r.providers {
		types = append(types, entityType)
	}
	sort.Strings(types)
	return types
}

// internalProvider is the fallback used when no platform provider is
// registered. It accepts everything and reports the publish as internal.
type internalProvider struct{}

func (p *internalProvider) Publish(_ context.Context, _ string, _ map[string]any, _ []byte) (*models.PublishResult, error) {
	return &models.PublishResult{ID: "internal"}, nil
}
