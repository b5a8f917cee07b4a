package registry

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoro/internal/interfaces"
)

// Registry implements ServiceRegistry with lazy cached resolution
type Registry struct {
	factories map[string]interfaces.ServiceFactory
	instances map[string]any
	mu        sync.Mutex
	logger    arbor.ILogger
}

// NewRegistry creates a new service registry
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		factories: make(map[string]interfaces.ServiceFactory),
		instances: make(map[string]any),
		logger:    logger,
	}
}

// Register stores a factory under a name, replacing any previous one. A
// cached instance from a replaced factory is dropped.
func (r *Registry) Register(name string, factory interfaces.ServiceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[name] = factory
	delete(r.instances, name)

	r.logger.Debug().
		Str("service", name).
		Msg("Service factory registered")
}

// Resolve invokes the factory once, caches and returns the result. Unknown
// names return (nil, false).
func (r *Registry) Resolve(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if instance, ok := r.instances[name]; ok {
		return instance, true
	}

	factory, ok := r.factories[name]
	if !ok {
		return nil, false
	}

	instance := factory()
	r.instances[name] = instance

	r.logger.Debug().
		Str("service", name).
		Msg("Service resolved")

	return instance, true
}

// Clear drops all cached instances; factories remain registered
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.instances = make(map[string]any)
}
