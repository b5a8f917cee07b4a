package interfaces

// ServiceFactory constructs a service instance on first resolution
type ServiceFactory func() any

// ServiceRegistry resolves named services registered at startup. Factories
// are invoked once and the result cached. Callers must not create resolution
// cycles.
type ServiceRegistry interface {
	// Register stores a factory under a name, replacing any previous one
	Register(name string, factory ServiceFactory)

	// Resolve invokes the factory once, caches and returns the result.
	// Unknown names return (nil, false).
	Resolve(name string) (any, bool)

	// Clear drops all cached instances (factories remain registered)
	Clear()
}
