package interfaces

// Shell is the surface the application exposes to plugins at registration
// time. Further services are resolvable by name through the registry.
type Shell interface {
	Bus() MessageBus
	Jobs() JobService
	Batches() BatchService
	Services() ServiceRegistry
}

// Plugin is a loosely coupled component wired in at startup. Register is
// called synchronously in registration order, before any background work
// begins. Plugins that need post-registration setup subscribe to
// system:plugins:ready; the shell awaits those handlers before starting the
// job worker.
type Plugin interface {
	ID() string
	Register(shell Shell) error
}
