package app

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoro/internal/interfaces"
)

// PluginManager tracks registered plugins and drives their registration in
// order. Registration is synchronous; plugins that need post-registration
// setup subscribe to system:plugins:ready.
type PluginManager struct {
	logger  arbor.ILogger
	plugins []interfaces.Plugin
	ids     map[string]bool
}

// NewPluginManager creates an empty plugin manager
func NewPluginManager(logger arbor.ILogger) *PluginManager {
	return &PluginManager{
		logger: logger,
		ids:    make(map[string]bool),
	}
}

// Add appends a plugin. Duplicate ids are rejected.
func (m *PluginManager) Add(plugin interfaces.Plugin) error {
	id := plugin.ID()
	if id == "" {
		return fmt.Errorf("plugin id is required")
	}
	if m.ids[id] {
		return fmt.Errorf("plugin %s already registered", id)
	}

	m.ids[id] = true
	m.plugins = append(m.plugins, plugin)
	return nil
}

// RegisterAll calls each plugin's Register in registration order. The first
// error aborts; a partially registered plugin set is not rolled back.
func (m *PluginManager) RegisterAll(shell interfaces.Shell) error {
	for _, plugin := range m.plugins {
		m.logger.Info().
			Str("plugin_id", plugin.ID()).
			Msg("Registering plugin")

		if err := plugin.Register(shell); err != nil {
			return fmt.Errorf("plugin %s registration failed: %w", plugin.ID(), err)
		}
	}
	return nil
}

// IDs returns the plugin ids in registration order
func (m *PluginManager) IDs() []string {
	ids := make([]string, 0, len(m.plugins))
	for _, plugin := range m.plugins {
		ids = append(ids, plugin.ID())
	}
	return ids
}
