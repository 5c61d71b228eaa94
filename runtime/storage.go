package runtime

import (
	"fmt"

	"github.com/leeforge/pluginhost/plugin"
)

// GetStore returns the settings storage backend registered under name,
// building it on first use.
func (m *Manager) GetStore(name string) (plugin.Storage, error) {
	m.storesMu.Lock()
	defer m.storesMu.Unlock()

	if s, ok := m.stores[name]; ok {
		return s, nil
	}
	factory, ok := m.storageFactories[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, plugin.ErrStorageNotFound)
	}
	s, err := factory()
	if err != nil {
		return nil, fmt.Errorf("create storage %s: %w", name, err)
	}
	m.stores[name] = s
	return s, nil
}

var _ plugin.StorageProvider = (*Manager)(nil)
