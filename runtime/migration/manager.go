package migration

import (
	"context"
	"fmt"
)

// Manager orchestrates migration execution.
type Manager struct {
	strategy Strategy
}

func NewManager(strategy Strategy) *Manager {
	return &Manager{strategy: strategy}
}

func (m *Manager) Run(ctx context.Context) error {
	if m == nil || m.strategy == nil {
		return nil
	}
	if err := m.strategy.Migrate(ctx); err != nil {
		return fmt.Errorf("%s migration: %w", m.strategy.Name(), err)
	}
	return nil
}
