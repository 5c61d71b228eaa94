package plugin

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Storage is a per-plugin key/value settings backend.
type Storage interface {
	Get(ctx context.Context, plugin, key string) (any, bool, error)
	Set(ctx context.Context, plugin, key string, value any) error
	Delete(ctx context.Context, plugin, key string) error
}

// StorageProvider resolves settings storage backends by registered name.
type StorageProvider interface {
	GetStore(name string) (Storage, error)
}

// AppContext is the capability object handed to every plugin factory.
// API is the opaque host service handle; the manager never looks inside it.
type AppContext struct {
	Router   chi.Router
	Redis    *redis.Client
	Logger   *zap.Logger
	Services *ServiceRegistry
	Events   EventBus
	Stores   StorageProvider
	API      any
}
