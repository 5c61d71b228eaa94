package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/leeforge/pluginhost/config"
	"github.com/leeforge/pluginhost/descriptor"
	"github.com/leeforge/pluginhost/plugin"
	"github.com/leeforge/pluginhost/runtime"
	"github.com/leeforge/pluginhost/runtime/migration"
	"github.com/leeforge/pluginhost/store"
	"go.uber.org/zap"

	// Compiled-in plugin classes.
	_ "github.com/leeforge/pluginhost/plugin/examples/accessguard"
	_ "github.com/leeforge/pluginhost/plugin/examples/audit"

	// database/sql drivers for the sql record store.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// sqlDrivers maps the configured dialect to the database/sql driver linked
// into pluginctl.
var sqlDrivers = map[string]string{
	dialect.SQLite:   "sqlite",
	dialect.MySQL:    "mysql",
	dialect.Postgres: "pgx",
}

// host is a manager plus whatever it needs closed afterwards.
type host struct {
	manager *runtime.Manager
	closers []func() error
}

func (h *host) Close(ctx context.Context) error {
	err := h.manager.Shutdown(ctx)
	for i := len(h.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, h.closers[i]())
	}
	return err
}

// abort runs the closers collected so far and returns err with their errors.
func (h *host) abort(err error) (*host, error) {
	for i := len(h.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, h.closers[i]())
	}
	h.closers = nil
	return nil, err
}

// hostBuilder creates the host for one command run.
type hostBuilder func(ctx context.Context, cfg *config.HostConfig, logger *zap.Logger) (*host, error)

// newHostBuilder returns a builder that opens the configured record store,
// or uses records when it is not nil.
func newHostBuilder(records plugin.Store) hostBuilder {
	return func(ctx context.Context, cfg *config.HostConfig, logger *zap.Logger) (*host, error) {
		return buildHost(ctx, cfg, logger, records)
	}
}

func buildHost(ctx context.Context, cfg *config.HostConfig, logger *zap.Logger, records plugin.Store) (*host, error) {
	h := &host{}

	var client *redis.Client
	needRedis := cfg.Store.Driver == config.DriverRedis
	for _, s := range cfg.Storages {
		needRedis = needRedis || s == config.DriverRedis
	}
	if needRedis {
		c, err := store.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		client = c
		h.closers = append(h.closers, client.Close)
	}

	if records == nil {
		var err error
		records, err = openStore(ctx, cfg, client, h)
		if err != nil {
			return h.abort(err)
		}
	}

	storages := make(map[string]runtime.StorageFactory, len(cfg.Storages))
	for _, name := range cfg.Storages {
		switch name {
		case config.DriverMemory:
			storages[name] = func() (plugin.Storage, error) { return store.NewMemoryStorage(), nil }
		case config.DriverRedis:
			storages[name] = func() (plugin.Storage, error) {
				return store.NewRedisStorage(client, cfg.Redis.Prefix), nil
			}
		}
	}

	dirs := make([]runtime.PluginDir, 0, len(cfg.PluginDirs))
	for _, d := range cfg.PluginDirs {
		t, err := plugin.ParseLocationType(d.Type)
		if err != nil {
			return h.abort(err)
		}
		dirs = append(dirs, runtime.PluginDir{Type: t, Path: d.Path})
	}

	mgr, err := runtime.NewManager(runtime.Config{
		Store: records,
		Source: descriptor.NewFileSource(
			descriptor.WithLogger(logger.Named("descriptor")),
			descriptor.WithCacheTTL(cfg.DescriptorCacheTTL),
		),
		PluginDirs:  dirs,
		HostVersion: cfg.HostVersion,
		Router:      chi.NewRouter(),
		Redis:       client,
		Logger:      logger.Named("plugins"),
		Storages:    storages,
	})
	if err != nil {
		return h.abort(err)
	}
	h.manager = mgr
	if client != nil {
		// Manager.Shutdown closes the redis client from here on.
		h.closers = h.closers[1:]
	}
	return h, nil
}

func openStore(ctx context.Context, cfg *config.HostConfig, client *redis.Client, h *host) (plugin.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverRedis:
		return store.NewRedisStore(client, cfg.Redis.Prefix), nil
	case config.DriverSQL:
		name, ok := sqlDrivers[cfg.Store.Dialect]
		if !ok {
			return nil, fmt.Errorf("no sql driver for dialect %q", cfg.Store.Dialect)
		}
		db, err := sql.Open(name, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Store.Dialect, err)
		}
		drv := entsql.OpenDB(cfg.Store.Dialect, db)
		h.closers = append(h.closers, drv.Close)
		if cfg.Store.Migrate {
			ddl, err := store.PluginsTableDDL(cfg.Store.Dialect)
			if err != nil {
				return nil, err
			}
			if err := migration.NewManager(migration.NewSQLStrategy(drv, ddl)).Run(ctx); err != nil {
				return nil, err
			}
		}
		return store.NewSQLStore(drv), nil
	default:
		return store.NewMemoryStore(), nil
	}
}
