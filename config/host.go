package config

import (
	"fmt"
	"path/filepath"
	"time"

	validatorV10 "github.com/go-playground/validator/v10"
	"github.com/leeforge/pluginhost/logging"
	"github.com/leeforge/pluginhost/store"
)

var validate = validatorV10.New()

// Record store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQL    = "sql"
)

// HostConfig is the configuration of a plugin host process.
type HostConfig struct {
	HostVersion        string        `mapstructure:"host_version" yaml:"host_version" default:"6.0.0" validate:"required"`
	PluginDirs         []DirConfig   `mapstructure:"plugin_dirs" yaml:"plugin_dirs" validate:"dive"`
	DescriptorCacheTTL time.Duration `mapstructure:"descriptor_cache_ttl" yaml:"descriptor_cache_ttl" default:"5m"`

	Store StoreConfig `mapstructure:"store" yaml:"store"`
	// Storages lists the settings storage backends plugins may open: memory, redis.
	Storages []string `mapstructure:"storages" yaml:"storages" validate:"dive,oneof=memory redis"`

	Redis store.RedisConfig `mapstructure:"redis" yaml:"redis"`
	Log   logging.Config    `mapstructure:"log" yaml:"log"`
}

// DirConfig is one plugin root.
type DirConfig struct {
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=core user upload"`
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

// StoreConfig selects the plugin record store.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" default:"memory" validate:"oneof=memory redis sql"`
	// Dialect and DSN are used by the sql driver. pluginctl links a
	// database/sql driver for each dialect.
	Dialect string `mapstructure:"dialect" yaml:"dialect" default:"sqlite3" validate:"oneof=sqlite3 mysql postgres"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
	// Migrate creates the plugins table on startup.
	Migrate bool `mapstructure:"migrate" yaml:"migrate"`
}

// DefaultPluginDirs is the conventional user, core, upload layout under root.
func DefaultPluginDirs(root string) []DirConfig {
	return []DirConfig{
		{Type: "user", Path: filepath.Join(root, "user")},
		{Type: "core", Path: filepath.Join(root, "core")},
		{Type: "upload", Path: filepath.Join(root, "upload")},
	}
}

// Validate checks the configuration after defaults were applied.
func (h *HostConfig) Validate() error {
	if err := validate.Struct(h); err != nil {
		return fmt.Errorf("host config: %w", err)
	}
	if h.Store.Driver == DriverSQL && h.Store.DSN == "" {
		return fmt.Errorf("host config: store.dsn is required for the sql driver")
	}
	return nil
}

// LoadHost reads, defaults and validates a HostConfig.
func LoadHost(opts Options) (*HostConfig, *Config, error) {
	c, err := NewConfig(opts)
	if err != nil {
		return nil, nil, err
	}

	var host HostConfig
	if err := c.BindWithDefaults(&host); err != nil {
		return nil, nil, err
	}
	if len(host.PluginDirs) == 0 {
		host.PluginDirs = DefaultPluginDirs("plugins")
	}
	if len(host.Storages) == 0 {
		host.Storages = []string{DriverMemory}
	}
	if err := host.Validate(); err != nil {
		return nil, nil, err
	}
	return &host, c, nil
}
