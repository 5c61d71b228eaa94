package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/creasty/defaults"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Options controls where configuration is read from.
type Options struct {
	BasePath  string
	FileName  string
	FileType  string
	EnvPrefix string
	Mode      EnvMode
	// Optional allows a base path without any config file; defaults apply.
	Optional bool
	Logger   *zap.Logger
}

func DefaultOptions() Options {
	basePath := os.Getenv("PLUGINHOST_CONFIG_PATH")
	if basePath == "" {
		basePath = "config"
	}
	return Options{
		BasePath:  basePath,
		FileName:  "config",
		FileType:  "yaml",
		EnvPrefix: "PLUGINHOST",
		Mode:      CurrentEnvMode(),
		Optional:  true,
	}
}

// Config is a layered viper configuration.
//
// Files are merged in order: <name>, <name>.local, <name>.<mode>,
// <name>.<mode>.local (mode aliases such as "prod" included). Environment
// variables named <PREFIX>_<KEY> with dots replaced by underscores override
// file values.
type Config struct {
	opts     Options
	mu       sync.RWMutex
	instance *viper.Viper
	files    []string
}

func NewConfig(opts Options) (*Config, error) {
	if opts.FileName == "" {
		opts.FileName = "config"
	}
	if opts.FileType == "" {
		opts.FileType = "yaml"
	}
	if opts.Mode == "" {
		opts.Mode = CurrentEnvMode()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Config{opts: opts}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) reload() error {
	files := configFilePaths(c.opts)
	if len(files) == 0 && !c.opts.Optional {
		return fmt.Errorf("no configuration files found in path: %s", c.opts.BasePath)
	}

	v := viper.New()
	v.SetConfigType(c.opts.FileType)
	for _, path := range files {
		layer := viper.New()
		layer.SetConfigFile(path)
		if err := layer.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
		if err := v.MergeConfigMap(layer.AllSettings()); err != nil {
			return fmt.Errorf("merge config file %s: %w", path, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if c.opts.EnvPrefix != "" {
		v.SetEnvPrefix(c.opts.EnvPrefix)
	}
	v.AutomaticEnv()
	applyEnvOverrides(v, c.opts.EnvPrefix)

	c.mu.Lock()
	c.instance = v
	c.files = files
	c.mu.Unlock()

	c.opts.Logger.Debug("configuration loaded",
		zap.Strings("files", files), zap.String("mode", string(c.opts.Mode)))
	return nil
}

// Files returns the config files merged by the last load.
func (c *Config) Files() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.files...)
}

// Bind unmarshals the configuration into target.
func (c *Config) Bind(target any) error {
	if target == nil {
		return errors.New("target instance is nil")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.instance.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config (path: %s, file: %s.%s): %w",
			c.opts.BasePath, c.opts.FileName, c.opts.FileType, err)
	}
	return nil
}

// BindWithDefaults fills default tags, then overlays the configuration.
func (c *Config) BindWithDefaults(target any) error {
	if err := defaults.Set(target); err != nil {
		return fmt.Errorf("failed to set defaults: %w", err)
	}
	if err := c.Bind(target); err != nil {
		return err
	}
	if err := defaults.Set(target); err != nil {
		return fmt.Errorf("failed to set defaults after unmarshal: %w", err)
	}
	return nil
}

func (c *Config) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instance.Get(key)
}

func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instance.Set(key, value)
}

// Watch reloads the configuration when a file in the base path changes and
// calls onChange after a successful reload. The returned function stops
// watching.
func (c *Config) Watch(onChange func(e fsnotify.Event)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(c.opts.BasePath); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	suffix := "." + c.opts.FileType
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(e.Name, suffix) || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := c.reload(); err != nil {
					c.opts.Logger.Warn("config reload failed", zap.String("file", e.Name), zap.Error(err))
					continue
				}
				if onChange != nil {
					onChange(e)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.opts.Logger.Warn("config watch error", zap.Error(err))
			}
		}
	}()

	return func() error {
		err := watcher.Close()
		<-done
		return err
	}, nil
}

// applyEnvOverrides makes environment variables win over file values for
// every key the files define.
func applyEnvOverrides(v *viper.Viper, envPrefix string) {
	replacer := strings.NewReplacer(".", "_")
	for _, key := range v.AllKeys() {
		envKey := strings.ToUpper(replacer.Replace(key))
		if envPrefix != "" {
			envKey = envPrefix + "_" + envKey
		}
		if envValue := os.Getenv(envKey); envValue != "" {
			v.Set(key, envValue)
		}
	}
}

func configFilePaths(opts Options) []string {
	names := []string{opts.FileName, opts.FileName + ".local"}
	for _, suffix := range append([]string{string(opts.Mode)}, opts.Mode.aliases()...) {
		names = append(names, opts.FileName+"."+suffix, opts.FileName+"."+suffix+".local")
	}

	var files []string
	for _, name := range names {
		path := filepath.Join(opts.BasePath, name+"."+opts.FileType)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, path)
	}
	return files
}
