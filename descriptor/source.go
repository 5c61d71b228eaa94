package descriptor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/leeforge/pluginhost/luaplugin"
	"github.com/leeforge/pluginhost/plugin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Descriptor file names, in lookup order.
const (
	YAMLFile = "plugin.yaml"
	XMLFile  = "config.xml"
)

const (
	defaultCacheTTL     = 5 * time.Minute
	defaultCacheCleanup = 10 * time.Minute
)

// FileSource reads plugin directories from the local filesystem.
//
// A directory X under a plugin root is a plugin when it holds X.lua, a
// plugin.yaml or a config.xml. Parsed descriptors are cached per file and
// modification time.
type FileSource struct {
	cache  *cache.Cache
	logger *zap.Logger
}

// Option configures a FileSource.
type Option func(*FileSource)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *FileSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCacheTTL sets how long parsed descriptors are kept.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *FileSource) {
		s.cache = cache.New(ttl, 2*ttl)
	}
}

// NewFileSource creates a FileSource.
func NewFileSource(opts ...Option) *FileSource {
	s := &FileSource{
		cache:  cache.New(defaultCacheTTL, defaultCacheCleanup),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListSubdirectories returns the visible directory names under path, sorted.
func (s *FileSource) ListSubdirectories(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Locate reports whether dir/name holds a plugin entry file.
func (s *FileSource) Locate(dir, name string) bool {
	pluginDir := filepath.Join(dir, name)
	for _, f := range []string{luaplugin.EntryFile(pluginDir, name), filepath.Join(pluginDir, YAMLFile), filepath.Join(pluginDir, XMLFile)} {
		if info, err := os.Stat(f); err == nil && info.Mode().IsRegular() {
			return true
		}
	}
	return false
}

// ReadDescriptor parses plugin.yaml, or config.xml when there is no YAML file.
func (s *FileSource) ReadDescriptor(pluginDir string) (*plugin.Descriptor, error) {
	for _, name := range []string{YAMLFile, XMLFile} {
		path := filepath.Join(pluginDir, name)
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}

		key := path + "@" + strconv.FormatInt(info.ModTime().UnixNano(), 10)
		if cached, ok := s.cache.Get(key); ok {
			return cached.(*plugin.Descriptor), nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var desc *plugin.Descriptor
		if name == YAMLFile {
			desc, err = ParseYAML(data)
		} else {
			desc, err = ParseXML(data)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		desc.Path = pluginDir

		s.cache.SetDefault(key, desc)
		s.logger.Debug("descriptor parsed", zap.String("path", path), zap.String("plugin", desc.Name))
		return desc, nil
	}
	return nil, fmt.Errorf("%s: %w", pluginDir, plugin.ErrDescriptorMissing)
}

// Import registers the script class of dir/name when the directory holds
// one. Compiled-in classes are registered at init time and need nothing.
func (s *FileSource) Import(ctx context.Context, dir, name string, classes *plugin.ClassRegistry) error {
	script := luaplugin.EntryFile(filepath.Join(dir, name), name)
	if _, err := os.Stat(script); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := "script:" + script
	if info, err := os.Stat(script); err == nil {
		key += "@" + strconv.FormatInt(info.ModTime().UnixNano(), 10)
	}
	if _, ok := s.cache.Get(key); ok && classes.Has(name) {
		return nil
	}

	if err := luaplugin.Register(classes, name, script); err != nil {
		return err
	}
	s.cache.SetDefault(key, true)
	s.logger.Debug("script plugin imported", zap.String("plugin", name), zap.String("path", script))
	return nil
}

// Flush drops every cached descriptor and script.
func (s *FileSource) Flush() {
	s.cache.Flush()
}

var _ plugin.Source = (*FileSource)(nil)
