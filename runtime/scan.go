package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	apperrors "github.com/leeforge/pluginhost/errors"
	"github.com/leeforge/pluginhost/plugin"
	"go.uber.org/zap"
)

// ScanPlugins walks the configured plugin directories and describes what it
// finds, keyed by plugin name.
//
// Directories without a record are always read. With includeInstalled,
// installed plugins are read too unless their record is faulted. Faulted
// plugins are reported with a minimal fault entry and never re-read. A
// directory whose descriptor cannot be read gets a fault recorded and is left
// out of the result. The scan touches the filesystem for every directory and
// is meant for administrative use only.
func (m *Manager) ScanPlugins(ctx context.Context, includeInstalled bool) (map[string]*plugin.PluginInfo, error) {
	result := make(map[string]*plugin.PluginInfo)

	for _, dir := range m.dirs {
		names, err := m.source.ListSubdirectories(dir.Path)
		if err != nil {
			return nil, fmt.Errorf("list %s plugins: %w", dir.Type, err)
		}

		for _, name := range names {
			record, err := m.findRecord(ctx, name)
			if err != nil {
				return nil, err
			}

			switch {
			case record == nil || (includeInstalled && !record.LoadError):
				if !m.source.Locate(dir.Path, name) {
					continue
				}
				info, err := m.readInfo(ctx, name, dir.Type)
				switch {
				case err == nil:
					result[name] = info
				case errors.Is(err, plugin.ErrPluginNotFound), errors.Is(err, plugin.ErrMalformedPlugin):
					m.logger.Warn("skipping plugin directory",
						zap.String("plugin", name),
						zap.String("dir", dir.Path),
						zap.Error(err))
				default:
					if record == nil {
						record = &plugin.Record{Name: name, Type: dir.Type}
					}
					if ferr := m.recordFault(ctx, record, err); ferr != nil {
						return nil, ferr
					}
				}
			case record.LoadError:
				result[name] = plugin.FaultInfo(name)
			}
		}
	}
	return result, nil
}

// readInfo is GetPluginInfo with panics converted into errors.
func (m *Manager) readInfo(ctx context.Context, name string, dirType plugin.LocationType) (info *plugin.PluginInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			info, err = nil, apperrors.FromPanic(r)
		}
	}()
	return m.GetPluginInfo(ctx, name, dirType)
}

// GetPluginInfo resolves class name from the plugin directories, or only from
// the directory of type dirType when it is set.
//
// It returns plugin.ErrPluginNotFound when no directory holds an entry file
// for name, and plugin.ErrMalformedPlugin when the entry file exists but does
// not provide the class. Any other error means the descriptor or the plugin
// source could not be read.
func (m *Manager) GetPluginInfo(ctx context.Context, name string, dirType plugin.LocationType) (*plugin.PluginInfo, error) {
	var found *PluginDir
	for i := range m.dirs {
		if dirType != "" && m.dirs[i].Type != dirType {
			continue
		}
		if m.source.Locate(m.dirs[i].Path, name) {
			found = &m.dirs[i]
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%s: %w", name, plugin.ErrPluginNotFound)
	}

	if err := m.source.Import(ctx, found.Path, name, m.classes); err != nil {
		return nil, fmt.Errorf("import %s: %w", name, err)
	}

	desc, err := m.source.ReadDescriptor(filepath.Join(found.Path, name))
	if err != nil && !errors.Is(err, plugin.ErrDescriptorMissing) {
		return nil, fmt.Errorf("read descriptor of %s: %w", name, err)
	}

	class, ok := m.classes.Get(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, plugin.ErrMalformedPlugin)
	}

	info := &plugin.PluginInfo{
		PluginName:  name,
		PluginClass: class.Name,
		Description: class.Description,
		PluginType:  found.Type,
	}
	if desc != nil {
		info.Config = desc
		info.IsCompatible = desc.IsCompatible(m.hostVersion)
		if info.Description == "" {
			info.Description = desc.Description
		}
	}
	return info, nil
}
