package runtime

import (
	"context"
	"errors"

	apperrors "github.com/leeforge/pluginhost/errors"
	"github.com/leeforge/pluginhost/plugin"
	"go.uber.org/zap"
)

// InstallPlugin validates desc and persists a new, inactive record for it.
func (m *Manager) InstallPlugin(ctx context.Context, desc *plugin.Descriptor, locationType plugin.LocationType) error {
	if desc == nil {
		return apperrors.NewInvalidConfig("descriptor is missing")
	}
	if err := desc.Validate(); err != nil {
		return apperrors.NewInvalidConfig(err.Error()).WithInnerError(err)
	}
	if _, err := plugin.ParseLocationType(string(locationType)); err != nil {
		return apperrors.NewInvalidConfig(err.Error())
	}
	if !desc.IsCompatible(m.hostVersion) {
		return apperrors.NewIncompatibleVersion(desc.Name, m.hostVersion)
	}

	existing, err := m.findRecord(ctx, desc.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperrors.NewConflict("plugin", desc.Name).WithCode(apperrors.CodeAlreadyInstalled)
	}

	record := &plugin.Record{
		Name:    desc.Name,
		Version: desc.Version,
		Active:  false,
		Type:    locationType,
	}
	if err := m.store.Save(ctx, record); err != nil {
		return apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "save plugin "+desc.Name)
	}

	m.logger.Info("plugin installed",
		zap.String("plugin", record.Name),
		zap.String("version", record.Version),
		zap.String("type", string(record.Type)),
		zap.Int64("plugin_id", record.ID))
	return nil
}

// InstallUploadedPlugin installs the plugin unpacked in dir as an upload plugin.
func (m *Manager) InstallUploadedPlugin(ctx context.Context, dir string) error {
	desc, err := m.source.ReadDescriptor(dir)
	if errors.Is(err, plugin.ErrDescriptorMissing) {
		return apperrors.NewInvalidConfig("could not find the plugin descriptor").
			WithCode(apperrors.CodeDescriptorMissing).
			WithDetail("dir", dir)
	}
	if err != nil {
		return apperrors.NewInvalidConfig("could not parse the plugin descriptor").
			WithDetail("dir", dir).
			WithInnerError(err)
	}
	return m.InstallPlugin(ctx, desc, plugin.LocationUpload)
}

// GetInstalledPlugins returns the records whose plugin files can still be
// found, ordered by id.
func (m *Manager) GetInstalledPlugins(ctx context.Context) ([]*plugin.Record, error) {
	records, err := m.store.FindAll(ctx)
	if err != nil {
		return nil, apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "find plugins")
	}

	out := make([]*plugin.Record, 0, len(records))
	for _, r := range records {
		if m.locate(r.Name) {
			out = append(out, r)
		}
	}
	return out, nil
}

// IsPluginActive reports whether an active record exists for name.
func (m *Manager) IsPluginActive(ctx context.Context, name string) (bool, error) {
	record, err := m.findRecord(ctx, name)
	if err != nil || record == nil {
		return false, err
	}
	return record.Active, nil
}

// SetPluginActive toggles the record's active flag. Deactivating also
// unloads the plugin's instance.
func (m *Manager) SetPluginActive(ctx context.Context, name string, active bool) error {
	record, err := m.findRecord(ctx, name)
	if err != nil {
		return err
	}
	if record == nil {
		return apperrors.NewNotFound("plugin", name).WithCode(apperrors.CodeRecordNotFound)
	}
	if record.Active == active {
		return nil
	}

	record.Active = active
	if err := m.store.Save(ctx, record); err != nil {
		return apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "save plugin "+name)
	}
	m.logger.Info("plugin activation changed", zap.String("plugin", name), zap.Bool("active", active))

	if !active {
		return m.UnloadPlugin(ctx, record.ID)
	}
	return nil
}

func (m *Manager) locate(name string) bool {
	for _, d := range m.dirs {
		if m.source.Locate(d.Path, name) {
			return true
		}
	}
	return false
}
