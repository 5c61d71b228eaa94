package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/leeforge/pluginhost/descriptor"
	apperrors "github.com/leeforge/pluginhost/errors"
	"github.com/leeforge/pluginhost/plugin"
	"github.com/leeforge/pluginhost/store"
	"github.com/stretchr/testify/require"
)

const hostVersion = "6.4.0"

type counterPlugin struct {
	*plugin.Base
	initErr   error
	reads     int
	disabled  int
	afterLoad int
}

func (p *counterPlugin) Init(ctx context.Context) error {
	if p.initErr != nil {
		return p.initErr
	}
	p.Listen(p, "beforeSave", func(ctx context.Context, e *plugin.Event) error {
		e.Set("seen_by", p.Name())
		return nil
	})
	p.Listen(p, plugin.EventAfterPluginLoad, func(ctx context.Context, e *plugin.Event) error {
		p.afterLoad++
		return nil
	})
	return nil
}

func (p *counterPlugin) Disable(ctx context.Context) error {
	p.disabled++
	return nil
}

func (p *counterPlugin) ReadConfigFile(ctx context.Context) error {
	p.reads++
	return nil
}

type testHost struct {
	t       *testing.T
	root    string
	store   plugin.Store
	classes *plugin.ClassRegistry
	mgr     *Manager

	built map[string]int
	last  map[string]*counterPlugin
}

func newTestHost(t *testing.T, s plugin.Store) *testHost {
	t.Helper()
	if s == nil {
		s = store.NewMemoryStore()
	}
	h := &testHost{
		t:       t,
		root:    t.TempDir(),
		store:   s,
		classes: plugin.NewClassRegistry(),
		built:   make(map[string]int),
		last:    make(map[string]*counterPlugin),
	}

	mgr, err := NewManager(Config{
		Store:   s,
		Source:  descriptor.NewFileSource(),
		Classes: h.classes,
		PluginDirs: []PluginDir{
			{Type: plugin.LocationUser, Path: filepath.Join(h.root, "user")},
			{Type: plugin.LocationCore, Path: filepath.Join(h.root, "core")},
			{Type: plugin.LocationUpload, Path: filepath.Join(h.root, "upload")},
		},
		HostVersion: hostVersion,
		Storages: map[string]StorageFactory{
			"memory": func() (plugin.Storage, error) {
				h.built["storage:memory"]++
				return store.NewMemoryStorage(), nil
			},
		},
	})
	require.NoError(t, err)
	h.mgr = mgr
	return h
}

// register adds a counting class; initErr makes every instance fail Init.
func (h *testHost) register(name string, initErr error) {
	require.NoError(h.t, h.classes.Register(plugin.Class{
		Name: name,
		New: func(app *plugin.AppContext, id int64) (plugin.Plugin, error) {
			h.built[name]++
			p := &counterPlugin{Base: plugin.NewBase(name, id, app), initErr: initErr}
			h.last[name] = p
			return p, nil
		},
	}))
}

func (h *testHost) writeDescriptor(loc plugin.LocationType, name, version string, compat ...string) string {
	h.t.Helper()
	if len(compat) == 0 {
		compat = []string{"6"}
	}
	body := fmt.Sprintf("name: %s\nversion: %s\ncompatibility:\n", name, version)
	for _, c := range compat {
		body += fmt.Sprintf("  - %q\n", c)
	}
	body += "settings:\n  channel: audit\n"
	return h.writeFile(loc, name, descriptor.YAMLFile, body)
}

func (h *testHost) writeFile(loc plugin.LocationType, name, file, body string) string {
	h.t.Helper()
	dir := filepath.Join(h.root, string(loc), name)
	require.NoError(h.t, os.MkdirAll(dir, 0o755))
	require.NoError(h.t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644))
	return dir
}

func (h *testHost) save(name string, active bool) *plugin.Record {
	h.t.Helper()
	r := &plugin.Record{Name: name, Version: "1.0.0", Active: active, Type: plugin.LocationUser}
	require.NoError(h.t, h.store.Save(context.Background(), r))
	return r
}

func (h *testHost) find(name string) *plugin.Record {
	h.t.Helper()
	r, err := h.store.Find(context.Background(), name)
	require.NoError(h.t, err)
	return r
}

func TestNewManager_RequiresCollaborators(t *testing.T) {
	_, err := NewManager(Config{Source: descriptor.NewFileSource()})
	require.Error(t, err)

	_, err = NewManager(Config{Store: store.NewMemoryStore()})
	require.Error(t, err)
}

func TestManager_LoadPluginIsCached(t *testing.T) {
	h := newTestHost(t, nil)
	h.register("Greeter", nil)
	h.writeDescriptor(plugin.LocationUser, "Greeter", "1.0.0")
	r := h.save("Greeter", true)
	ctx := context.Background()

	first, err := h.mgr.LoadPlugin(ctx, "Greeter", r.ID)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := h.mgr.LoadPlugin(ctx, "Greeter", r.ID)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, h.built["Greeter"])

	require.Equal(t, "audit", h.last["Greeter"].Config().GetString("channel", ""))
	require.True(t, h.last["Greeter"].Config().IsEnabled())
}

func TestManager_LoadPluginFaultIsRecordedOnce(t *testing.T) {
	h := newTestHost(t, nil)
	h.register("Broken", errors.New("database offline"))
	h.writeDescriptor(plugin.LocationUser, "Broken", "1.0.0")
	r := h.save("Broken", true)
	ctx := context.Background()

	p, err := h.mgr.LoadPlugin(ctx, "Broken", r.ID)
	require.NoError(t, err)
	require.Nil(t, p)

	record := h.find("Broken")
	require.True(t, record.LoadError)
	require.Equal(t, plugin.LoadFaulted, record.State())
	require.NotNil(t, record.LoadErrorDetail)
	require.Contains(t, record.LoadErrorDetail.Message, "database offline")

	p, err = h.mgr.LoadPlugin(ctx, "Broken", r.ID)
	require.NoError(t, err)
	require.Nil(t, p)

	// A fresh id still sees the faulted record.
	p, err = h.mgr.LoadPlugin(ctx, "Broken", r.ID+100)
	require.NoError(t, err)
	require.Nil(t, p)
	require.Equal(t, 1, h.built["Broken"])

	require.Empty(t, h.mgr.Subscriptions("beforeSave"))
}

func TestManager_FailedInitIsDisabled(t *testing.T) {
	h := newTestHost(t, nil)
	h.register("HalfBuilt", errors.New("settings rejected"))
	h.writeDescriptor(plugin.LocationUser, "HalfBuilt", "1.0.0")
	r := h.save("HalfBuilt", true)

	p, err := h.mgr.LoadPlugin(context.Background(), "HalfBuilt", r.ID)
	require.NoError(t, err)
	require.Nil(t, p)
	require.Equal(t, 1, h.last["HalfBuilt"].disabled)
	require.Empty(t, h.mgr.Instances())
}

func TestManager_LoadPluginRecoversPanics(t *testing.T) {
	h := newTestHost(t, nil)
	require.NoError(t, h.classes.Register(plugin.Class{
		Name: "Panicky",
		New: func(app *plugin.AppContext, id int64) (plugin.Plugin, error) {
			panic("constructor exploded")
		},
	}))
	h.writeDescriptor(plugin.LocationUser, "Panicky", "1.0.0")

	p, err := h.mgr.LoadPlugin(context.Background(), "Panicky", 3)
	require.NoError(t, err)
	require.Nil(t, p)

	// No record existed, so the fault created one.
	record := h.find("Panicky")
	require.True(t, record.LoadError)
	require.Contains(t, record.LoadErrorDetail.Message, "constructor exploded")
}

func TestManager_LoadPluginUnknownIsCachedNil(t *testing.T) {
	h := newTestHost(t, nil)
	ctx := context.Background()

	p, err := h.mgr.LoadPlugin(ctx, "Nowhere", 1)
	require.NoError(t, err)
	require.Nil(t, p)

	// An entry file without a registered class is malformed, not faulted.
	h.writeDescriptor(plugin.LocationUser, "Orphan", "1.0.0")
	p, err = h.mgr.LoadPlugin(ctx, "Orphan", 2)
	require.NoError(t, err)
	require.Nil(t, p)

	_, err = h.store.Find(ctx, "Orphan")
	require.ErrorIs(t, err, plugin.ErrRecordNotFound)
}

type faultBlindStore struct {
	*store.MemoryStore
}

func (faultBlindStore) MarkLoadError(context.Context, *plugin.Record, plugin.LoadErrorDetail) error {
	return errors.New("disk full")
}

func TestManager_UnrecordableFaultIsFatal(t *testing.T) {
	h := newTestHost(t, faultBlindStore{store.NewMemoryStore()})
	h.register("Broken", errors.New("bad init"))
	h.writeDescriptor(plugin.LocationUser, "Broken", "1.0.0")

	p, err := h.mgr.LoadPlugin(context.Background(), "Broken", 1)
	require.Nil(t, p)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.ErrorTypeInternal, appErr.Type)
	require.Equal(t, apperrors.CodeFaultNotRecorded, appErr.Code)
}

func TestManager_LoadPluginsIsIdempotent(t *testing.T) {
	h := newTestHost(t, nil)
	h.register("Greeter", nil)
	h.register("Sleeper", nil)
	h.writeDescriptor(plugin.LocationUser, "Greeter", "1.0.0")
	h.writeDescriptor(plugin.LocationCore, "Sleeper", "1.0.0")
	h.save("Greeter", true)
	h.save("Sleeper", false)
	ctx := context.Background()

	require.NoError(t, h.mgr.LoadPlugins(ctx))
	require.NoError(t, h.mgr.LoadPlugins(ctx))

	require.Equal(t, 1, h.built["Greeter"])
	require.Zero(t, h.built["Sleeper"])
	require.Len(t, h.mgr.Instances(), 1)
	require.Len(t, h.mgr.Subscriptions("beforeSave"), 1)
	require.Equal(t, 2, h.last["Greeter"].afterLoad)

	e, err := h.mgr.Dispatch(ctx, plugin.NewEvent("beforeSave", nil))
	require.NoError(t, err)
	require.Equal(t, "Greeter", e.GetString("seen_by", ""))

	require.NoError(t, h.mgr.LoadAllPlugins(ctx))
	require.Equal(t, 1, h.built["Sleeper"])
}

func TestManager_FindPluginReturnsFirstLoaded(t *testing.T) {
	h := newTestHost(t, nil)
	h.register("Greeter", nil)
	h.writeDescriptor(plugin.LocationUser, "Greeter", "1.0.0")
	h.save("Greeter", true)
	ctx := context.Background()

	_, ok := h.mgr.FindPlugin("Greeter")
	require.False(t, ok)

	_, err := h.mgr.LoadPlugin(ctx, "Greeter", 9)
	require.NoError(t, err)
	_, err = h.mgr.LoadPlugin(ctx, "Greeter", 4)
	require.NoError(t, err)

	p, ok := h.mgr.FindPlugin("Greeter")
	require.True(t, ok)
	require.Equal(t, int64(9), p.ID())
}

func TestManager_UnloadPluginDropsSubscriptions(t *testing.T) {
	h := newTestHost(t, nil)
	h.register("Greeter", nil)
	h.writeDescriptor(plugin.LocationUser, "Greeter", "1.0.0")
	r := h.save("Greeter", true)
	ctx := context.Background()

	_, err := h.mgr.LoadPlugin(ctx, "Greeter", r.ID)
	require.NoError(t, err)
	require.Len(t, h.mgr.Subscriptions("beforeSave"), 1)

	require.NoError(t, h.mgr.UnloadPlugin(ctx, r.ID))
	require.Empty(t, h.mgr.Subscriptions("beforeSave"))
	require.Empty(t, h.mgr.Instances())
	require.Equal(t, 1, h.last["Greeter"].disabled)

	require.NoError(t, h.mgr.UnloadPlugin(ctx, r.ID))
}

func TestManager_ScanPlugins(t *testing.T) {
	h := newTestHost(t, nil)
	for _, name := range []string{"Fresh", "Installed", "Faulted"} {
		h.register(name, nil)
		h.writeDescriptor(plugin.LocationUser, name, "1.0.0")
	}
	h.register("Legacy", nil)
	h.writeDescriptor(plugin.LocationCore, "Legacy", "2.0.0", "5.2")
	h.writeFile(plugin.LocationUser, "Mangled", descriptor.YAMLFile, "name: [unterminated\n")
	require.NoError(t, os.MkdirAll(filepath.Join(h.root, "user", "empty"), 0o755))

	h.save("Installed", true)
	faulted := h.save("Faulted", true)
	require.NoError(t, h.store.MarkLoadError(context.Background(), faulted, plugin.LoadErrorDetail{Message: "earlier failure"}))
	ctx := context.Background()

	found, err := h.mgr.ScanPlugins(ctx, false)
	require.NoError(t, err)

	require.Contains(t, found, "Fresh")
	require.Equal(t, plugin.LocationUser, found["Fresh"].PluginType)
	require.True(t, found["Fresh"].IsCompatible)
	require.Equal(t, "1.0.0", found["Fresh"].Config.Version)

	require.Contains(t, found, "Legacy")
	require.Equal(t, plugin.LocationCore, found["Legacy"].PluginType)
	require.False(t, found["Legacy"].IsCompatible)

	require.NotContains(t, found, "Installed")
	require.NotContains(t, found, "empty")

	require.Equal(t, plugin.FaultInfo("Faulted"), found["Faulted"])

	// The unreadable descriptor was faulted and left out.
	require.NotContains(t, found, "Mangled")
	require.True(t, h.find("Mangled").LoadError)

	all, err := h.mgr.ScanPlugins(ctx, true)
	require.NoError(t, err)
	require.Contains(t, all, "Installed")
	require.True(t, all["Faulted"].LoadError)
	require.True(t, all["Mangled"].LoadError)
}

func TestManager_GetPluginInfoHonorsDirType(t *testing.T) {
	h := newTestHost(t, nil)
	h.register("Greeter", nil)
	h.writeDescriptor(plugin.LocationCore, "Greeter", "3.1.0")
	ctx := context.Background()

	info, err := h.mgr.GetPluginInfo(ctx, "Greeter", "")
	require.NoError(t, err)
	require.Equal(t, plugin.LocationCore, info.PluginType)
	require.Equal(t, "Greeter", info.PluginClass)

	_, err = h.mgr.GetPluginInfo(ctx, "Greeter", plugin.LocationUser)
	require.ErrorIs(t, err, plugin.ErrPluginNotFound)
}

func TestManager_LoadsScriptPlugins(t *testing.T) {
	h := newTestHost(t, nil)
	h.writeDescriptor(plugin.LocationUser, "Stamp", "1.0.0")
	h.writeFile(plugin.LocationUser, "Stamp", "Stamp.lua", `
function init()
  plugin.subscribe("beforeSave", "stamp")
end

function stamp(event)
  event:set("stamp", plugin.setting("channel", "none"))
end
`)
	r := h.save("Stamp", true)
	ctx := context.Background()

	p, err := h.mgr.LoadPlugin(ctx, "Stamp", r.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.True(t, h.classes.Has("Stamp"))

	e, err := h.mgr.Dispatch(ctx, plugin.NewEvent("beforeSave", nil))
	require.NoError(t, err)
	require.Equal(t, "audit", e.GetString("stamp", ""))

	require.NoError(t, h.mgr.Shutdown(ctx))
	require.Empty(t, h.mgr.Subscriptions("beforeSave"))
}

func TestManager_InstallPlugin(t *testing.T) {
	h := newTestHost(t, nil)
	ctx := context.Background()
	desc := &plugin.Descriptor{
		Name:          "Greeter",
		Type:          "plugin",
		Version:       "1.2.0",
		Compatibility: []string{"6.4"},
	}

	require.NoError(t, h.mgr.InstallPlugin(ctx, desc, plugin.LocationCore))
	record := h.find("Greeter")
	require.False(t, record.Active)
	require.Equal(t, "1.2.0", record.Version)
	require.Equal(t, plugin.LocationCore, record.Type)

	err := h.mgr.InstallPlugin(ctx, desc, plugin.LocationCore)
	require.Equal(t, apperrors.ErrorTypeConflict, apperrors.TypeOf(err))

	err = h.mgr.InstallPlugin(ctx, &plugin.Descriptor{Name: "NoVersion", Type: "plugin", Compatibility: []string{"6"}}, plugin.LocationUser)
	require.Equal(t, apperrors.ErrorTypeInvalidConfig, apperrors.TypeOf(err))

	err = h.mgr.InstallPlugin(ctx, &plugin.Descriptor{Name: "Old", Type: "plugin", Version: "1.0.0", Compatibility: []string{"5"}}, plugin.LocationUser)
	require.Equal(t, apperrors.ErrorTypeIncompatibleVersion, apperrors.TypeOf(err))

	err = h.mgr.InstallPlugin(ctx, &plugin.Descriptor{Name: "Nowhere", Type: "plugin", Version: "1.0.0", Compatibility: []string{"6"}}, "attic")
	require.Equal(t, apperrors.ErrorTypeInvalidConfig, apperrors.TypeOf(err))

	err = h.mgr.InstallPlugin(ctx, nil, plugin.LocationUser)
	require.Equal(t, apperrors.ErrorTypeInvalidConfig, apperrors.TypeOf(err))
}

func TestManager_InstallUploadedPlugin(t *testing.T) {
	h := newTestHost(t, nil)
	ctx := context.Background()

	dir := h.writeDescriptor(plugin.LocationUpload, "Uploaded", "0.3.0")
	require.NoError(t, h.mgr.InstallUploadedPlugin(ctx, dir))
	require.Equal(t, plugin.LocationUpload, h.find("Uploaded").Type)

	empty := filepath.Join(h.root, "upload", "Empty")
	require.NoError(t, os.MkdirAll(empty, 0o755))
	err := h.mgr.InstallUploadedPlugin(ctx, empty)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.CodeDescriptorMissing, appErr.Code)

	bad := h.writeFile(plugin.LocationUpload, "Bad", descriptor.YAMLFile, "name: [\n")
	err = h.mgr.InstallUploadedPlugin(ctx, bad)
	require.Equal(t, apperrors.ErrorTypeInvalidConfig, apperrors.TypeOf(err))
}

func TestManager_ActivationAndInstalledList(t *testing.T) {
	h := newTestHost(t, nil)
	h.register("Greeter", nil)
	h.writeDescriptor(plugin.LocationUser, "Greeter", "1.0.0")
	r := h.save("Greeter", false)
	h.save("Removed", true)
	ctx := context.Background()

	installed, err := h.mgr.GetInstalledPlugins(ctx)
	require.NoError(t, err)
	require.Len(t, installed, 1)
	require.Equal(t, "Greeter", installed[0].Name)

	active, err := h.mgr.IsPluginActive(ctx, "Greeter")
	require.NoError(t, err)
	require.False(t, active)

	require.NoError(t, h.mgr.SetPluginActive(ctx, "Greeter", true))
	active, err = h.mgr.IsPluginActive(ctx, "Greeter")
	require.NoError(t, err)
	require.True(t, active)

	require.NoError(t, h.mgr.LoadPlugins(ctx))
	require.Len(t, h.mgr.Instances(), 1)

	require.NoError(t, h.mgr.SetPluginActive(ctx, "Greeter", false))
	require.Empty(t, h.mgr.Instances())
	require.Equal(t, 1, h.last["Greeter"].disabled)

	_, ok := h.mgr.FindPlugin("Greeter")
	require.False(t, ok)
	require.False(t, h.find("Greeter").Active)
	require.Equal(t, r.ID, h.find("Greeter").ID)

	err = h.mgr.SetPluginActive(ctx, "Ghost", true)
	require.ErrorIs(t, err, plugin.ErrRecordNotFound)

	active, err = h.mgr.IsPluginActive(ctx, "Ghost")
	require.NoError(t, err)
	require.False(t, active)
}

func TestManager_ReadConfigFiles(t *testing.T) {
	h := newTestHost(t, nil)
	h.register("Greeter", nil)
	h.writeDescriptor(plugin.LocationUser, "Greeter", "1.1.0")
	h.save("Greeter", true)
	ctx := context.Background()

	require.NoError(t, h.mgr.LoadPlugins(ctx))
	first := h.last["Greeter"]

	require.NoError(t, h.mgr.ReadConfigFiles(ctx))
	require.Equal(t, 1, first.reads)
	require.Equal(t, 1, first.disabled)
	require.Equal(t, "1.1.0", h.find("Greeter").Version)

	// Instances and subscriptions were rebuilt.
	require.Equal(t, 2, h.built["Greeter"])
	require.Len(t, h.mgr.Subscriptions("beforeSave"), 1)
	require.NotSame(t, first, h.last["Greeter"])
	require.Equal(t, "Greeter", h.mgr.Subscriptions("beforeSave")[0].Plugin)
}

func TestManager_HealthCheckAndServices(t *testing.T) {
	h := newTestHost(t, nil)
	require.NoError(t, h.mgr.Services().Register(plugin.ServiceKey("core", "clock"), "tick"))
	require.True(t, h.mgr.Services().Has(plugin.ServiceKey("core", "clock")))
	require.Empty(t, h.mgr.HealthCheck(context.Background()))

	require.NoError(t, h.mgr.Shutdown(context.Background()))
	require.False(t, h.mgr.Services().Has(plugin.ServiceKey("core", "clock")))
}

func TestManager_GetStore(t *testing.T) {
	h := newTestHost(t, nil)

	s1, err := h.mgr.GetStore("memory")
	require.NoError(t, err)
	s2, err := h.mgr.GetStore("memory")
	require.NoError(t, err)
	require.Same(t, s1, s2)
	require.Equal(t, 1, h.built["storage:memory"])

	_, err = h.mgr.GetStore("dbstorage")
	require.ErrorIs(t, err, plugin.ErrStorageNotFound)
}
