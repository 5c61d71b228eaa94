package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/leeforge/pluginhost/descriptor"
	"github.com/leeforge/pluginhost/plugin"
	"github.com/leeforge/pluginhost/runtime"
	"github.com/leeforge/pluginhost/store"
	"github.com/stretchr/testify/require"
)

const auditYAML = `name: AuditLog
version: 1.0.0
compatibility: ["6"]
settings:
  events: [beforeSave]
  max_entries: 2
  storage: memory
`

func newHost(t *testing.T) (*runtime.Manager, chi.Router) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, ClassName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, descriptor.YAMLFile), []byte(auditYAML), 0o644))

	records := store.NewMemoryStore()
	require.NoError(t, records.Save(context.Background(), &plugin.Record{Name: ClassName, Version: "1.0.0", Active: true, Type: plugin.LocationCore}))

	classes := plugin.NewClassRegistry()
	require.NoError(t, classes.Register(Class()))

	router := chi.NewRouter()
	mgr, err := runtime.NewManager(runtime.Config{
		Store:       records,
		Source:      descriptor.NewFileSource(),
		Classes:     classes,
		PluginDirs:  []runtime.PluginDir{{Type: plugin.LocationCore, Path: root}},
		HostVersion: "6.0.0",
		Router:      router,
		Storages: map[string]runtime.StorageFactory{
			"memory": func() (plugin.Storage, error) { return store.NewMemoryStorage(), nil },
		},
	})
	require.NoError(t, err)
	require.NoError(t, mgr.LoadPlugins(context.Background()))
	return mgr, router
}

func TestAuditPlugin_RecordsSubscribedEvents(t *testing.T) {
	mgr, _ := newHost(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := mgr.Dispatch(ctx, plugin.NewEvent("beforeSave", map[string]any{"n": i}))
		require.NoError(t, err)
	}
	_, err := mgr.Dispatch(ctx, plugin.NewEvent("afterSurveyComplete", nil))
	require.NoError(t, err)

	svc, err := plugin.Resolve[*AuditService](mgr.Services(), RecorderKey(1))
	require.NoError(t, err)

	entries := svc.Entries(0)
	require.Len(t, entries, 2)
	require.Equal(t, 2, entries[0].Payload["n"])
	require.Equal(t, "beforeSave", entries[1].Event)

	storage, err := mgr.GetStore("memory")
	require.NoError(t, err)
	count, ok, err := storage.Get(ctx, ClassName, "count.beforeSave")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, count)

	require.Equal(t, map[string]error{ClassName + "#1": nil}, mgr.HealthCheck(ctx))
}

func TestAuditPlugin_Routes(t *testing.T) {
	mgr, router := newHost(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := mgr.Dispatch(ctx, plugin.NewEvent("beforeSave", nil))
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Logs []Entry `json:"logs"`
	}
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Logs, 1)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/audit/clear", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	p, ok := mgr.FindPlugin(ClassName)
	require.True(t, ok)
	require.Empty(t, p.(*AuditPlugin).Service().Entries(0))
}

func TestAuditPlugin_DisableReleasesServices(t *testing.T) {
	mgr, _ := newHost(t)
	ctx := context.Background()
	p, ok := mgr.FindPlugin(ClassName)
	require.True(t, ok)

	require.NoError(t, mgr.UnloadPlugin(ctx, p.ID()))
	require.False(t, mgr.Services().Has(RecorderKey(p.ID())))
	require.Empty(t, mgr.Subscriptions("beforeSave"))
}

func TestAuditPlugin_SeveralInstances(t *testing.T) {
	mgr, router := newHost(t)
	ctx := context.Background()

	second, err := mgr.LoadPlugin(ctx, ClassName, 99)
	require.NoError(t, err)
	require.NotNil(t, second)

	records, err := mgr.GetInstalledPlugins(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.False(t, records[0].LoadError)

	_, err = mgr.Dispatch(ctx, plugin.NewEvent("beforeSave", nil))
	require.NoError(t, err)
	for _, id := range []int64{1, 99} {
		svc, err := plugin.Resolve[*AuditService](mgr.Services(), RecorderKey(id))
		require.NoError(t, err)
		require.Len(t, svc.Entries(0), 1)
	}

	require.NoError(t, mgr.UnloadPlugin(ctx, 99))
	require.False(t, mgr.Services().Has(RecorderKey(99)))
	require.True(t, mgr.Services().Has(RecorderKey(1)))

	// Routes fall back to the remaining instance.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Logs []Entry `json:"logs"`
	}
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Logs, 1)
}

func TestAuditPlugin_RoutesFollowReload(t *testing.T) {
	mgr, router := newHost(t)
	ctx := context.Background()

	require.NoError(t, mgr.ReadConfigFiles(ctx))
	_, err := mgr.Dispatch(ctx, plugin.NewEvent("beforeSave", nil))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Logs []Entry `json:"logs"`
	}
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Logs, 1)

	require.NoError(t, mgr.UnloadPlugin(ctx, 1))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	_, err = mgr.LoadPlugin(ctx, ClassName, 1)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &body))
	require.Empty(t, body.Logs)
}

func TestAuditService_Retention(t *testing.T) {
	svc := NewAuditService(nil, 1, 0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.Record(context.Background(), plugin.NewEvent("old", nil)))
	now = now.Add(36 * time.Hour)
	require.NoError(t, svc.Record(context.Background(), plugin.NewEvent("new", nil)))

	entries := svc.Entries(0)
	require.Len(t, entries, 1)
	require.Equal(t, "new", entries[0].Event)
}
