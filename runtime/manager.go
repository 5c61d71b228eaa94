package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	apperrors "github.com/leeforge/pluginhost/errors"
	"github.com/leeforge/pluginhost/plugin"
	"go.uber.org/zap"
)

// PluginDir is one configured plugin root.
type PluginDir struct {
	Type plugin.LocationType
	Path string
}

// StorageFactory builds a settings storage backend on first use.
type StorageFactory func() (plugin.Storage, error)

// Config holds configuration for creating a new Manager.
type Config struct {
	Store   plugin.Store
	Source  plugin.Source
	Classes *plugin.ClassRegistry // default plugin.DefaultClasses()

	// PluginDirs are scanned in order; conventionally user, core, upload.
	PluginDirs  []PluginDir
	HostVersion string

	Router   chi.Router
	Redis    *redis.Client
	Logger   *zap.Logger
	API      any
	Storages map[string]StorageFactory
}

// instance is a cache entry; plugin is nil when loading was refused or faulted.
type instance struct {
	class  string
	plugin plugin.Plugin
}

// Manager owns loaded plugin instances and the event bus they subscribe to.
type Manager struct {
	store       plugin.Store
	source      plugin.Source
	classes     *plugin.ClassRegistry
	dirs        []PluginDir
	hostVersion string
	router      chi.Router
	redis       *redis.Client
	logger      *zap.Logger
	api         any

	instances map[int64]*instance
	order     []int64
	routes    map[string]routeSet
	mounted   map[string]bool
	mu        sync.RWMutex
	loadMu    sync.Mutex

	storageFactories map[string]StorageFactory
	stores           map[string]plugin.Storage
	storesMu         sync.Mutex

	appContext *plugin.AppContext
	eventBus   *eventBus
}

// NewManager creates a manager. Store and Source are required.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("plugin manager: store is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("plugin manager: source is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Classes == nil {
		cfg.Classes = plugin.DefaultClasses()
	}

	bus := NewEventBus(cfg.Logger)
	m := &Manager{
		store:            cfg.Store,
		source:           cfg.Source,
		classes:          cfg.Classes,
		dirs:             append([]PluginDir{}, cfg.PluginDirs...),
		hostVersion:      cfg.HostVersion,
		router:           cfg.Router,
		redis:            cfg.Redis,
		logger:           cfg.Logger,
		api:              cfg.API,
		instances:        make(map[int64]*instance),
		routes:           make(map[string]routeSet),
		mounted:          make(map[string]bool),
		storageFactories: make(map[string]StorageFactory, len(cfg.Storages)),
		stores:           make(map[string]plugin.Storage),
		eventBus:         bus,
	}
	for name, f := range cfg.Storages {
		m.storageFactories[name] = f
	}

	m.appContext = &plugin.AppContext{
		Router:   cfg.Router,
		Redis:    cfg.Redis,
		Logger:   cfg.Logger,
		Services: plugin.NewServiceRegistry(),
		Events:   bus,
		Stores:   m,
		API:      cfg.API,
	}
	return m, nil
}

// Services returns the plugin service registry for pre-registering core services.
func (m *Manager) Services() *plugin.ServiceRegistry {
	return m.appContext.Services
}

// Events returns the bus plugins subscribe to.
func (m *Manager) Events() plugin.EventBus {
	return m.eventBus
}

// Dispatch sends e through the event bus.
func (m *Manager) Dispatch(ctx context.Context, e *plugin.Event, targets ...string) (*plugin.Event, error) {
	return m.eventBus.Dispatch(ctx, e, targets...)
}

// Subscriptions lists the subscribers of event in delivery order.
func (m *Manager) Subscriptions(event string) []Subscription {
	return m.eventBus.Subscriptions(event)
}

// GetAPI returns the host API handle given to every plugin.
func (m *Manager) GetAPI() any {
	return m.api
}

// FindPlugin returns the first loaded instance of class name, in load order.
func (m *Manager) FindPlugin(name string) (plugin.Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.order {
		inst := m.instances[id]
		if inst.plugin != nil && inst.class == name {
			return inst.plugin, true
		}
	}
	return nil, false
}

// Instances returns the loaded plugins in load order.
func (m *Manager) Instances() []plugin.Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]plugin.Plugin, 0, len(m.order))
	for _, id := range m.order {
		if p := m.instances[id].plugin; p != nil {
			out = append(out, p)
		}
	}
	return out
}

// LoadPlugin returns the instance for id, constructing it on first use.
//
// A cached entry for id is reused as long as it was built from class name,
// including an entry cached as nil after a refused or failed load. Load
// faults are recorded on the plugin record and yield a nil plugin; the error
// is non-nil only when the fault itself could not be recorded.
func (m *Manager) LoadPlugin(ctx context.Context, name string, id int64) (plugin.Plugin, error) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if inst, ok := m.cached(id); ok && inst.class == name {
		return inst.plugin, nil
	}

	record, err := m.findRecord(ctx, name)
	if err != nil {
		return nil, err
	}
	if record != nil && record.LoadError {
		m.logger.Debug("plugin is faulted, not loading",
			zap.String("plugin", name), zap.Int64("plugin_id", id))
		m.cache(id, name, nil)
		return nil, nil
	}

	p, loadErr := m.construct(ctx, name, id, record)
	switch {
	case loadErr == nil:
	case errors.Is(loadErr, plugin.ErrPluginNotFound), errors.Is(loadErr, plugin.ErrMalformedPlugin):
		m.logger.Warn("plugin cannot be loaded",
			zap.String("plugin", name), zap.Int64("plugin_id", id), zap.Error(loadErr))
		m.cache(id, name, nil)
		return nil, nil
	default:
		if record == nil {
			record = &plugin.Record{Name: name, Type: plugin.LocationUser}
		}
		if err := m.recordFault(ctx, record, loadErr); err != nil {
			return nil, err
		}
		m.cache(id, name, nil)
		return nil, nil
	}

	m.cache(id, name, p)
	m.registerRoutes(p)
	m.logger.Info("plugin loaded", zap.String("plugin", name), zap.Int64("plugin_id", id))
	return p, nil
}

// construct resolves, builds and initializes a plugin. Panics are converted
// into errors. A failed instance loses its subscriptions and is disabled.
func (m *Manager) construct(ctx context.Context, name string, id int64, record *plugin.Record) (p plugin.Plugin, err error) {
	var built plugin.Plugin
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.FromPanic(r)
		}
		if err != nil {
			p = nil
			if built != nil {
				m.eventBus.Unsubscribe(built, plugin.AllEvents)
				m.discard(ctx, built)
			}
		}
	}()

	info, err := m.GetPluginInfo(ctx, name, "")
	if err != nil {
		return nil, err
	}
	class, ok := m.classes.Get(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, plugin.ErrMalformedPlugin)
	}

	built, err = class.New(m.appContext, id)
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", name, err)
	}
	if built == nil {
		return nil, fmt.Errorf("construct %s: factory returned no plugin", name)
	}

	if c, ok := built.(plugin.Configurable); ok {
		var settings map[string]any
		if info.Config != nil {
			settings = info.Config.Settings
		}
		c.Configure(plugin.NewSettingsConfig(name, record != nil && record.Active, settings))
	}
	if in, ok := built.(plugin.Initializer); ok {
		if err := in.Init(ctx); err != nil {
			return nil, fmt.Errorf("init %s: %w", name, err)
		}
	}
	return built, nil
}

// LoadPlugins loads every active, non-faulted plugin, then dispatches
// afterPluginLoad to all subscribers.
func (m *Manager) LoadPlugins(ctx context.Context) error {
	records, err := m.store.FindAllActive(ctx)
	if err != nil {
		return apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "find active plugins")
	}
	if err := m.loadRecords(ctx, records); err != nil {
		return err
	}

	e := plugin.NewEvent(plugin.EventAfterPluginLoad, nil)
	e.Source = "manager"
	_, err = m.eventBus.Dispatch(ctx, e)
	return err
}

// LoadAllPlugins loads every non-faulted plugin, active or not.
func (m *Manager) LoadAllPlugins(ctx context.Context) error {
	records, err := m.store.FindAll(ctx)
	if err != nil {
		return apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "find plugins")
	}
	return m.loadRecords(ctx, records)
}

func (m *Manager) loadRecords(ctx context.Context, records []*plugin.Record) error {
	start := time.Now()
	loaded := 0
	for _, r := range records {
		if r.LoadError {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("load canceled: %w", err)
		}
		p, err := m.LoadPlugin(ctx, r.Name, r.ID)
		if err != nil {
			return err
		}
		if p != nil {
			loaded++
		}
	}
	m.logger.Debug("plugins loaded",
		zap.Int("records", len(records)),
		zap.Int("loaded", loaded),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// UnloadPlugin drops the instance for id together with its subscriptions.
func (m *Manager) UnloadPlugin(ctx context.Context, id int64) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if ok {
		delete(m.instances, id)
		m.order = removeID(m.order, id)
	}
	m.mu.Unlock()

	if !ok || inst.plugin == nil {
		return nil
	}
	m.eventBus.Unsubscribe(inst.plugin, plugin.AllEvents)
	if m.dropRoutes(inst.plugin) {
		if next := m.latest(inst.class); next != nil {
			m.registerRoutes(next)
		}
	}
	return m.disable(ctx, inst.plugin)
}

// ReadConfigFiles reloads every plugin's configuration: all plugins are
// loaded, asked to re-read their descriptor and have their record version
// refreshed, then instances and subscriptions are rebuilt from scratch.
func (m *Manager) ReadConfigFiles(ctx context.Context) error {
	if err := m.LoadAllPlugins(ctx); err != nil {
		return err
	}
	for _, p := range m.Instances() {
		if cr, ok := p.(plugin.ConfigReader); ok {
			if err := cr.ReadConfigFile(ctx); err != nil {
				return fmt.Errorf("read config of %s: %w", p.Name(), err)
			}
		}
		if err := m.syncVersion(ctx, p.Name()); err != nil {
			return err
		}
	}
	m.reset(ctx)
	return m.LoadPlugins(ctx)
}

func (m *Manager) syncVersion(ctx context.Context, name string) error {
	record, err := m.findRecord(ctx, name)
	if err != nil || record == nil {
		return err
	}
	info, err := m.GetPluginInfo(ctx, name, "")
	if err != nil || info.Config == nil || info.Config.Version == record.Version {
		return nil
	}

	m.logger.Info("plugin version changed",
		zap.String("plugin", name),
		zap.String("from", record.Version),
		zap.String("to", info.Config.Version))
	record.Version = info.Config.Version
	if err := m.store.Save(ctx, record); err != nil {
		return apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "update plugin version")
	}
	return nil
}

// HealthCheck runs HealthReporter checks of loaded plugins, keyed "Class#id".
func (m *Manager) HealthCheck(ctx context.Context) map[string]error {
	results := make(map[string]error)
	for _, p := range m.Instances() {
		if hr, ok := p.(plugin.HealthReporter); ok {
			results[p.Name()+"#"+strconv.FormatInt(p.ID(), 10)] = hr.HealthCheck(ctx)
		}
	}
	return results
}

// Shutdown disables plugins in reverse load order and drops all state.
func (m *Manager) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	m.reset(shutdownCtx)
	m.appContext.Services.Reset()

	if m.redis != nil {
		if err := m.redis.Close(); err != nil {
			m.logger.Warn("redis close failed", zap.Error(err))
		}
	}

	m.logger.Info("shutdown completed")
	return nil
}

// reset disables loaded instances in reverse load order, then clears the
// instance map and every subscription.
func (m *Manager) reset(ctx context.Context) {
	m.mu.Lock()
	order := m.order
	instances := m.instances
	m.order = nil
	m.instances = make(map[int64]*instance)
	m.routes = make(map[string]routeSet)
	m.mu.Unlock()

	m.eventBus.Reset()
	for i := len(order) - 1; i >= 0; i-- {
		if p := instances[order[i]].plugin; p != nil {
			if err := m.disable(ctx, p); err != nil {
				m.logger.Error("plugin disable failed",
					zap.String("plugin", p.Name()), zap.Int64("plugin_id", p.ID()), zap.Error(err))
			}
		}
	}
}

// --- Internal ---

func (m *Manager) cached(id int64) (*instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	return inst, ok
}

func (m *Manager) cache(id int64, class string, p plugin.Plugin) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, exists := m.instances[id]
	m.instances[id] = &instance{class: class, plugin: p}
	if !exists {
		m.order = append(m.order, id)
	} else if prev.plugin != nil {
		m.eventBus.Unsubscribe(prev.plugin, plugin.AllEvents)
	}
}

// findRecord returns nil without error when no record exists.
func (m *Manager) findRecord(ctx context.Context, name string) (*plugin.Record, error) {
	record, err := m.store.Find(ctx, name)
	if errors.Is(err, plugin.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "find plugin "+name)
	}
	return record, nil
}

// recordFault persists a load error. A failure to persist is fatal.
func (m *Manager) recordFault(ctx context.Context, record *plugin.Record, cause error) error {
	fault := apperrors.NewLoadFault(record.Name, cause)
	detail := plugin.LoadErrorDetail{Message: cause.Error()}
	var appErr *apperrors.AppError
	if errors.As(cause, &appErr) {
		detail.Location = appErr.Location()
	}

	m.logger.Error("plugin load fault",
		zap.String("plugin", record.Name),
		zap.String("location", detail.Location),
		zap.Error(fault))

	if err := m.store.MarkLoadError(ctx, record, detail); err != nil {
		return apperrors.WrapWithType(err, apperrors.ErrorTypeInternal,
			"could not save load error for plugin "+record.Name).
			WithCode(apperrors.CodeFaultNotRecorded)
	}
	return nil
}

// routeSet is the router built by the newest instance of a class.
type routeSet struct {
	id  int64
	mux *chi.Mux
}

// registerRoutes builds a private router for p and makes it the one serving
// p's class. Patterns are mounted on the host router once; the mounted
// handler looks up the class's current router on every request.
func (m *Manager) registerRoutes(p plugin.Plugin) {
	rp, ok := p.(plugin.RouteProvider)
	if !ok || m.router == nil {
		return
	}
	mux := chi.NewRouter()
	rp.RegisterRoutes(mux)

	class := p.Name()
	m.mu.Lock()
	m.routes[class] = routeSet{id: p.ID(), mux: mux}
	m.mu.Unlock()

	err := chi.Walk(mux, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		key := class + " " + method + " " + route
		m.mu.Lock()
		done := m.mounted[key]
		m.mounted[key] = true
		m.mu.Unlock()
		if !done {
			m.router.Method(method, route, m.classHandler(class))
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("plugin routes not mounted", zap.String("plugin", class), zap.Error(err))
	}
}

func (m *Manager) classHandler(class string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		set, ok := m.routes[class]
		m.mu.RUnlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		// Route again from scratch inside the class router.
		set.mux.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, nil)))
	})
}

// dropRoutes stops serving the routes of p if p is the instance serving them.
func (m *Manager) dropRoutes(p plugin.Plugin) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.routes[p.Name()]
	if !ok || set.id != p.ID() {
		return false
	}
	delete(m.routes, p.Name())
	return true
}

// latest returns the most recently loaded instance of class, if any.
func (m *Manager) latest(class string) plugin.Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		if inst := m.instances[m.order[i]]; inst != nil && inst.class == class && inst.plugin != nil {
			return inst.plugin
		}
	}
	return nil
}

// discard disables a plugin whose Init failed; the load fault is what gets
// reported, so a Disable error is only logged.
func (m *Manager) discard(ctx context.Context, p plugin.Plugin) {
	if err := m.disable(ctx, p); err != nil {
		m.logger.Warn("disable of failed plugin failed",
			zap.String("plugin", p.Name()), zap.Int64("plugin_id", p.ID()), zap.Error(err))
	}
}

func (m *Manager) disable(ctx context.Context, p plugin.Plugin) error {
	if d, ok := p.(plugin.Disableable); ok {
		return d.Disable(ctx)
	}
	return nil
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
