package audit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/leeforge/pluginhost/plugin"
	"go.uber.org/zap"
)

// ClassName is the class the audit plugin registers under.
const ClassName = "AuditLog"

var defaultEvents = []string{
	"afterSurveyComplete", "beforeSurveySettingsSave", "afterPluginLoad",
}

func init() {
	plugin.MustRegister(Class())
}

// Class describes the audit plugin for a ClassRegistry.
func Class() plugin.Class {
	return plugin.Class{
		Name:        ClassName,
		Description: "Records dispatched events for later review",
		New: func(app *plugin.AppContext, id int64) (plugin.Plugin, error) {
			return New(app, id), nil
		},
	}
}

// Settings is the settings block of the audit plugin's descriptor.
type Settings struct {
	Events        []string `json:"events"`
	RetentionDays int      `json:"retention_days"`
	MaxEntries    int      `json:"max_entries"`
	Storage       string   `json:"storage"`
}

// AuditPlugin records the events it is subscribed to.
//
// Implements: Plugin, Initializer, Disableable, RouteProvider, HealthReporter, Configurable
type AuditPlugin struct {
	*plugin.Base
	service *AuditService
}

// New creates an audit plugin instance for record id.
func New(app *plugin.AppContext, id int64) *AuditPlugin {
	return &AuditPlugin{Base: plugin.NewBase(ClassName, id, app)}
}

// RecorderKey is the service key the instance with record id publishes its
// recorder under.
func RecorderKey(id int64) string {
	return plugin.ServiceKey(ClassName+"#"+strconv.FormatInt(id, 10), "recorder")
}

// Service returns the recorder, nil before Init.
func (p *AuditPlugin) Service() *AuditService { return p.service }

// --- Initializer ---

func (p *AuditPlugin) Init(ctx context.Context) error {
	settings := Settings{RetentionDays: 90, MaxEntries: 1000}
	if err := p.Config().Bind(&settings); err != nil {
		return fmt.Errorf("audit settings: %w", err)
	}
	if len(settings.Events) == 0 {
		settings.Events = defaultEvents
	}

	p.service = NewAuditService(p.Logger(), settings.RetentionDays, settings.MaxEntries)
	if settings.Storage != "" && p.App() != nil && p.App().Stores != nil {
		storage, err := p.App().Stores.GetStore(settings.Storage)
		if err != nil {
			return err
		}
		p.service.storage = storage
	}

	if app := p.App(); app != nil && app.Services != nil {
		if err := app.Services.Register(RecorderKey(p.ID()), p.service); err != nil {
			return err
		}
	}

	for _, name := range settings.Events {
		p.Listen(p, name, p.record)
	}
	return nil
}

func (p *AuditPlugin) record(ctx context.Context, e *plugin.Event) error {
	return p.service.Record(ctx, e)
}

// --- Disableable ---

func (p *AuditPlugin) Disable(ctx context.Context) error {
	p.Unlisten(p, plugin.AllEvents)
	if app := p.App(); app != nil && app.Services != nil {
		app.Services.Unregister(RecorderKey(p.ID()))
	}
	p.Logger().Info("audit plugin disabled")
	return nil
}

// --- RouteProvider ---

func (p *AuditPlugin) RegisterRoutes(router chi.Router) {
	router.Route("/api/v1/audit", func(r chi.Router) {
		r.Get("/logs", p.handleGetLogs)
		r.Post("/clear", p.handleClearLogs)
	})
}

// --- HealthReporter ---

func (p *AuditPlugin) HealthCheck(ctx context.Context) error {
	if p.service == nil {
		return fmt.Errorf("audit service not initialized")
	}
	return nil
}

// --- Compile-time interface checks ---

var (
	_ plugin.Plugin         = (*AuditPlugin)(nil)
	_ plugin.Initializer    = (*AuditPlugin)(nil)
	_ plugin.Disableable    = (*AuditPlugin)(nil)
	_ plugin.RouteProvider  = (*AuditPlugin)(nil)
	_ plugin.HealthReporter = (*AuditPlugin)(nil)
	_ plugin.Configurable   = (*AuditPlugin)(nil)
)

// --- Internal ---

// Entry is one recorded event.
type Entry struct {
	Event     string         `json:"event"`
	Source    string         `json:"source,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditService keeps recorded events in memory.
type AuditService struct {
	logger     *zap.Logger
	retention  time.Duration
	maxEntries int
	storage    plugin.Storage
	now        func() time.Time

	mu      sync.RWMutex
	entries []Entry
}

func NewAuditService(logger *zap.Logger, retentionDays, maxEntries int) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		logger:     logger,
		retention:  time.Duration(retentionDays) * 24 * time.Hour,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Record appends e, drops entries past retention and bumps the per-event
// counter in the settings storage when one is configured.
func (s *AuditService) Record(ctx context.Context, e *plugin.Event) error {
	entry := Entry{Event: e.Name, Source: e.Source, Payload: e.Payload(), Timestamp: s.now()}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.pruneLocked(entry.Timestamp)
	s.mu.Unlock()

	s.logger.Info("audit record", zap.String("event", e.Name), zap.String("event_id", e.ID.String()))

	if s.storage == nil {
		return nil
	}
	key := "count." + e.Name
	v, _, err := s.storage.Get(ctx, ClassName, key)
	if err != nil {
		return err
	}
	return s.storage.Set(ctx, ClassName, key, toInt(v)+1)
}

func (s *AuditService) pruneLocked(now time.Time) {
	if s.retention > 0 {
		cutoff := now.Add(-s.retention)
		i := 0
		for i < len(s.entries) && s.entries[i].Timestamp.Before(cutoff) {
			i++
		}
		s.entries = s.entries[i:]
	}
	if s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		s.entries = s.entries[len(s.entries)-s.maxEntries:]
	}
}

// Entries returns the newest entries first, at most limit when limit > 0.
func (s *AuditService) Entries(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := len(s.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.entries[i])
	}
	return out
}

// Clear drops every entry.
func (s *AuditService) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func (p *AuditPlugin) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	w.Header().Set("Content-Type", "application/json")
	if err := jsoniter.NewEncoder(w).Encode(map[string]any{"logs": p.service.Entries(limit)}); err != nil {
		p.Logger().Warn("encode audit logs", zap.Error(err))
	}
}

func (p *AuditPlugin) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	p.service.Clear()
	w.WriteHeader(http.StatusNoContent)
}
