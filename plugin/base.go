package plugin

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Configurable -- receives the descriptor settings before Init.
type Configurable interface {
	Configure(cfg ConfigProvider)
}

// Base carries the identity, handler table and settings most plugins need.
// Embed *Base and pass the outer value as self when subscribing, so the bus
// keys subscriptions on the plugin rather than on the embedded Base.
type Base struct {
	name string
	id   int64
	app  *AppContext

	mu       sync.RWMutex
	handlers map[string]EventHandler
	config   ConfigProvider
}

// NewBase creates a Base for a plugin of class name loaded under id.
func NewBase(name string, id int64, app *AppContext) *Base {
	return &Base{
		name:     name,
		id:       id,
		app:      app,
		handlers: make(map[string]EventHandler),
		config:   EmptyConfig(),
	}
}

func (b *Base) Name() string { return b.name }

func (b *Base) ID() int64 { return b.id }

// App returns the capability object the plugin was built with.
func (b *Base) App() *AppContext { return b.app }

// Logger returns the host logger scoped to this plugin instance.
func (b *Base) Logger() *zap.Logger {
	if b.app == nil || b.app.Logger == nil {
		return zap.NewNop()
	}
	return b.app.Logger.With(zap.String("plugin", b.name), zap.Int64("plugin_id", b.id))
}

// Configure implements Configurable.
func (b *Base) Configure(cfg ConfigProvider) {
	if cfg == nil {
		cfg = EmptyConfig()
	}
	b.mu.Lock()
	b.config = cfg
	b.mu.Unlock()
}

// Config returns the plugin's settings.
func (b *Base) Config() ConfigProvider {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// On binds fn to a handler name.
func (b *Base) On(handler string, fn EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[handler] = fn
}

// HandleEvent implements Plugin by looking up the handler table.
func (b *Base) HandleEvent(ctx context.Context, handler string, e *Event) error {
	b.mu.RLock()
	fn, ok := b.handlers[handler]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s.%s: %w", b.name, handler, ErrHandlerNotFound)
	}
	return fn(ctx, e)
}

// Listen binds fn under the event name and subscribes self to the event.
func (b *Base) Listen(self Plugin, event string, fn EventHandler) {
	b.On(event, fn)
	if b.app != nil && b.app.Events != nil {
		b.app.Events.Subscribe(self, event, event)
	}
}

// Unlisten removes self from event; AllEvents removes every subscription.
func (b *Base) Unlisten(self Plugin, event string) {
	if b.app != nil && b.app.Events != nil {
		b.app.Events.Unsubscribe(self, event)
	}
}

var _ Configurable = (*Base)(nil)
