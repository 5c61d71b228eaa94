package plugin

import (
	"context"

	"github.com/go-chi/chi/v5"
)

// Plugin is the minimal interface every plugin instance must implement.
type Plugin interface {
	// Name returns the class name the instance was built from.
	Name() string
	// ID returns the record id this instance was loaded for.
	ID() int64
	// HandleEvent runs the named handler against the event.
	HandleEvent(ctx context.Context, handler string, e *Event) error
}

// --- Optional Capability Interfaces ---
// The manager detects these via type assertion: if p, ok := inst.(Initializer); ok { ... }

// Initializer -- runs once right after construction; subscriptions belong here.
type Initializer interface {
	Init(ctx context.Context) error
}

// Disableable -- cleanup when the manager shuts down or unloads the instance.
type Disableable interface {
	Disable(ctx context.Context) error
}

// ConfigReader -- re-reads the plugin's descriptor during a config refresh.
type ConfigReader interface {
	ReadConfigFile(ctx context.Context) error
}

// RouteProvider -- register HTTP routes on the host router.
type RouteProvider interface {
	RegisterRoutes(router chi.Router)
}

// HealthReporter -- provide custom health checks.
type HealthReporter interface {
	HealthCheck(ctx context.Context) error
}

// Factory builds a plugin instance for the given record id.
type Factory func(app *AppContext, id int64) (Plugin, error)
