package plugin

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	// AllEvents unsubscribes a plugin from every event name.
	AllEvents = "*"

	// EventAfterPluginLoad is dispatched once all active plugins are loaded.
	EventAfterPluginLoad = "afterPluginLoad"
)

// Event is a named, mutable signal passed by pointer through a dispatch.
type Event struct {
	ID        uuid.UUID
	Name      string
	Source    string    // originating plugin or component
	Timestamp time.Time // when the event was created

	payload map[string]any
	stopped bool
}

// NewEvent creates an event with an optional initial payload.
func NewEvent(name string, payload map[string]any) *Event {
	p := make(map[string]any, len(payload))
	for k, v := range payload {
		p[k] = v
	}
	return &Event{
		ID:        uuid.New(),
		Name:      name,
		Timestamp: time.Now(),
		payload:   p,
	}
}

// Get returns the payload value for key, or def when absent.
func (e *Event) Get(key string, def any) any {
	if v, ok := e.payload[key]; ok {
		return v
	}
	return def
}

// GetString returns the payload value for key as a string, or def.
func (e *Event) GetString(key string, def string) string {
	s, ok := e.payload[key].(string)
	if !ok {
		return def
	}
	return s
}

// Set stores a payload value.
func (e *Event) Set(key string, value any) {
	if e.payload == nil {
		e.payload = make(map[string]any)
	}
	e.payload[key] = value
}

// Append merges values into the map stored under key, creating it when needed.
// A non-map value under key is replaced.
func (e *Event) Append(key string, values map[string]any) {
	existing, _ := e.Get(key, nil).(map[string]any)
	if existing == nil {
		existing = make(map[string]any, len(values))
	}
	for k, v := range values {
		existing[k] = v
	}
	e.Set(key, existing)
}

// Payload returns a copy of the payload.
func (e *Event) Payload() map[string]any {
	out := make(map[string]any, len(e.payload))
	for k, v := range e.payload {
		out[k] = v
	}
	return out
}

// Stop halts propagation for the rest of the current dispatch.
func (e *Event) Stop() { e.stopped = true }

// IsStopped reports whether a subscriber called Stop.
func (e *Event) IsStopped() bool { return e.stopped }

// EventHandler handles an event on behalf of a plugin.
type EventHandler func(ctx context.Context, e *Event) error

// EventBus routes events to subscribed plugin handlers, synchronously and in
// subscription order.
type EventBus interface {
	// Subscribe registers (p, handler) under event. An empty handler defaults to
	// the event name. Repeated identical calls are no-ops.
	Subscribe(p Plugin, event string, handler string)

	// Unsubscribe removes p from event; AllEvents removes p everywhere.
	Unsubscribe(p Plugin, event string)

	// Dispatch invokes every matching subscriber until one stops the event.
	// Non-empty targets restrict delivery to plugins of those class names.
	Dispatch(ctx context.Context, e *Event, targets ...string) (*Event, error)
}
