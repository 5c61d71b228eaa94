package runtime

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/leeforge/pluginhost/plugin"
	"go.uber.org/zap"
)

// eventBus implements plugin.EventBus with synchronous, ordered delivery.
type eventBus struct {
	subscribers map[string][]subscriberEntry
	mu          sync.RWMutex
	logger      *zap.Logger
}

type subscriberEntry struct {
	plugin  plugin.Plugin
	handler string
}

// Subscription describes one registered (plugin, handler) pair.
type Subscription struct {
	Plugin  string
	ID      int64
	Handler string
}

// NewEventBus creates an empty bus.
func NewEventBus(logger *zap.Logger) *eventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &eventBus{
		subscribers: make(map[string][]subscriberEntry),
		logger:      logger,
	}
}

// Subscribe registers (p, handler) under event. Duplicates are ignored.
func (b *eventBus) Subscribe(p plugin.Plugin, event string, handler string) {
	if p == nil || event == "" {
		return
	}
	if handler == "" {
		handler = event
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, entry := range b.subscribers[event] {
		if entry.plugin == p && entry.handler == handler {
			return
		}
	}
	b.subscribers[event] = append(b.subscribers[event], subscriberEntry{plugin: p, handler: handler})
}

// Unsubscribe removes every handler p has under event, or under all events
// when event is plugin.AllEvents.
func (b *eventBus) Unsubscribe(p plugin.Plugin, event string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if event == plugin.AllEvents {
		for name := range b.subscribers {
			b.removeLocked(p, name)
		}
		return
	}
	b.removeLocked(p, event)
}

func (b *eventBus) removeLocked(p plugin.Plugin, event string) {
	subs := b.subscribers[event]
	kept := subs[:0:0]
	for _, entry := range subs {
		if entry.plugin != p {
			kept = append(kept, entry)
		}
	}
	if len(kept) == 0 {
		delete(b.subscribers, event)
		return
	}
	b.subscribers[event] = kept
}

// Dispatch calls every subscriber of e.Name in subscription order. Delivery
// ends early once a handler stops the event. Non-empty targets restrict
// delivery to plugins whose class name is listed. The first handler error
// aborts the dispatch and is returned.
func (b *eventBus) Dispatch(ctx context.Context, e *plugin.Event, targets ...string) (*plugin.Event, error) {
	if e == nil {
		return nil, fmt.Errorf("dispatch: nil event")
	}

	b.mu.RLock()
	subs := append([]subscriberEntry{}, b.subscribers[e.Name]...)
	b.mu.RUnlock()

	for _, entry := range subs {
		if e.IsStopped() {
			break
		}
		if len(targets) > 0 && !slices.Contains(targets, entry.plugin.Name()) {
			continue
		}
		if err := entry.plugin.HandleEvent(ctx, entry.handler, e); err != nil {
			b.logger.Error("event handler failed",
				zap.String("event", e.Name),
				zap.String("plugin", entry.plugin.Name()),
				zap.Int64("plugin_id", entry.plugin.ID()),
				zap.String("handler", entry.handler),
				zap.Error(err))
			return e, fmt.Errorf("event %s: %s.%s: %w", e.Name, entry.plugin.Name(), entry.handler, err)
		}
	}
	return e, nil
}

// Subscriptions lists the subscribers of event in delivery order.
func (b *eventBus) Subscriptions(event string) []Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.subscribers[event]
	out := make([]Subscription, 0, len(subs))
	for _, entry := range subs {
		out = append(out, Subscription{
			Plugin:  entry.plugin.Name(),
			ID:      entry.plugin.ID(),
			Handler: entry.handler,
		})
	}
	return out
}

// Events returns the number of event names with at least one subscriber.
func (b *eventBus) Events() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Reset drops every subscription.
func (b *eventBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string][]subscriberEntry)
}
