package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ServiceRegistry lets plugins publish services to each other.
// Keys are namespaced "ClassName.service" (e.g. "AuditLog.recorder").
type ServiceRegistry struct {
	services map[string]any
	mu       sync.RWMutex
}

// NewServiceRegistry creates an empty service registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]any),
	}
}

// ServiceKey builds the namespaced key for a plugin service.
func ServiceKey(plugin, service string) string {
	return plugin + "." + service
}

// Register stores a service. Returns error if key already exists.
func (sr *ServiceRegistry) Register(key string, svc any) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if _, exists := sr.services[key]; exists {
		return fmt.Errorf("service %q already registered", key)
	}
	sr.services[key] = svc
	return nil
}

// Has returns true if a service is registered under the given key.
func (sr *ServiceRegistry) Has(key string) bool {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	_, exists := sr.services[key]
	return exists
}

// Keys returns all registered service keys, sorted alphabetically.
func (sr *ServiceRegistry) Keys() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	keys := make([]string, 0, len(sr.services))
	for k := range sr.services {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Unregister drops the service under key and reports whether it existed.
func (sr *ServiceRegistry) Unregister(key string) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	_, exists := sr.services[key]
	delete(sr.services, key)
	return exists
}

// RemovePlugin drops every service registered under the plugin's namespace.
func (sr *ServiceRegistry) RemovePlugin(plugin string) int {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	prefix := plugin + "."
	removed := 0
	for k := range sr.services {
		if strings.HasPrefix(k, prefix) {
			delete(sr.services, k)
			removed++
		}
	}
	return removed
}

// Reset drops every service.
func (sr *ServiceRegistry) Reset() {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.services = make(map[string]any)
}

// Resolve retrieves a service with compile-time type safety via generics.
func Resolve[T any](sr *ServiceRegistry, key string) (T, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	var zero T
	svc, exists := sr.services[key]
	if !exists {
		return zero, fmt.Errorf("service %q not found", key)
	}

	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("service %q is %T, want %T", key, svc, zero)
	}
	return typed, nil
}
