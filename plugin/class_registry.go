package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Class is a registered plugin constructor plus its static metadata.
type Class struct {
	Name        string
	Description string
	New         Factory
}

// ClassRegistry maps class names to constructors. It replaces dynamic class
// resolution: a plugin directory named X is loadable only if class X is here.
type ClassRegistry struct {
	mu      sync.RWMutex
	classes map[string]Class
}

var defaultClasses = NewClassRegistry()

// NewClassRegistry creates an empty class registry.
func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{
		classes: make(map[string]Class),
	}
}

// DefaultClasses returns the process-wide registry filled by init-time Register calls.
func DefaultClasses() *ClassRegistry {
	return defaultClasses
}

// Register adds a class to the default registry.
func Register(c Class) error {
	return defaultClasses.Register(c)
}

// MustRegister adds a class to the default registry, panicking on error.
// Intended for package init functions.
func MustRegister(c Class) {
	if err := defaultClasses.Register(c); err != nil {
		panic(err)
	}
}

// Register adds a class. Names must be unique and non-empty.
func (r *ClassRegistry) Register(c Class) error {
	if c.Name == "" {
		return fmt.Errorf("plugin class name cannot be empty")
	}
	if c.New == nil {
		return fmt.Errorf("plugin class %s has no factory", c.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.classes[c.Name]; exists {
		return fmt.Errorf("plugin class %s already registered", c.Name)
	}
	r.classes[c.Name] = c
	return nil
}

// Replace adds or overwrites a class; used when a script class is re-imported.
func (r *ClassRegistry) Replace(c Class) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[c.Name] = c
}

// Get returns the class registered under name.
func (r *ClassRegistry) Get(name string) (Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	return c, ok
}

// Has reports whether a class is registered under name.
func (r *ClassRegistry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns registered class names, sorted.
func (r *ClassRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone copies the registry; tests use it to isolate registrations.
func (r *ClassRegistry) Clone() *ClassRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := NewClassRegistry()
	for k, v := range r.classes {
		out.classes[k] = v
	}
	return out
}
