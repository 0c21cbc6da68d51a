package tools

import (
	"fmt"
	"sort"
	"sync"

	"backforge/internal/logging"
)

// Registry holds all available tool descriptors and provides lookup.
// It is thread-safe and supports registration at runtime.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Descriptor
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Descriptor)}
}

// DefaultRegistry returns a registry preloaded with Builtin descriptors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range Builtin() {
		r.MustRegister(d)
	}
	return r
}

// Register adds a descriptor to the registry.
// Returns an error if a tool with the same name already exists.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, d.Name)
	}
	if d.Module == "" {
		d.Module = KBModule
	}
	r.tools[d.Name] = d

	logging.ToolsDebug("Registered tool: %s (%s)", d.Name, d.Ref())
	return nil
}

// MustRegister registers a descriptor and panics on error.
// Use this for static registration at init time.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", d.Name, err))
	}
}

// Get returns a descriptor by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Has returns true if a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Resolve returns descriptors for the requested names that are registered,
// in first-occurrence order without duplicates. Unknown names are dropped,
// so the result may be shorter than the request.
func (r *Registry) Resolve(names []string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(names))
	result := make([]Descriptor, 0, len(names))
	var dropped []string
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		d, ok := r.tools[name]
		if !ok {
			dropped = append(dropped, name)
			continue
		}
		result = append(result, d)
	}
	if len(dropped) > 0 {
		logging.ToolsDebug("Dropped unknown tools: %v", dropped)
	}
	logging.Tools("Resolved %d/%d requested tools", len(result), len(names))
	return result
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all descriptors sorted by name.
func (r *Registry) All() []Descriptor {
	names := r.Names()
	out := make([]Descriptor, 0, len(names))
	for _, n := range names {
		d, _ := r.Get(n)
		out = append(out, d)
	}
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// DescriptorNames extracts names in order.
func DescriptorNames(ds []Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name
	}
	return out
}
