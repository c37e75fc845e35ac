package tools

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds registered tools, keyed by name. A session holds one
// long-lived registry; the agent snapshots it into an immutable per-turn
// tool set before each request (see Snapshot).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics if a tool with the same name is already registered.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic(fmt.Sprintf("tools: tool %q already registered", t.Name()))
	}
	r.tools[t.Name()] = t
}

// RegisterOrReplace adds or replaces a tool.
func (r *Registry) RegisterOrReplace(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get retrieves a tool by name. Returns nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Remove removes a tool by name. No-op if not found.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns an immutable name→tool map for one turn. The agent builds
// it once before the request and reuses it through tool execution, so a tool
// registered or removed mid-turn never affects in-flight calls.
func (r *Registry) Snapshot() Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(Set, len(r.tools))
	for n, t := range r.tools {
		out[n] = t
	}
	return out
}

// Set is the immutable tool set one turn sees.
type Set map[string]Tool

// Subset returns the tools whose names appear in names, silently skipping
// unknown ones. An empty names list returns the set unchanged.
func (s Set) Subset(names []string) Set {
	if len(names) == 0 {
		return s
	}
	out := make(Set, len(names))
	for _, n := range names {
		if t, ok := s[n]; ok {
			out[n] = t
		}
	}
	return out
}

// Definitions returns the wire definitions in sorted-name order.
func (s Set) Definitions() []Tool {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		out = append(out, s[n])
	}
	return out
}
