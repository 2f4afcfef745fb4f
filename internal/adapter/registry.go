package adapter

import (
	"sort"
	"sync"

	"github.com/newthinker/dexfeed/internal/poller"
)

// Registry manages the configured adapters
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a new adapter registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter to the registry
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get retrieves an adapter by name
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// GetAll returns all registered adapters sorted by name
func (r *Registry) GetAll() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Runners returns the feed pollers of every adapter
func (r *Registry) Runners() []poller.Runner {
	var out []poller.Runner
	for _, a := range r.GetAll() {
		out = append(out, a.Runners()...)
	}
	return out
}

// Runner finds a feed poller by adapter and feed name
func (r *Registry) Runner(adapterName, feed string) (poller.Runner, bool) {
	a, ok := r.Get(adapterName)
	if !ok {
		return nil, false
	}
	name := FeedName(adapterName, feed)
	for _, run := range a.Runners() {
		if run.Name() == name {
			return run, true
		}
	}
	return nil, false
}
