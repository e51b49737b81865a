package adapters

import (
	"fmt"
	"sync"

	"github.com/ternarybob/jobsift/internal/interfaces"
)

// Registry holds the provider adapters the cleaner dispatches to.
// Adapters are selected by provider id from configuration, never by
// runtime type inspection.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]interfaces.ScrapeAdapter
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]interfaces.ScrapeAdapter)}
}

// Register adds an adapter under its provider id
func (r *Registry) Register(adapter interfaces.ScrapeAdapter) error {
	if adapter == nil || adapter.Provider() == "" {
		return fmt.Errorf("adapter requires a provider id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[adapter.Provider()]; exists {
		return fmt.Errorf("adapter already registered for provider: %s", adapter.Provider())
	}
	r.adapters[adapter.Provider()] = adapter
	return nil
}

// Get returns the adapter for a provider id
func (r *Registry) Get(provider string) (interfaces.ScrapeAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[provider]
	return adapter, ok
}

// Providers returns the registered provider ids
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]string, 0, len(r.adapters))
	for p := range r.adapters {
		providers = append(providers, p)
	}
	return providers
}
