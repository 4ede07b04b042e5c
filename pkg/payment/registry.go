package payment

import (
	"sort"
	"sync"
)

// Registry maps provider names to providers
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	sources   map[string]WebhookSource
}

// NewRegistry creates a registry holding the given providers. Providers that
// also implement WebhookSource are registered as webhook sources.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{
		providers: make(map[string]Provider),
		sources:   make(map[string]WebhookSource),
	}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[p.Name()] = p
	if src, ok := p.(WebhookSource); ok {
		r.sources[p.Name()] = src
	} else if u, ok := p.(interface{ Unwrap() Provider }); ok {
		if src, ok := u.Unwrap().(WebhookSource); ok {
			r.sources[p.Name()] = src
		}
	}
}

// Get returns the named provider
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns registered provider names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WebhookSources returns every registered webhook source, sorted by name
func (r *Registry) WebhookSources() []WebhookSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]WebhookSource, 0, len(r.sources))
	for _, name := range r.namesLocked() {
		if src, ok := r.sources[name]; ok {
			sources = append(sources, src)
		}
	}
	return sources
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
