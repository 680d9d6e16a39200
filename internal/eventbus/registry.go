package eventbus

import "sync"

// Registry is the sole source of legitimate subscribers: extension
// providers register their subscribers at startup and the bus refuses
// anything else.
type Registry struct {
	mu      sync.RWMutex
	entries map[Subscriber]string // subscriber -> provider name
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Subscriber]string)}
}

// Register records a subscriber as owned by the named extension provider.
func (r *Registry) Register(provider string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[sub] = provider
}

// Deregister removes a subscriber.
func (r *Registry) Deregister(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sub)
}

// IsRegistered reports whether any provider has registered the subscriber.
func (r *Registry) IsRegistered(sub Subscriber) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[sub]
	return ok
}

// Provider returns the provider name that registered the subscriber.
func (r *Registry) Provider(sub Subscriber) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.entries[sub]
	return name, ok
}
