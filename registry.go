package vaultfs

import "sync"

// Registry holds the cryptors of unlocked vaults keyed by vault id. A vault
// is unlocked exactly as long as its cryptor is registered.
type Registry struct {
	mu       sync.RWMutex
	cryptors map[string]*Cryptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{cryptors: make(map[string]*Cryptor)}
}

// Get returns the cryptor of the vault with the given id.
func (r *Registry) Get(id string) (*Cryptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cryptors[id]
	return c, ok
}

// PutIfAbsent registers c for id and reports whether it was stored. An
// existing entry is left untouched.
func (r *Registry) PutIfAbsent(id string, c *Cryptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cryptors[id]; ok {
		return false
	}
	r.cryptors[id] = c
	return true
}

// Remove deregisters and destroys the cryptor of id. It reports whether a
// cryptor was registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	c, ok := r.cryptors[id]
	delete(r.cryptors, id)
	r.mu.Unlock()
	if ok {
		c.Destroy()
	}
	return ok
}

// Len returns the number of unlocked vaults.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cryptors)
}

// Clear destroys and removes all cryptors.
func (r *Registry) Clear() {
	r.mu.Lock()
	cryptors := r.cryptors
	r.cryptors = make(map[string]*Cryptor)
	r.mu.Unlock()
	for _, c := range cryptors {
		c.Destroy()
	}
}
