package rag

import "sync"

// Cache shares built stores between sessions whose documents and chunking
// parameters are identical. Safe for concurrent use.
type Cache struct {
	mu     sync.RWMutex
	stores map[string]*Store
}

// NewCache returns an empty store cache.
func NewCache() *Cache {
	return &Cache{stores: make(map[string]*Store)}
}

// Get returns the cached store for the fingerprint, when present.
func (c *Cache) Get(fingerprint string) (*Store, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	store, ok := c.stores[fingerprint]
	return store, ok
}

// Add stores the built store under its fingerprint. An already cached store
// wins so concurrent builders converge on one instance.
func (c *Cache) Add(store *Store) *Store {
	if store == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.stores[store.Fingerprint()]; ok {
		return existing
	}
	c.stores[store.Fingerprint()] = store
	return store
}
