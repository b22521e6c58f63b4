package element

import (
	"errors"
	"sync"
)

// ErrCacheClosed is returned by GetOrCreate after Close.
var ErrCacheClosed = errors.New("element cache closed")

// Cache maps native handles to wrapper values so a handle is wrapped at most
// once. Safe for concurrent use.
//
// The optional evict hook runs exactly once per entry when it leaves the
// cache through Evict, Purge or Close; it is where retained native
// references get released.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]V
	onEvict func(K, V)
	closed  bool
}

// NewCache creates a cache. onEvict may be nil.
func NewCache[K comparable, V any](onEvict func(K, V)) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]V),
		onEvict: onEvict,
	}
}

// Get returns the cached wrapper for key, if any.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

// GetOrCreate returns the existing wrapper for key or stores the one built
// by create. create runs under the cache lock and must not call back into
// the cache. A create error leaves the cache unchanged. After Close create
// is not called and ErrCacheClosed is returned.
func (c *Cache[K, V]) GetOrCreate(key K, create func(K) (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	if c.closed {
		return zero, ErrCacheClosed
	}
	if v, ok := c.entries[key]; ok {
		return v, nil
	}
	v, err := create(key)
	if err != nil {
		return zero, err
	}
	c.entries[key] = v
	return v, nil
}

// Evict removes key and runs the evict hook. It reports whether key was present.
func (c *Cache[K, V]) Evict(key K) bool {
	c.mu.Lock()
	v, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	if ok && c.onEvict != nil {
		c.onEvict(key, v)
	}
	return ok
}

// Purge evicts every entry for which keep returns false.
func (c *Cache[K, V]) Purge(keep func(K, V) bool) int {
	c.mu.Lock()
	var gone []K
	var vals []V
	for k, v := range c.entries {
		if !keep(k, v) {
			gone = append(gone, k)
			vals = append(vals, v)
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
	if c.onEvict != nil {
		for i, k := range gone {
			c.onEvict(k, vals[i])
		}
	}
	return len(gone)
}

// Len returns the number of cached wrappers.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close evicts everything and stops further insertions.
func (c *Cache[K, V]) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Purge(func(K, V) bool { return false })
}
