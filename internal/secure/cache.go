package secure

import (
	"fmt"
	"sync"
)

// ValueCache maps secret names to their raw values for the lifetime of the
// process. Values are sealed in memguard enclaves and are never written
// anywhere else; there is deliberately no way to enumerate them.
type ValueCache struct {
	mu      sync.RWMutex
	entries map[string]*SecureBuffer
}

// NewValueCache creates an empty cache.
func NewValueCache() *ValueCache {
	return &ValueCache{
		entries: make(map[string]*SecureBuffer),
	}
}

// Put stores value under name, destroying any previous entry.
func (c *ValueCache) Put(name, value string) error {
	buf, err := NewSecureBuffer([]byte(value))
	if err != nil {
		return fmt.Errorf("failed to seal value: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[name]; ok {
		old.Destroy()
	}
	c.entries[name] = buf
	return nil
}

// Get returns the cached value for name and whether it was present.
func (c *ValueCache) Get(name string) (string, bool, error) {
	c.mu.RLock()
	buf, ok := c.entries[name]
	c.mu.RUnlock()

	if !ok {
		return "", false, nil
	}

	locked, err := buf.Open()
	if err != nil {
		return "", false, fmt.Errorf("failed to open value: %w", err)
	}
	defer locked.Destroy()

	return string(locked.Bytes()), true, nil
}

// Has reports whether name has a cached value.
func (c *ValueCache) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[name]
	return ok
}

// Remove evicts name and reports whether it was present.
func (c *ValueCache) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf, ok := c.entries[name]
	if !ok {
		return false
	}
	buf.Destroy()
	delete(c.entries, name)
	return true
}

// Len returns the number of cached values.
func (c *ValueCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge destroys every cached value.
func (c *ValueCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, buf := range c.entries {
		buf.Destroy()
		delete(c.entries, name)
	}
}
