package capture

import (
	"sync"

	"github.com/ntptech/invoice-collector/internal/models"
)

// Cache correlates intercepted binary downloads with the record that
// triggered them. Producers (interceptor callbacks) only append; the
// download protocol drains entries matching its predicate and removes them
// once claimed, so a later download can never reuse an earlier capture.
//
// The cache is an owned object passed by reference to both sides, never
// package-level state: each engine instance gets its own.
type Cache struct {
	mu      sync.Mutex
	entries []models.CapturedFile
}

// NewCache creates an empty capture cache
func NewCache() *Cache {
	return &Cache{}
}

// Append adds a captured file. Called from interceptor callbacks, which may
// fire on a different goroutine than the consumer.
func (c *Cache) Append(f models.CapturedFile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, f)
}

// Drain removes and returns the first entry matching pred. The claimed
// entry is gone from the cache afterwards.
func (c *Cache) Drain(pred func(models.CapturedFile) bool) (models.CapturedFile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, f := range c.entries {
		if pred(f) {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return f, true
		}
	}
	return models.CapturedFile{}, false
}

// Clear drops all pending entries. The download protocol calls this before
// triggering a click so stale captures cannot be attributed to the new row.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// Len returns the number of unclaimed entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
