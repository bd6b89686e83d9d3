package pairing

import (
	"sync"

	"chromdm/internal/catalog"
)

// Resolution is the outcome of one companion lookup. A nil Companion with a
// nil Err is a confirmed miss. Malformed marks a hit that lacked an accession
// or download URL; it is kept as a miss.
type Resolution struct {
	Companion *catalog.CompanionRecord
	Err       error
	Malformed bool
}

// Found reports whether a companion was resolved.
func (r Resolution) Found() bool {
	return r.Err == nil && r.Companion != nil
}

// ResolutionCache memoizes companion lookups per canonical identity for the
// lifetime of one run.
type ResolutionCache struct {
	mu      sync.Mutex
	entries map[string]Resolution
}

// NewResolutionCache returns an empty cache.
func NewResolutionCache() *ResolutionCache {
	return &ResolutionCache{entries: make(map[string]Resolution)}
}

// Lookup returns the cached resolution for name.
func (c *ResolutionCache) Lookup(name string) (Resolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[name]
	return res, ok
}

// Store records the resolution for name.
func (c *ResolutionCache) Store(name string, res Resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = res
}

// Len returns the number of cached identities.
func (c *ResolutionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
