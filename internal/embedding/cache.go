package embedding

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// maxExtensions caps how often a hit may slide an entry's expiry forward.
const maxExtensions = 6

type cacheEntry struct {
	vector      Vector
	expiration  time.Time
	accessCount int
	originalTTL time.Duration
}

// vectorCache is a TTL cache whose entries get their lifetime extended on access, a bounded
// number of times.
type vectorCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func newVectorCache(ttl time.Duration) *vectorCache {
	return &vectorCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *vectorCache) get(key string) (Vector, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Vector{}, false
	}

	if c.now().After(entry.expiration) {
		delete(c.entries, key)
		return Vector{}, false
	}

	// Sliding window extension
	if entry.accessCount < maxExtensions {
		entry.expiration = c.now().Add(entry.originalTTL)
		entry.accessCount++
		log.Trace().Str("key", key).Int("count", entry.accessCount).Msg("Extended embedding cache TTL")
	}

	return entry.vector, true
}

func (c *vectorCache) put(key string, v Vector) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry{
		vector:      v,
		expiration:  c.now().Add(c.ttl),
		originalTTL: c.ttl,
		accessCount: 1,
	}
}

func (c *vectorCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
