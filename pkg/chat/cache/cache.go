// Package cache maps request fingerprints to previously observed provider
// responses. Caching is advisory: a hit replays the prior response flagged
// FromCache, a miss costs nothing but the lookup.
package cache

import (
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/chat/api"
)

// Cache is the request cache consulted by the resilient client. Entries
// expire after their TTL; overwriting the same fingerprint is idempotent.
type Cache interface {
	Get(fingerprint string) (*api.Response, bool)
	Set(fingerprint string, resp *api.Response, ttl time.Duration)
}

type memoryEntry struct {
	response  api.Response
	expiresAt time.Time
}

// MemoryCache is a concurrency-safe in-process cache. Entries written under a
// fingerprint unique to their exact request never race with concurrent
// writers on other keys.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ Cache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: map[string]memoryEntry{},
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(fingerprint string) (*api.Response, bool) {
	c.mu.RLock()
	entry, ok := c.entries[fingerprint]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, fingerprint)
		c.mu.Unlock()
		return nil, false
	}

	resp := entry.response
	resp.FromCache = true
	return &resp, true
}

func (c *MemoryCache) Set(fingerprint string, resp *api.Response, ttl time.Duration) {
	if resp == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = memoryEntry{
		response:  *resp,
		expiresAt: c.now().Add(ttl),
	}
}
