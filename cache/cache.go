package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"
)

// entry holds a cached rendered result with its creation timestamp.
type entry struct {
	output    string
	createdAt time.Time
}

// Cache is a small in-memory cache for rendered tool results, so repeated
// identical queries inside the TTL skip the whole browser pipeline.
// It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	ttl        time.Duration
}

// New creates a Cache. A background goroutine evicts expired entries every
// ttl. A zero or negative ttl disables caching entirely.
func New(maxEntries int, ttl time.Duration) *Cache {
	c := &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
	if ttl > 0 {
		go c.cleanupLoop()
	}
	return c
}

// Key builds the cache key for a query/limit pair.
func Key(search string, limit int) string {
	h := sha256.New()
	h.Write([]byte(search))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.Itoa(limit)))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached output for key if it is still fresh.
func (c *Cache) Get(key string) (string, bool) {
	if c.ttl <= 0 {
		return "", false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok || time.Since(e.createdAt) > c.ttl {
		return "", false
	}
	return e.output, true
}

// Set stores a rendered output. If the cache is at capacity, a random entry
// is evicted to make room (map iteration order is random in Go).
func (c *Cache) Set(key, output string) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}
	c.store[key] = &entry{output: output, createdAt: time.Now()}
}

// cleanupLoop evicts expired entries on a fixed cadence.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		for k, e := range c.store {
			if time.Since(e.createdAt) > c.ttl {
				delete(c.store, k)
			}
		}
		c.mu.Unlock()
	}
}
