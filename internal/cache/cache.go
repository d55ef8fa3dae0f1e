// Package cache stores orchestrated query results. Entries hold the JSON
// encoding of the result so every reader decodes its own copy.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Entry is one cached query result.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Cache defines the store the query orchestrator writes to.
// Get returns the entry if present and not expired; Set stores it with TTL.
// TTL is retention, not freshness: staleness is judged from FetchedAt.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Clear removes every entry whose key starts with prefix ("" for all).
	Clear(ctx context.Context, prefix string) error
}

// InMemoryCache implements Cache using a map with TTL-based expiration.
// Expired entries are removed on access. Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     Entry
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get returns (entry, true, nil) on hit and (zero, false, nil) on miss or expiration.
func (c *InMemoryCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}

	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.data[key]; ok && cur.expiresAt.Equal(entry.expiresAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return Entry{}, false, nil
	}

	return entry.value, true, nil
}

// Set stores entry with the given TTL, replacing any previous value.
func (c *InMemoryCache) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{
		value:     entry,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *InMemoryCache) Clear(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prefix == "" {
		c.data = make(map[string]cacheEntry)
		return nil
	}
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
		}
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
