// Package cache keeps recently scraped captures for a short fixed TTL.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/maltedev/storefront-scraper/internal/models"
)

const DefaultTTL = 10 * time.Second

type entry struct {
	data      *models.Capture
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache. It is safe for concurrent use.
type MemoryCache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewMemoryCache starts a background sweep that evicts expired entries
// every sweep interval. Call Close to stop it.
func NewMemoryCache(ttl time.Duration, maxEntries int, sweep time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	c := &MemoryCache{
		store:      make(map[string]*entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	if sweep > 0 {
		go c.cleanupLoop(sweep)
	}
	return c
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*models.Capture, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.data.Clone(), true
}

// Set stores data. At capacity an arbitrary entry is evicted.
func (c *MemoryCache) Set(ctx context.Context, key string, data *models.Capture) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}

	c.store[key] = &entry{data: data.Clone(), expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *MemoryCache) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *MemoryCache) evictExpired() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.store {
		if !now.Before(e.expiresAt) {
			delete(c.store, k)
		}
	}
}
