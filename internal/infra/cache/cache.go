// Package cache provides an in-memory TTL cache used for identity lookups.
// Loan state is never cached.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// InMemory is a thread-safe in-memory cache with TTL.
type InMemory[T any] struct {
	mu    sync.RWMutex
	items map[string]entry[T]
	ttl   time.Duration
	group singleflight.Group
	stop  chan struct{}
	once  sync.Once
}

// New creates a new in-memory cache with the given TTL. Call Close to stop
// the background sweeper.
func New[T any](ttl time.Duration) *InMemory[T] {
	c := &InMemory[T]{
		items: make(map[string]entry[T]),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}
	if ttl > 0 {
		go c.cleanup()
	}
	return c
}

// Get retrieves a value from the cache. Returns false if not found or expired.
func (c *InMemory[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || !time.Now().Before(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set stores a value in the cache with the configured TTL.
func (c *InMemory[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = entry[T]{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Delete removes a value from the cache.
func (c *InMemory[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// GetOrLoad returns the cached value for key, calling load on a miss.
// Concurrent misses for the same key share one load. Failed loads are not
// cached. hit reports whether the value came from the cache.
func (c *InMemory[T]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (T, error)) (value T, hit bool, err error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, loaded)
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return v.(T), false, nil
}

// Close stops the background sweeper. The cache stays usable.
func (c *InMemory[T]) Close() {
	c.once.Do(func() { close(c.stop) })
}

// cleanup periodically removes expired entries.
func (c *InMemory[T]) cleanup() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		now := time.Now()
		for k, v := range c.items {
			if !now.Before(v.expiresAt) {
				delete(c.items, k)
			}
		}
		c.mu.Unlock()
	}
}
