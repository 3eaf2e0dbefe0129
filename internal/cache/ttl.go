// Package cache provides a bounded get-or-compute cache with per-call TTLs
// and explicit invalidation, used by read endpoints to memoize data-store
// results per principal.
package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TTLCache is a bounded LRU whose entries expire lazily on access. The TTL is
// chosen per GetOrCompute call, not per cache, so one instance can serve use
// sites with different freshness needs.
//
// By default concurrent misses on the same key may each run the compute
// function; WithSingleFlight coalesces them into one call per key.
type TTLCache[V any] struct {
	mu    sync.Mutex
	cap   int
	items map[string]*list.Element
	lru   *list.List // front = most recently used

	sf      *singleflight.Group
	nowFunc func() time.Time
}

type entry[V any] struct {
	key       string
	val       V
	expiresAt time.Time
}

type Option[V any] func(*TTLCache[V])

// WithSingleFlight coalesces concurrent computes per key. Off by default:
// concurrent misses on a cold key may each run the compute function.
func WithSingleFlight[V any]() Option[V] {
	return func(c *TTLCache[V]) {
		c.sf = &singleflight.Group{}
	}
}

// New creates a TTLCache with the given key capacity (default 100k).
func New[V any](capacity int, opts ...Option[V]) *TTLCache[V] {
	if capacity <= 0 {
		capacity = 100_000
	}
	c := &TTLCache[V]{
		cap:     capacity,
		items:   make(map[string]*list.Element, capacity/2),
		lru:     list.New(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute returns the cached value for key if unexpired; otherwise it
// runs compute, stores the result with expiresAt = now + ttl, and returns it.
// A compute failure propagates verbatim and writes nothing (no negative
// caching).
func (c *TTLCache[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (V, error)) (V, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	if c.sf == nil {
		v, err := compute(ctx)
		if err != nil {
			var zero V
			return zero, err
		}
		c.store(key, v, ttl)
		return v, nil
	}

	res, err, _ := c.sf.Do(key, func() (any, error) {
		// A concurrent flight may have populated the entry already.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, v, ttl)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Invalidate removes the entry for key if present (idempotent).
func (c *TTLCache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		delete(c.items, key)
		c.lru.Remove(el)
	}
}

// InvalidatePrefix removes every entry whose key starts with prefix and
// reports how many were dropped.
func (c *TTLCache[V]) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
			c.lru.Remove(el)
			n++
		}
	}
	return n
}

// Len reports the number of resident entries, expired or not.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// lookup returns the unexpired value for key, purging an expired entry.
func (c *TTLCache[V]) lookup(key string) (V, bool) {
	now := c.nowFunc()
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		en := el.Value.(*entry[V])
		if now.Before(en.expiresAt) {
			c.lru.MoveToFront(el)
			return en.val, true
		}
		// expired
		delete(c.items, key)
		c.lru.Remove(el)
	}
	var zero V
	return zero, false
}

// store writes val under key, unconditionally overwriting any prior entry.
func (c *TTLCache[V]) store(key string, val V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	en := &entry[V]{key: key, val: val, expiresAt: c.nowFunc().Add(ttl)}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value = en
		c.lru.MoveToFront(el)
		return
	}
	// Evict LRU tail if full.
	if c.lru.Len() >= c.cap {
		if back := c.lru.Back(); back != nil {
			old := back.Value.(*entry[V])
			delete(c.items, old.key)
			c.lru.Remove(back)
		}
	}
	el := c.lru.PushFront(en)
	c.items[key] = el
}
