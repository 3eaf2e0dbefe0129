package auth

import (
	"container/list"
	"sync"
	"time"
)

// Cache memoizes resolved principals per raw credential string, bounded by
// LRU capacity and per-entry TTL. Expiry is lazy: an expired entry is purged
// by the next Lookup; there is no background sweep.
//
// There is no revocation channel. A credential invalidated upstream (logout,
// ban) stays valid here until its entry expires; maxTTL bounds that exposure
// and is an accepted, configurable risk.
type Cache struct {
	mu     sync.Mutex
	cap    int
	maxTTL time.Duration
	items  map[string]*list.Element
	lru    *list.List // front = most recently used

	nowFunc func() time.Time
}

type cacheVal struct {
	credential string
	principal  Principal
	expiresAt  time.Time
}

// NewCache creates a principal cache. maxTTL clamps every Store so no entry
// can outlive the configured staleness bound.
func NewCache(capacity int, maxTTL time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 100_000
	}
	if maxTTL <= 0 {
		maxTTL = time.Hour
	}
	return &Cache{
		cap:     capacity,
		maxTTL:  maxTTL,
		items:   make(map[string]*list.Element, capacity/2),
		lru:     list.New(),
		nowFunc: time.Now,
	}
}

// Lookup returns the cached principal for credential, if present and
// unexpired. An entry at or past its expiry is deleted and reported as a miss.
func (c *Cache) Lookup(credential string) (Principal, bool) {
	now := c.nowFunc()
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[credential]; ok {
		val := el.Value.(*cacheVal)
		if now.Before(val.expiresAt) {
			c.lru.MoveToFront(el)
			return val.principal, true
		}
		// expired
		delete(c.items, credential)
		c.lru.Remove(el)
	}
	return Principal{}, false
}

// Store writes the principal under credential, unconditionally overwriting
// any existing entry. ttl is clamped to the cache's maxTTL.
func (c *Cache) Store(credential string, p Principal, ttl time.Duration) {
	if ttl <= 0 || ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	cv := &cacheVal{
		credential: credential,
		principal:  p,
		expiresAt:  c.nowFunc().Add(ttl),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[credential]; ok {
		el.Value = cv
		c.lru.MoveToFront(el)
		return
	}
	// Evict if needed
	if c.lru.Len() >= c.cap {
		if back := c.lru.Back(); back != nil {
			del := back.Value.(*cacheVal)
			delete(c.items, del.credential)
			c.lru.Remove(back)
		}
	}
	el := c.lru.PushFront(cv)
	c.items[credential] = el
}

// Len reports resident entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
