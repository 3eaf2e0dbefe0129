package rate

import (
	"container/list"
	"sync"
	"time"
)

/*
Package rate provides:
  1) FixedWindow — per-key fixed-window request counter (message sending)
  2) LoginLimiter — coarse per-IP fixed window with skip-on-success

Both keep bounded key cardinality via LRU eviction. Windows are not
persisted; a restart clears all counters.
*/

// Decision is the outcome of a limiter check. RetryAfter is positive only
// when the request was denied.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// =========================
// Fixed window (bounded LRU)
// =========================

type FixedWindow struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	cap     int
	items   map[string]*list.Element
	lru     *list.List // front = most recently used
	nowFunc func() time.Time
}

type windowEntry struct {
	key         string
	count       int
	windowStart time.Time
}

// NewFixedWindow creates a 50k-capacity fixed-window counter.
func NewFixedWindow(window time.Duration, max int) *FixedWindow {
	return NewFixedWindowWithCapacity(window, max, 50_000)
}

// NewFixedWindowWithCapacity creates a bounded fixed-window counter.
func NewFixedWindowWithCapacity(window time.Duration, max, capacity int) *FixedWindow {
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 10
	}
	if capacity <= 0 {
		capacity = 50_000
	}
	return &FixedWindow{
		window:  window,
		max:     max,
		cap:     capacity,
		items:   make(map[string]*list.Element, capacity/2),
		lru:     list.New(),
		nowFunc: time.Now,
	}
}

// TryAcquire counts one request for key. A key whose window has elapsed is
// reset to count=1; a key under the maximum is incremented; otherwise the
// request is denied with the time left until the window rolls over.
func (l *FixedWindow) TryAcquire(key string) Decision {
	now := l.nowFunc()
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[key]
	if !ok {
		l.insert(key, now)
		return Decision{Allowed: true, Remaining: l.max - 1}
	}
	en := el.Value.(*windowEntry)
	elapsed := now.Sub(en.windowStart)

	if elapsed > l.window {
		en.count = 1
		en.windowStart = now
		l.lru.MoveToFront(el)
		return Decision{Allowed: true, Remaining: l.max - 1}
	}
	if en.count < l.max {
		en.count++
		l.lru.MoveToFront(el)
		return Decision{Allowed: true, Remaining: l.max - en.count}
	}
	l.lru.MoveToFront(el)
	return Decision{RetryAfter: l.window - elapsed}
}

func (l *FixedWindow) insert(key string, now time.Time) {
	// Evict LRU tail if full.
	if l.lru.Len() >= l.cap {
		if back := l.lru.Back(); back != nil {
			old := back.Value.(*windowEntry)
			delete(l.items, old.key)
			l.lru.Remove(back)
		}
	}
	el := l.lru.PushFront(&windowEntry{key: key, count: 1, windowStart: now})
	l.items[key] = el
}

// ============================
// Login limiter (skip-on-success)
// ============================

// LoginLimiter guards the login endpoint per client IP. Only failed attempts
// count toward the limit when skipSuccessful is set, so a legitimate login
// after someone else's failures on a shared IP is not penalized.
type LoginLimiter struct {
	fw             *FixedWindow
	skipSuccessful bool
}

func NewLoginLimiter(window time.Duration, max int, skipSuccessful bool) *LoginLimiter {
	return NewLoginLimiterWithCapacity(window, max, skipSuccessful, 50_000)
}

func NewLoginLimiterWithCapacity(window time.Duration, max int, skipSuccessful bool, capacity int) *LoginLimiter {
	return &LoginLimiter{
		fw:             NewFixedWindowWithCapacity(window, max, capacity),
		skipSuccessful: skipSuccessful,
	}
}

// Check reports whether key is still within its attempt budget without
// consuming anything. Callers record the outcome afterwards.
func (l *LoginLimiter) Check(key string) Decision {
	now := l.fw.nowFunc()
	l.fw.mu.Lock()
	defer l.fw.mu.Unlock()

	el, ok := l.fw.items[key]
	if !ok {
		return Decision{Allowed: true, Remaining: l.fw.max}
	}
	en := el.Value.(*windowEntry)
	elapsed := now.Sub(en.windowStart)
	if elapsed > l.fw.window {
		return Decision{Allowed: true, Remaining: l.fw.max}
	}
	if en.count < l.fw.max {
		return Decision{Allowed: true, Remaining: l.fw.max - en.count}
	}
	return Decision{RetryAfter: l.fw.window - elapsed}
}

// RecordFailure counts a failed attempt for key.
func (l *LoginLimiter) RecordFailure(key string) {
	l.fw.TryAcquire(key)
}

// RecordSuccess marks a successful attempt. With skip-on-success the attempt
// simply does not count (earlier failures in the window are retained);
// otherwise it counts like any other attempt.
func (l *LoginLimiter) RecordSuccess(key string) {
	if l.skipSuccessful {
		return
	}
	l.fw.TryAcquire(key)
}
