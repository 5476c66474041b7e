package cache

import (
	"sync"
	"time"

	"github.com/t77yq/trigger-planner/internal/clock"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// TTLCache holds values for a fixed time-to-live measured on an injected clock
type TTLCache[K comparable, V any] struct {
	mu      sync.Mutex
	clock   clock.Clock
	ttl     time.Duration
	gen     uint64
	entries map[K]entry[V]
}

// New creates a cache. A non-positive ttl disables caching.
func New[K comparable, V any](ttl time.Duration, c clock.Clock) *TTLCache[K, V] {
	if c == nil {
		c = clock.Real()
	}
	return &TTLCache[K, V]{
		clock:   c,
		ttl:     ttl,
		entries: make(map[K]entry[V]),
	}
}

// Get returns a live value
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.clock.Now().Before(e.expires) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a value for the cache's ttl
func (c *TTLCache[K, V]) Set(key K, value V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expires: c.clock.Now().Add(c.ttl)}
}

// Generation returns a counter bumped by every Invalidate
func (c *TTLCache[K, V]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// SetIfGeneration stores value only if no Invalidate happened since gen was
// read. A value computed from data that changed meanwhile is dropped.
func (c *TTLCache[K, V]) SetIfGeneration(key K, value V, gen uint64) bool {
	if c.ttl <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.entries[key] = entry[V]{value: value, expires: c.clock.Now().Add(c.ttl)}
	return true
}

// Invalidate drops every entry
func (c *TTLCache[K, V]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.entries = make(map[K]entry[V])
}

// Len returns the number of stored entries, live or expired
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
