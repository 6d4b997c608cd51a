// Package cache keeps rendered workflow read responses in memory so that
// clients walking a questionnaire do not rebuild the graph on every step.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

type item[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// LRU is a thread-safe least-recently-used cache whose entries also expire
// after a fixed TTL. Expired entries are dropped lazily on access.
type LRU[V any] struct {
	mu      sync.Mutex
	order   *list.List
	items   map[string]*list.Element
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// NewLRU creates a cache holding at most maxSize entries for ttl each.
func NewLRU[V any](maxSize int, ttl time.Duration) *LRU[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &LRU[V]{
		order:   list.New(),
		items:   make(map[string]*list.Element, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the value for key and marks it as recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	it := el.Value.(*item[V])
	if c.now().After(it.expiresAt) {
		c.remove(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return it.value, true
}

// Set stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *LRU[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		it := el.Value.(*item[V])
		it.value = value
		it.expiresAt = expires
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.remove(oldest)
		}
	}
	c.items[key] = c.order.PushFront(&item[V]{key: key, value: value, expiresAt: expires})
}

// Invalidate removes key.
func (c *LRU[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
}

// InvalidatePrefix removes every key starting with prefix.
func (c *LRU[V]) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.remove(el)
			n++
		}
	}
	return n
}

// InvalidateAll empties the cache.
func (c *LRU[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element, c.maxSize)
}

// Len returns the number of entries, including expired ones not yet dropped.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// must be called with c.mu held
func (c *LRU[V]) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*item[V]).key)
}
