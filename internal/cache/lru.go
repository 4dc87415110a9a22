package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freewebtopdf/redirect-resolver/internal/domain"
)

// node represents a node in the doubly-linked list
type node[V any] struct {
	key   string
	value V
	prev  *node[V]
	next  *node[V]
}

// LRU is a size-bounded cache with least-recently-used eviction
type LRU[V any] struct {
	maxSize int
	size    int

	// Doubly-linked list for LRU ordering
	head *node[V]
	tail *node[V]

	// HashMap for O(1) lookups
	items map[string]*node[V]

	mutex sync.Mutex

	// Atomic counters for metrics
	hits      int64
	misses    int64
	evictions int64
}

// NewLRU creates a new LRU cache with the specified maximum size
func NewLRU[V any](maxSize int) *LRU[V] {
	if maxSize <= 0 {
		maxSize = 10000
	}

	// Sentinel head and tail keep list manipulation branch-free
	head := &node[V]{}
	tail := &node[V]{}
	head.next = tail
	tail.prev = head

	return &LRU[V]{
		maxSize: maxSize,
		head:    head,
		tail:    tail,
		items:   make(map[string]*node[V]),
	}
}

// Get retrieves a value from the cache and marks it as recently used
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	found, exists := c.items[key]
	if !exists {
		atomic.AddInt64(&c.misses, 1)
		var zero V
		return zero, false
	}

	c.moveToFront(found)
	atomic.AddInt64(&c.hits, 1)
	return found.value, true
}

// Set adds or updates a value in the cache
func (c *LRU[V]) Set(key string, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if existing, exists := c.items[key]; exists {
		existing.value = value
		c.moveToFront(existing)
		return
	}

	newNode := &node[V]{key: key, value: value}
	c.addToFront(newNode)
	c.items[key] = newNode
	c.size++

	if c.size > c.maxSize {
		c.evictLRU()
	}
}

// Invalidate removes a specific key from the cache
func (c *LRU[V]) Invalidate(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if existing, exists := c.items[key]; exists {
		c.removeNode(existing)
		delete(c.items, key)
		c.size--
	}
}

// Clear removes all entries from the cache and resets the counters
func (c *LRU[V]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.head.next = c.tail
	c.tail.prev = c.head

	c.items = make(map[string]*node[V])
	c.size = 0

	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.evictions, 0)
}

// Len returns the number of cached entries
func (c *LRU[V]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.size
}

// Stats returns current cache statistics
func (c *LRU[V]) Stats() domain.CacheStats {
	c.mutex.Lock()
	size := c.size
	c.mutex.Unlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses

	var hitRatio float64
	if total > 0 {
		hitRatio = float64(hits) / float64(total)
	}

	return domain.CacheStats{
		Hits:     hits,
		Misses:   misses,
		Size:     size,
		MaxSize:  c.maxSize,
		HitRatio: hitRatio,
	}
}

// Evictions returns how many entries have been evicted since the last Clear
func (c *LRU[V]) Evictions() int64 {
	return atomic.LoadInt64(&c.evictions)
}

// HealthCheck performs a health check on the cache
func (c *LRU[V]) HealthCheck(ctx context.Context) domain.HealthStatus {
	stats := c.Stats()

	status := domain.HealthStatusHealthy
	message := "Cache is operating normally"
	details := map[string]any{
		"size":      stats.Size,
		"max_size":  stats.MaxSize,
		"hit_ratio": stats.HitRatio,
		"hits":      stats.Hits,
		"misses":    stats.Misses,
		"evictions": c.Evictions(),
	}

	// A pattern cache that keeps evicting means the rule set outgrew it
	if stats.Size >= stats.MaxSize && c.Evictions() > 0 {
		status = domain.HealthStatusDegraded
		message = "Cache is at capacity and evicting"
		details["warning"] = "Increase PATTERN_CACHE_SIZE above the regex rule count"
	}

	return domain.HealthStatus{
		Status:    status,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	}
}

// moveToFront moves a node to the front of the list (most recently used)
func (c *LRU[V]) moveToFront(n *node[V]) {
	c.removeNode(n)
	c.addToFront(n)
}

// addToFront adds a node to the front of the list
func (c *LRU[V]) addToFront(n *node[V]) {
	n.prev = c.head
	n.next = c.head.next
	c.head.next.prev = n
	c.head.next = n
}

// removeNode removes a node from the list
func (c *LRU[V]) removeNode(n *node[V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
}

// evictLRU removes the least recently used item from the cache
func (c *LRU[V]) evictLRU() {
	if c.tail.prev == c.head {
		return
	}

	lru := c.tail.prev
	c.removeNode(lru)
	delete(c.items, lru.key)
	c.size--
	atomic.AddInt64(&c.evictions, 1)
}
