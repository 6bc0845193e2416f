// ABOUTME: Thread-safe TTL cache for suppressing repeated realtime server events
// ABOUTME: Keys are event identities; expiry is checked lazily against an injectable clock

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type cacheEntry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache remembers keys for ttl, holding at most maxSize of them. The oldest
// key is evicted first.
type Cache struct {
	mu      sync.Mutex
	clock   clock.Clock
	seen    map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
}

// New creates a cache. A nil clock uses wall time.
func New(ttl time.Duration, maxSize int, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.New()
	}
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache{
		clock:   clk,
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Check reports whether key was marked within the last ttl
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key, c.clock.Now())
}

// CheckAndMark reports whether key is a duplicate, marking it when it is new
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.liveLocked(key, now) {
		return true
	}
	c.markLocked(key, now)
	return false
}

// Mark records key as seen now
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, c.clock.Now())
}

// Len returns the number of live keys
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(c.clock.Now())
	return len(c.seen)
}

// Reset forgets every key
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]*cacheEntry)
	c.order.Init()
}

func (c *Cache) liveLocked(key string, now time.Time) bool {
	entry, ok := c.seen[key]
	return ok && now.Sub(entry.seenAt) < c.ttl
}

func (c *Cache) markLocked(key string, now time.Time) {
	c.expireLocked(now)

	if entry, exists := c.seen[key]; exists {
		entry.seenAt = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	c.seen[key] = &cacheEntry{
		seenAt:  now,
		element: c.order.PushBack(key),
	}
}

// expireLocked drops expired keys from the front. Marks move keys to the
// back, so the list stays ordered by seenAt.
func (c *Cache) expireLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(c.seen[key].seenAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}
