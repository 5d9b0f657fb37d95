// ABOUTME: Thread-safe TTL cache mapping session keys to conversation handles.
// ABOUTME: Gives repeat logging calls in one interaction the same conversation.

package client

import (
	"container/list"
	"sync"
	"time"
)

// HandleKey identifies one logical interaction on the client side.
type HandleKey struct {
	Initiator   string
	Participant string
	SessionKey  string
}

// cacheEntry stores the timestamp and list element for a cached key.
type cacheEntry struct {
	handle    *Handle
	timestamp time.Time
	element   *list.Element
}

// HandleCache is a thread-safe, TTL-based, size-limited cache from
// (initiator, participant, sessionKey) to conversation handles. It is
// the client-side deduplication that keeps the server stateless: the
// server creates a fresh conversation on every open call, so reuse
// lives entirely here. Uses a doubly-linked list to maintain insertion
// order for O(1) eviction.
type HandleCache struct {
	mu      sync.Mutex
	entries map[HandleKey]*cacheEntry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewHandleCache creates a cache with the specified TTL and maximum
// size. A background goroutine periodically cleans up expired entries.
func NewHandleCache(ttl time.Duration, maxSize int) *HandleCache {
	c := &HandleCache{
		entries: make(map[HandleKey]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// GetOrPut returns the cached handle for key if present and not
// expired; otherwise it stores the handle produced by create and
// returns that. The check and insert are atomic, so two concurrent
// callers with the same key always end up sharing one handle.
func (c *HandleCache) GetOrPut(key HandleKey, create func() *Handle) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if entry, ok := c.entries[key]; ok && now.Sub(entry.timestamp) < c.ttl {
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return entry.handle
	}

	if entry, ok := c.entries[key]; ok {
		// Expired; drop before re-inserting.
		c.order.Remove(entry.element)
		delete(c.entries, key)
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	h := create()
	elem := c.order.PushBack(key)
	c.entries[key] = &cacheEntry{
		handle:    h,
		timestamp: now,
		element:   elem,
	}
	return h
}

// Remove drops a key from the cache. Used by Handle.End.
func (c *HandleCache) Remove(key HandleKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return
	}
	c.order.Remove(entry.element)
	delete(c.entries, key)
}

// Len returns the number of cached handles.
func (c *HandleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldest removes the oldest entry. Must be called with mu held.
// O(1) operation using the linked list.
func (c *HandleCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(HandleKey)
	c.order.Remove(front)
	delete(c.entries, key)
}

// cleanup runs in a background goroutine, periodically removing expired
// entries.
func (c *HandleCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *HandleCache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple
// times.
func (c *HandleCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
