package store

import (
	"sync"
	"time"
)

const defaultContextTTL = 15 * time.Minute

// Cache is a per-session-keyed, read-through context cache fronting the
// durable Message log. Entries expire lazily on read rather than via a
// background sweep: a stale entry is simply treated as a miss the next
// time it's read. The cache never writes back to the store; AppendMessage
// invalidates the affected entry so the next GetContext call refills it.
//
// Safe for concurrent use. Each key is independently lockable so a refill
// for one session never blocks reads of another.
type Cache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	mu       sync.Mutex
	messages []Message
	fetchedAt time.Time
}

// NewCache constructs a Cache with the given TTL. A zero or negative ttl
// uses the spec default of 15 minutes.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultContextTTL
	}
	return &Cache{ttl: ttl, entries: make(map[string]*cacheEntry)}
}

// entryFor returns the cache entry for sessionID, creating one on first use.
func (c *Cache) entryFor(sessionID string) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sessionID]
	if !ok {
		e = &cacheEntry{}
		c.entries[sessionID] = e
	}
	return e
}

// GetOrFill returns the cached messages for sessionID if present and not
// expired; otherwise it calls fill to populate the cache and returns the
// freshly fetched value. fill is called with the entry's lock held, so
// concurrent GetOrFill calls for the same session never both hit the store.
func (c *Cache) GetOrFill(sessionID string, fill func() ([]Message, error)) ([]Message, error) {
	e := c.entryFor(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.messages != nil && time.Since(e.fetchedAt) < c.ttl {
		return e.messages, nil
	}

	messages, err := fill()
	if err != nil {
		return nil, err
	}
	e.messages = messages
	e.fetchedAt = time.Now()
	return messages, nil
}

// Invalidate clears the cached entry for sessionID, forcing the next
// GetOrFill call to refill from the store.
func (c *Cache) Invalidate(sessionID string) {
	e := c.entryFor(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = nil
}

// Delete removes sessionID's cache entry entirely, for use when a session
// ends and its context will never be read again.
func (c *Cache) Delete(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
}
