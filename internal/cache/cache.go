// Package cache provides an in-memory cache of completed model turns keyed
// by a hash of the conversation history and prompt.
package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"StreamChat/internal/provider"
)

// CachedResponse represents a cached completed model turn.
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// Cache stores completed responses. Use New.
type Cache struct {
	entries sync.Map
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{}
}

// Key generates the cache key for a history plus a new prompt.
func Key(history []provider.Turn, prompt string) string {
	h := sha256.New()
	for _, turn := range history {
		h.Write([]byte(turn.Role))
		h.Write([]byte(turn.Text))
	}
	h.Write([]byte(provider.RoleUser))
	h.Write([]byte(prompt))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get returns the cached response for key, if any.
func (c *Cache) Get(key string) (string, bool) {
	if val, ok := c.entries.Load(key); ok {
		return val.(CachedResponse).Response, true
	}
	return "", false
}

// Put stores a completed response under key.
func (c *Cache) Put(key, response string) {
	c.entries.Store(key, CachedResponse{
		Response:  response,
		Timestamp: time.Now(),
	})
}
