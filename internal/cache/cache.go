// Package cache holds recently produced review results so identical
// submissions are answered without re-running scanners.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

// ErrEmptyKey is returned when a cache key is empty
var ErrEmptyKey = errors.New("cache key cannot be empty")

// Interface defines the contract for review result caching
type Interface interface {
	Store(key string, result *types.ReviewResult) error
	Get(key string) (*types.ReviewResult, bool)
	Delete(key string)
	Size() int
	Clear()
	Close()
}

// ReviewCache caches review results with TTL-based expiration
type ReviewCache struct {
	results   map[string]*entry
	mu        sync.RWMutex
	ttl       time.Duration
	now       func() time.Time
	done      chan struct{}
	closeOnce sync.Once
}

type entry struct {
	result    *types.ReviewResult
	expiresAt time.Time
}

// New creates a cache with the given TTL and starts the background sweep.
// A zero TTL disables caching: Store becomes a no-op.
func New(ttl time.Duration) *ReviewCache {
	c := &ReviewCache{
		results: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go c.cleanupLoop(cleanupInterval(ttl))
	}
	return c
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// Key derives the cache key for a (file, content, scanner set) triple.
// Scanner order does not matter.
func Key(file, content string, scanners []string) string {
	names := append([]string(nil), scanners...)
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(file))
	h.Write([]byte{0})
	h.Write([]byte(content))
	for _, n := range names {
		h.Write([]byte{0})
		h.Write([]byte(n))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Store caches a result
func (c *ReviewCache) Store(key string, result *types.ReviewResult) error {
	if key == "" {
		return ErrEmptyKey
	}
	if result == nil {
		return errors.New("result cannot be nil")
	}
	if c.ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = &entry{result: result, expiresAt: c.now().Add(c.ttl)}
	return nil
}

// Get returns a fresh cached result
func (c *ReviewCache) Get(key string) (*types.ReviewResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.results[key]
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.result, true
}

// Delete removes a cached result
func (c *ReviewCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.results, key)
}

// Size returns the current number of cached results, expired or not
func (c *ReviewCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

// Clear removes all cached results
func (c *ReviewCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = make(map[string]*entry)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (c *ReviewCache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *ReviewCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.done:
			return
		}
	}
}

func (c *ReviewCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.results {
		if now.After(e.expiresAt) {
			delete(c.results, key)
		}
	}
}
