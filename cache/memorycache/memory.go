// Package memorycache provides an in-process [cache.Cache] for single-instance
// deployments and tests.
package memorycache

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/torutek/authkit/cache"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is a mutex-guarded map with per-entry absolute expiry. Expired entries
// are unreachable as soon as their deadline passes; the optional janitor only
// reclaims memory.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time

	sweepInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, mainly for simulated-clock tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSweepInterval starts a background janitor that drops expired entries
// every interval. Zero disables it.
func WithSweepInterval(interval time.Duration) Option {
	return func(c *Cache) {
		c.sweepInterval = interval
	}
}

// New returns an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.sweepInterval > 0 {
		c.wg.Add(1)
		go c.janitor()
	}

	return c
}

// Set stores value under key until ttl elapses.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return cache.ErrInvalidTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{
		value:     bytes.Clone(value),
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Get returns the live value for key.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.liveLocked(key)
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(e.value), true, nil
}

// Take returns the live value for key and removes it.
func (c *Cache) Take(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.liveLocked(key)
	if !ok {
		return nil, false, nil
	}
	delete(c.entries, key)
	return e.value, true, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// CompareAndDelete removes key only while it holds expected.
func (c *Cache) CompareAndDelete(_ context.Context, key string, expected []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.liveLocked(key)
	if !ok || !bytes.Equal(e.value, expected) {
		return false, nil
	}
	delete(c.entries, key)
	return true, nil
}

// Len reports the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the janitor, if any.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
	return nil
}

// liveLocked returns the entry for key if it has not expired. Expired entries
// are dropped on access. Caller must hold mu.
func (c *Cache) liveLocked(key string) (entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return entry{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return entry{}, false
	}
	return e, true
}

func (c *Cache) janitor() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

var (
	_ cache.Cache = (*Cache)(nil)
	_ cache.Basic = (*Cache)(nil)
)
