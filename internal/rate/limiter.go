package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter stores fixed-window attempt counts.
type Counter interface {
	// Incr adds one to key, starting a window of length window on the first hit.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// Decr gives back one unit of key. Absent or expired keys are left alone.
	Decr(ctx context.Context, key string) error
}

// Config holds limiter tuning parameters.
type Config struct {
	// MaxFailures is the number of failed redemptions allowed per window.
	MaxFailures int
	Window      time.Duration
}

// Limiter counts failed redemptions per subject, usually a client IP.
//
// Every attempt is reserved before the nonce is looked up, so concurrent
// guesses from one subject cannot get past the budget. Attempts that turn out
// not to be failures are released again.
type Limiter struct {
	counter Counter
	config  Config
}

// New creates a Limiter over counter.
func New(counter Counter, cfg Config) *Limiter {
	return &Limiter{
		counter: counter,
		config:  cfg,
	}
}

// Reserve claims one attempt for subject. It returns ErrRateLimited when the
// window budget is already spent.
func (l *Limiter) Reserve(ctx context.Context, subject string) error {
	count, err := l.counter.Incr(ctx, failureKey(subject), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxFailures) {
		return ErrRateLimited
	}
	return nil
}

// Release returns an attempt taken by Reserve that did not fail.
func (l *Limiter) Release(ctx context.Context, subject string) error {
	return l.counter.Decr(ctx, failureKey(subject))
}

func failureKey(subject string) string {
	return "rf:" + subject
}

/*
====================================
REDIS COUNTER
====================================
*/

// incrLua increments KEYS[1] and gives it a PX expiry of ARGV[1] whenever it
// has none, so a counter can never outlive its window.
var incrLua = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// decrLua decrements KEYS[1] only while it exists and is positive.
var decrLua = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n > 0 then
  return redis.call('DECR', KEYS[1])
end
return 0
`)

// RedisCounter keeps counters in Redis so every instance shares one budget.
type RedisCounter struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCounter returns a Counter storing keys under prefix.
func NewRedisCounter(redisClient redis.UniversalClient, prefix string) *RedisCounter {
	return &RedisCounter{redis: redisClient, prefix: prefix}
}

// Incr implements Counter.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := incrLua.Run(ctx, c.redis, []string{c.prefix + key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return count, nil
}

// Decr implements Counter.
func (c *RedisCounter) Decr(ctx context.Context, key string) error {
	if err := decrLua.Run(ctx, c.redis, []string{c.prefix + key}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return nil
}

/*
====================================
MEMORY COUNTER
====================================
*/

type window struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounter keeps counters in process memory. Expired windows are dropped
// lazily on access.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]window
	now     func() time.Time
}

// NewMemoryCounter returns an empty MemoryCounter. A nil now uses time.Now.
func NewMemoryCounter(now func() time.Time) *MemoryCounter {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounter{
		windows: make(map[string]window),
		now:     now,
	}
}

// Incr implements Counter.
func (c *MemoryCounter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = window{expiresAt: now.Add(ttl)}
	}
	w.count++
	c.windows[key] = w
	return w.count, nil
}

// Decr implements Counter.
func (c *MemoryCounter) Decr(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok {
		return nil
	}
	if !c.now().Before(w.expiresAt) {
		delete(c.windows, key)
		return nil
	}
	if w.count > 0 {
		w.count--
		c.windows[key] = w
	}
	return nil
}
