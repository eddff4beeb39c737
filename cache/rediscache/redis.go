// Package rediscache implements [cache.Cache] and [cache.Basic] on Redis.
//
// Take runs GET and DEL inside one Lua script, so a value is handed to at most
// one caller even when many redeemers race on the same key. Expiry is Redis'
// own key TTL.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/torutek/authkit/cache"
)

// takeLua atomically performs GET→DEL.
// KEYS[1] = record key
//
// Returns the stored value, or nil when the key is absent.
var takeLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return false
end
redis.call('DEL', KEYS[1])
return data
`)

// compareAndDeleteLua deletes KEYS[1] only while it holds ARGV[1].
// Returns 1 when deleted, 0 otherwise.
var compareAndDeleteLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Cache stores values in Redis under an optional key prefix.
type Cache struct {
	redis  redis.UniversalClient
	prefix string
}

// New returns a Cache using redisClient. prefix is prepended to every key.
func New(redisClient redis.UniversalClient, prefix string) *Cache {
	return &Cache{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// Set writes value with a PX expiry of ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return cache.ErrInvalidTTL
	}
	if err := c.redis.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

// Get reads the value for key without consuming it.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.redis.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return data, true, nil
}

// Take reads and deletes the value for key in a single script invocation.
func (c *Cache) Take(ctx context.Context, key string) ([]byte, bool, error) {
	result, err := takeLua.Run(ctx, c.redis, []string{c.key(key)}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}

	data, ok := result.(string)
	if !ok {
		return nil, false, fmt.Errorf("%w: unexpected lua result type %T", cache.ErrUnavailable, result)
	}
	return []byte(data), true, nil
}

// Delete removes key. Missing keys are ignored.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

// CompareAndDelete removes key only while it holds expected.
func (c *Cache) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	n, err := compareAndDeleteLua.Run(ctx, c.redis, []string{c.key(key)}, expected).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return n == 1, nil
}

var (
	_ cache.Cache = (*Cache)(nil)
	_ cache.Basic = (*Cache)(nil)
)
