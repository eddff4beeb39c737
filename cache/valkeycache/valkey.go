// Package valkeycache implements [cache.Cache] on Valkey. Take maps directly
// onto the server's GETDEL command.
package valkeycache

import (
	"context"
	"fmt"
	"time"

	"github.com/torutek/authkit/cache"
	"github.com/valkey-io/valkey-go"
)

var compareAndDeleteScript = valkey.NewLuaScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Cache stores values in Valkey under an optional key prefix.
type Cache struct {
	client valkey.Client
	prefix string
}

// New returns a Cache using client. prefix is prepended to every key.
func New(client valkey.Client, prefix string) *Cache {
	return &Cache{
		client: client,
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
	cmd := c.client.B().Set().Key(c.key(key)).Value(valkey.BinaryString(value)).Px(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: storing key in Valkey: %v", cache.ErrUnavailable, err)
	}
	return nil
}

// Get reads key without removing it.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cmd := c.client.B().Get().Key(c.key(key)).Build()
	return c.bytes(c.client.Do(ctx, cmd), "reading key from Valkey")
}

// Take removes and returns key with a single GETDEL.
func (c *Cache) Take(ctx context.Context, key string) ([]byte, bool, error) {
	cmd := c.client.B().Getdel().Key(c.key(key)).Build()
	return c.bytes(c.client.Do(ctx, cmd), "taking key from Valkey")
}

// Delete removes key. Absent keys are not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	cmd := c.client.B().Del().Key(c.key(key)).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: deleting key from Valkey: %v", cache.ErrUnavailable, err)
	}
	return nil
}

// CompareAndDelete deletes key only while it still holds expected.
func (c *Cache) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	n, err := compareAndDeleteScript.Exec(ctx, c.client, []string{c.key(key)}, []string{valkey.BinaryString(expected)}).AsInt64()
	if err != nil {
		return false, fmt.Errorf("%w: compare-and-delete in Valkey: %v", cache.ErrUnavailable, err)
	}
	return n == 1, nil
}

func (c *Cache) bytes(result valkey.ValkeyResult, op string) ([]byte, bool, error) {
	data, err := result.AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", cache.ErrUnavailable, op, err)
	}
	return data, true, nil
}

var (
	_ cache.Cache = (*Cache)(nil)
	_ cache.Basic = (*Cache)(nil)
)
