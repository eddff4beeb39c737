// Package cache defines the key-value contract that short-lived authentication
// records are persisted through, plus an adapter for stores that lack an atomic
// get-and-delete primitive.
//
// # Contract
//
// A [Cache] stores opaque byte values with a per-entry absolute expiration and can
// Take a value: read and delete it in one linearizable step. Two concurrent Take
// calls for the same key never both observe the value.
//
// A [Basic] store only offers Get, Delete and a single-key CompareAndDelete.
// [Optimistic] turns a Basic store into a Cache.
//
// # Errors
//
// Implementations report backend failures wrapped with [ErrUnavailable]. A missing
// or expired key is not an error: Get and Take return ok == false.
//
// # What this package must NOT do
//
//   - Retry backend failures.
//   - Keep in-process shadow copies of stored values.
package cache

import (
	"bytes"
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps every backend failure reported by a store.
var ErrUnavailable = errors.New("cache unavailable")

// ErrInvalidTTL is returned by Set when ttl is not positive.
var ErrInvalidTTL = errors.New("cache ttl must be > 0")

// Cache is a key-value store with per-entry expiry and atomic take.
type Cache interface {
	// Set writes value under key, replacing any previous value, and makes it
	// unreachable once ttl has elapsed.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Take returns the value stored under key and deletes it. ok is false when
	// the key is absent or expired.
	Take(ctx context.Context, key string) (value []byte, ok bool, err error)
}

// Basic is the minimal store surface: no atomic take, but a conditional delete.
type Basic interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Delete(ctx context.Context, key string) error

	// CompareAndDelete deletes key only if it currently holds expected. It
	// reports whether the delete happened.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
}

const optimisticMaxRetries = 4

type optimistic struct {
	store Basic
}

// Optimistic adapts a Basic store into a Cache. Take reads the value and then
// deletes it conditionally on the value it read; when the conditional delete
// loses a race, the read is retried. After a bounded number of lost races
// Take reports the key as absent.
func Optimistic(store Basic) Cache {
	return &optimistic{store: store}
}

func (o *optimistic) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return o.store.Set(ctx, key, value, ttl)
}

func (o *optimistic) Take(ctx context.Context, key string) ([]byte, bool, error) {
	for i := 0; i < optimisticMaxRetries; i++ {
		value, ok, err := o.store.Get(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}

		deleted, err := o.store.CompareAndDelete(ctx, key, value)
		if err != nil {
			return nil, false, err
		}
		if deleted {
			return bytes.Clone(value), true, nil
		}
	}

	return nil, false, nil
}
