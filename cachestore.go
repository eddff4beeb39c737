package authkit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/torutek/authkit/cache"
	"github.com/torutek/authkit/cache/memorycache"
	"github.com/torutek/authkit/cache/rediscache"
	"github.com/torutek/authkit/cache/sqlcache"
	"github.com/torutek/authkit/cache/valkeycache"
	"github.com/torutek/authkit/internal/rate"
	"github.com/valkey-io/valkey-go"
)

// openedStore is a backend the Engine created itself and therefore owns.
type openedStore struct {
	cache   cache.Cache
	closers []func() error
	purge   func(ctx context.Context) (int64, error)
	// counter is set when the backend can also hold shared rate counters.
	counter rate.Counter
}

func (s *openedStore) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type basicCache interface {
	cache.Cache
	cache.Basic
}

func selectMode(c basicCache, optimistic bool) cache.Cache {
	if optimistic {
		return cache.Optimistic(c)
	}
	return c
}

// openStore builds the backend named by cfg.Backend and checks it is reachable.
func openStore(ctx context.Context, cfg CacheConfig, now func() time.Time) (*openedStore, error) {
	switch cfg.Backend {
	case CacheMemory, "":
		mc := memorycache.New(
			memorycache.WithSweepInterval(cfg.MemorySweepInterval),
			memorycache.WithClock(now),
		)
		return &openedStore{
			cache:   selectMode(mc, cfg.Optimistic),
			closers: []func() error{mc.Close},
		}, nil

	case CacheRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("%w: redis ping: %v", ErrNonceStoreUnavailable, err)
		}
		return &openedStore{
			cache:   selectMode(rediscache.New(rdb, cfg.RedisPrefix), cfg.Optimistic),
			closers: []func() error{rdb.Close},
			counter: rate.NewRedisCounter(rdb, cfg.RedisPrefix),
		}, nil

	case CacheValkey:
		client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{cfg.ValkeyAddr}})
		if err != nil {
			return nil, fmt.Errorf("%w: valkey connect: %v", ErrNonceStoreUnavailable, err)
		}
		return &openedStore{
			cache:   selectMode(valkeycache.New(client, cfg.RedisPrefix), cfg.Optimistic),
			closers: []func() error{func() error { client.Close(); return nil }},
		}, nil

	case CachePostgres:
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("%w: open postgres: %v", ErrNonceStoreUnavailable, err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: postgres ping: %v", ErrNonceStoreUnavailable, err)
		}
		sc, err := sqlcache.New(db, sqlcache.Config{Table: cfg.SQLTable, Now: now})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := sc.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: migrate: %v", ErrNonceStoreUnavailable, err)
		}
		return &openedStore{
			cache:   selectMode(sc, cfg.Optimistic),
			closers: []func() error{db.Close},
			purge:   sc.Purge,
		}, nil
	}

	return nil, fmt.Errorf("%w: unknown cache backend %q", ErrInvalidConfig, cfg.Backend)
}
