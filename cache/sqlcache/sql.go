// Package sqlcache implements [cache.Cache] on a PostgreSQL table.
//
// Rows carry an absolute expires_at. Reads ignore expired rows, so expiry is
// exact even though rows are only reclaimed by [Cache.Purge]. Take is a single
// DELETE ... RETURNING statement, which PostgreSQL executes atomically per row.
package sqlcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/torutek/authkit/cache"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "authkit_cache"

// Config selects the table and clock. An empty Table uses DefaultTable.
type Config struct {
	Table string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Cache stores values in one table keyed by text.
type Cache struct {
	db  *sql.DB
	now func() time.Time

	migrateSQL string
	setSQL     string
	getSQL     string
	takeSQL    string
	deleteSQL  string
	casSQL     string
	purgeSQL   string
}

// New prepares the statements for cfg.Table. It does not touch the database;
// call Migrate to create the table.
func New(db *sql.DB, cfg Config) (*Cache, error) {
	if db == nil {
		return nil, errors.New("sqlcache: db is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	t := pq.QuoteIdentifier(cfg.Table)
	return &Cache{
		db:  db,
		now: cfg.Now,

		migrateSQL: "CREATE TABLE IF NOT EXISTS " + t + " (key TEXT PRIMARY KEY, value BYTEA NOT NULL, expires_at TIMESTAMPTZ NOT NULL)",
		setSQL: "INSERT INTO " + t + " (key, value, expires_at) VALUES ($1, $2, $3) " +
			"ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at",
		getSQL:    "SELECT value FROM " + t + " WHERE key = $1 AND expires_at > $2",
		takeSQL:   "DELETE FROM " + t + " WHERE key = $1 AND expires_at > $2 RETURNING value",
		deleteSQL: "DELETE FROM " + t + " WHERE key = $1",
		casSQL:    "DELETE FROM " + t + " WHERE key = $1 AND value = $2 AND expires_at > $3",
		purgeSQL:  "DELETE FROM " + t + " WHERE expires_at <= $1",
	}, nil
}

// Migrate creates the backing table if it does not exist.
func (c *Cache) Migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, c.migrateSQL); err != nil {
		return fmt.Errorf("%w: migrate: %v", cache.ErrUnavailable, err)
	}
	return nil
}

// Set upserts key with an expiry of now + ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return cache.ErrInvalidTTL
	}
	if _, err := c.db.ExecContext(ctx, c.setSQL, key, value, c.now().Add(ttl)); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

// Get reads a live row.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return c.scanValue(c.db.QueryRowContext(ctx, c.getSQL, key, c.now()))
}

// Take deletes a live row and returns its value in one DELETE ... RETURNING.
func (c *Cache) Take(ctx context.Context, key string) ([]byte, bool, error) {
	return c.scanValue(c.db.QueryRowContext(ctx, c.takeSQL, key, c.now()))
}

// Delete removes key whether or not it has expired.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, c.deleteSQL, key); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

// CompareAndDelete deletes key only while its live row holds expected.
func (c *Cache) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	res, err := c.db.ExecContext(ctx, c.casSQL, key, expected, c.now())
	if err != nil {
		return false, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return n == 1, nil
}

// Purge deletes expired rows and reports how many were removed.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, c.purgeSQL, c.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return n, nil
}

func (c *Cache) scanValue(row *sql.Row) ([]byte, bool, error) {
	var value []byte
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return value, true, nil
}

var (
	_ cache.Cache = (*Cache)(nil)
	_ cache.Basic = (*Cache)(nil)
)
