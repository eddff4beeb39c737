package sqlcache

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/torutek/authkit/cache"
)

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newSQLCacheTest(t *testing.T) (*Cache, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	c, err := New(db, Config{Table: "nonces", Now: func() time.Time { return fixedNow }})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, mock
}

func TestNewRequiresDB(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestMigrateCreatesTable(t *testing.T) {
	c, mock := newSQLCacheTest(t)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "nonces"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := c.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSetUpsertsWithAbsoluteExpiry(t *testing.T) {
	c, mock := newSQLCacheTest(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "nonces" (key, value, expires_at) VALUES ($1, $2, $3) ON CONFLICT (key)`)).
		WithArgs("n1", []byte("user-42"), fixedNow.Add(10*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := c.Set(context.Background(), "n1", []byte("user-42"), 10*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestTakeDeletesReturningValue(t *testing.T) {
	c, mock := newSQLCacheTest(t)
	take := regexp.QuoteMeta(`DELETE FROM "nonces" WHERE key = $1 AND expires_at > $2 RETURNING value`)

	mock.ExpectQuery(take).
		WithArgs("n1", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("user-42")))
	mock.ExpectQuery(take).
		WithArgs("n1", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	v, ok, err := c.Take(context.Background(), "n1")
	if err != nil || !ok || string(v) != "user-42" {
		t.Fatalf("first take = %q, %v, %v", v, ok, err)
	}
	_, ok, err = c.Take(context.Background(), "n1")
	if err != nil || ok {
		t.Fatalf("second take = %v, %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCompareAndDeleteUsesRowsAffected(t *testing.T) {
	c, mock := newSQLCacheTest(t)
	cas := regexp.QuoteMeta(`DELETE FROM "nonces" WHERE key = $1 AND value = $2 AND expires_at > $3`)

	mock.ExpectExec(cas).WithArgs("n1", []byte("a"), fixedNow).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(cas).WithArgs("n1", []byte("a"), fixedNow).WillReturnResult(sqlmock.NewResult(0, 1))

	if ok, err := c.CompareAndDelete(context.Background(), "n1", []byte("a")); err != nil || ok {
		t.Fatalf("first = %v, %v", ok, err)
	}
	if ok, err := c.CompareAndDelete(context.Background(), "n1", []byte("a")); err != nil || !ok {
		t.Fatalf("second = %v, %v", ok, err)
	}
}

func TestPurgeRemovesExpiredRows(t *testing.T) {
	c, mock := newSQLCacheTest(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "nonces" WHERE expires_at <= $1`)).
		WithArgs(fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := c.Purge(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("Purge = %d, %v", n, err)
	}
}

func TestBackendErrorsAreWrapped(t *testing.T) {
	c, mock := newSQLCacheTest(t)
	mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM "nonces"`)).
		WillReturnError(errors.New("connection refused"))

	_, _, err := c.Take(context.Background(), "n1")
	if !errors.Is(err, cache.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
