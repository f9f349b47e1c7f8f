// Package dbtest opens a migrated Postgres pool for repository tests.
// Tests are skipped unless TEST_DATABASE_URL is set.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"crm_backend/platform/db"
)

const (
	envURL = "TEST_DATABASE_URL"
	// migrationLock serializes migrations when several test binaries share one database.
	migrationLock = 7_240_311
)

type urlConfig string

func (u urlConfig) GetDatabaseURL() string { return string(u) }

// Pool returns a pool on a fully migrated database. Rows are not cleaned up,
// so tests must create their own records and never assume an empty table.
func Pool(t testing.TB) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv(envURL)
	if url == "" {
		t.Skipf("%s not set", envURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, urlConfig(url))
	if err != nil {
		t.Fatalf("connect test database: %v", err)
	}
	t.Cleanup(pool.Close)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLock); err != nil {
		t.Fatalf("lock migrations: %v", err)
	}
	defer func() { _, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLock) }()

	if err := db.RunMigrations(ctx, urlConfig(url)); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return pool
}
