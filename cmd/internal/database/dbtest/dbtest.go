// Package dbtest provides Postgres fixtures for integration tests.
//
// Tests using it are skipped unless TWOOTR_DATABASE_URL is set. Outside CI
// an unreachable server also skips them.
package dbtest

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"twootr/cmd/identity/ids"
	"twootr/cmd/internal/database"
)

const envDatabaseURL = "TWOOTR_DATABASE_URL"

// OpenPool connects to TWOOTR_DATABASE_URL or skips the test.
func OpenPool(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(envDatabaseURL))
	if raw == "" {
		t.Skip("integration test skipped: " + envDatabaseURL + " is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	pool, err := database.NewPool(ctx, database.PoolConfig{URL: raw})
	if err != nil {
		if shouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool, raw
}

// NewSchema creates a throwaway schema, migrates it and drops it on cleanup.
func NewSchema(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()

	pool, raw := OpenPool(t)

	id, err := ids.NewULID(time.Now())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	schema := "twootr_it_" + strings.ToLower(id)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := database.Migrate(ctx, pool, raw, schema, database.Up); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+database.QuoteIdent(schema)+` CASCADE`)
	})
	return pool, schema
}

func shouldSkip(err error) bool {
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "deadline exceeded", "timeout", "dial tcp", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
