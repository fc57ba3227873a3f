package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Direction selects which way Migrate moves the schema.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ParseDirection accepts "up", "down" or "" (up).
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "up":
		return Up, nil
	case "down":
		return Down, nil
	default:
		return "", fmt.Errorf("unknown migration direction %q", s)
	}
}

// NewMigrator builds a migrate instance over the embedded migrations that
// applies them inside schema.
func NewMigrator(databaseURL, schema string) (*migrate.Migrate, error) {
	target, err := withSearchPath(databaseURL, schema)
	if err != nil {
		return nil, err
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, target)
	if err != nil {
		return nil, fmt.Errorf("migrator: %w", err)
	}
	return m, nil
}

// Migrate creates schema if needed and applies the migrations in dir.
// Already being up to date is not an error.
func Migrate(ctx context.Context, pool *pgxpool.Pool, databaseURL, schema string, dir Direction) error {
	if err := EnsureSchema(ctx, pool, schema); err != nil {
		return err
	}

	m, err := NewMigrator(databaseURL, schema)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	switch dir {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	default:
		return fmt.Errorf("unknown migration direction %q", dir)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", dir, err)
	}
	return nil
}

// EnsureSchema runs CREATE SCHEMA IF NOT EXISTS.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if !ValidIdent(schema) {
		return errors.New("database: invalid schema identifier")
	}
	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+QuoteIdent(schema)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withSearchPath pins the migration connection to schema so the
// unqualified DDL and the schema_migrations table land there.
func withSearchPath(databaseURL, schema string) (string, error) {
	if !ValidIdent(schema) {
		return "", errors.New("database: invalid schema identifier")
	}
	u, err := url.Parse(databaseURL)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		return "", errors.New("database: migrations need a postgres:// url")
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
