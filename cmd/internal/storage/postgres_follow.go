package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"twootr/cmd/internal/database"
	"twootr/cmd/internal/twootr"
)

// PostgresFollowGraph implements twootr.FollowGraph over the follows table.
// The pool is owned by the caller.
type PostgresFollowGraph struct {
	pool   *pgxpool.Pool
	schema string
}

var _ twootr.FollowGraph = (*PostgresFollowGraph)(nil)

// PostgresOption configures the Postgres adapters.
type PostgresOption func(*pgSettings) error

type pgSettings struct {
	schema string
}

// WithSchema sets the schema holding the tables (default "twootr").
func WithSchema(schema string) PostgresOption {
	return func(s *pgSettings) error {
		schema = strings.TrimSpace(schema)
		if !database.ValidIdent(schema) {
			return fmt.Errorf("storage: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

func applyPostgresOptions(pool *pgxpool.Pool, opts []PostgresOption) (pgSettings, error) {
	s := pgSettings{schema: database.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&s); err != nil {
			return pgSettings{}, err
		}
	}
	if pool == nil {
		return pgSettings{}, fmt.Errorf("storage: nil pool")
	}
	return s, nil
}

// NewPostgresFollowGraph constructs a PostgresFollowGraph.
func NewPostgresFollowGraph(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresFollowGraph, error) {
	s, err := applyPostgresOptions(pool, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresFollowGraph{pool: pool, schema: s.schema}, nil
}

func (g *PostgresFollowGraph) follows() string { return database.Ident(g.schema, "follows") }

// Follow inserts the edge; an existing edge is left untouched.
func (g *PostgresFollowGraph) Follow(ctx context.Context, follower, followee string) error {
	const op = "storage.PostgresFollowGraph.Follow"
	if err := twootr.ValidateEdge(op, follower, followee); err != nil {
		return err
	}

	_, err := g.pool.Exec(ctx,
		`INSERT INTO `+g.follows()+` (follower_id, followee_id)
		 VALUES ($1, $2)
		 ON CONFLICT (follower_id, followee_id) DO NOTHING`,
		follower, followee,
	)
	if database.IsCheckViolation(err, "chk_follows_not_self") {
		return twootr.OpError{Op: op, Kind: twootr.ErrSelfFollowNotAllowed}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (g *PostgresFollowGraph) Unfollow(ctx context.Context, follower, followee string) error {
	const op = "storage.PostgresFollowGraph.Unfollow"
	if follower == "" || followee == "" {
		return twootr.OpError{Op: op, Kind: twootr.ErrInvalidUserID, Msg: "empty user id"}
	}

	if _, err := g.pool.Exec(ctx,
		`DELETE FROM `+g.follows()+` WHERE follower_id = $1 AND followee_id = $2`,
		follower, followee,
	); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FollowersOf returns followee's followers in ascending order.
func (g *PostgresFollowGraph) FollowersOf(ctx context.Context, followee string) ([]string, error) {
	return g.collect(ctx, "storage.PostgresFollowGraph.FollowersOf",
		`SELECT follower_id FROM `+g.follows()+` WHERE followee_id = $1 ORDER BY follower_id`,
		followee,
	)
}

// FollowingOf returns the users follower follows in ascending order.
func (g *PostgresFollowGraph) FollowingOf(ctx context.Context, follower string) ([]string, error) {
	return g.collect(ctx, "storage.PostgresFollowGraph.FollowingOf",
		`SELECT followee_id FROM `+g.follows()+` WHERE follower_id = $1 ORDER BY followee_id`,
		follower,
	)
}

func (g *PostgresFollowGraph) collect(ctx context.Context, op, sql string, arg string) ([]string, error) {
	rows, err := g.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
