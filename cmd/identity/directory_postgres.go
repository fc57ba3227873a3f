package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"twootr/cmd/internal/database"
)

// PostgresDirectory implements Directory over the users table.
// The pool is owned by the caller; the directory never closes it.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
	now    func() time.Time
}

var _ Directory = (*PostgresDirectory)(nil)

// PostgresOption configures the directory.
type PostgresOption func(*PostgresDirectory) error

// WithSchema sets the schema holding the users table (default "twootr").
func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !database.ValidIdent(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{
		pool:   pool,
		schema: database.DefaultSchema,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return d, nil
}

func (d *PostgresDirectory) users() string { return database.Ident(d.schema, "users") }

func (d *PostgresDirectory) CreateUser(ctx context.Context, userID, passwordHash string) error {
	const op = "identity.PostgresDirectory.CreateUser"
	if passwordHash == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty password hash"}
	}

	now := d.now().UTC()
	_, err := d.pool.Exec(ctx,
		`INSERT INTO `+d.users()+` (id, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)`,
		userID, passwordHash, now,
	)
	switch {
	case err == nil:
		return nil
	case database.IsUniqueViolation(err):
		return ConflictError{Op: op, UserID: userID}
	case database.IsCheckViolation(err, ""):
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "user id rejected by schema"}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (d *PostgresDirectory) PasswordHash(ctx context.Context, userID string) (string, error) {
	const op = "identity.PostgresDirectory.PasswordHash"

	var h string
	err := d.pool.QueryRow(ctx,
		`SELECT password_hash FROM `+d.users()+` WHERE id = $1`,
		userID,
	).Scan(&h)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", NotFoundError{Op: op, UserID: userID}
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return h, nil
}

func (d *PostgresDirectory) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	const op = "identity.PostgresDirectory.UpdatePasswordHash"
	if passwordHash == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty password hash"}
	}

	tag, err := d.pool.Exec(ctx,
		`UPDATE `+d.users()+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, passwordHash, d.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, UserID: userID}
	}
	return nil
}

func (d *PostgresDirectory) ListUsers(ctx context.Context) ([]string, error) {
	const op = "identity.PostgresDirectory.ListUsers"

	rows, err := d.pool.Query(ctx, `SELECT id FROM `+d.users()+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}
