package database

import (
	"errors"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultSchema holds every Twootr table unless configured otherwise.
const DefaultSchema = "twootr"

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdent reports whether s is a plain Postgres identifier.
func ValidIdent(s string) bool { return identRe.MatchString(s) }

// Ident quotes a schema-qualified identifier: "schema"."name".
func Ident(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// Postgres SQLSTATE codes the adapters map to domain errors.
const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
)

func pgCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", ""
	}
	return pgErr.Code, pgErr.ConstraintName
}

// IsUniqueViolation reports a unique or primary key conflict.
func IsUniqueViolation(err error) bool {
	code, _ := pgCode(err)
	return code == codeUniqueViolation
}

// IsCheckViolation reports a CHECK failure, optionally of one named constraint.
func IsCheckViolation(err error, constraint string) bool {
	code, name := pgCode(err)
	if code != codeCheckViolation {
		return false
	}
	return constraint == "" || name == constraint
}

// QuoteIdent quotes a single identifier.
func QuoteIdent(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}
