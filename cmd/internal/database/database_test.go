package database

import (
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestValidIdent(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"twootr", "_x", "it_01ABC"} {
		if !ValidIdent(s) {
			t.Fatalf("ValidIdent(%q)=false want=true", s)
		}
	}
	for _, s := range []string{"", "1abc", "a-b", `x"; DROP TABLE users; --`} {
		if ValidIdent(s) {
			t.Fatalf("ValidIdent(%q)=true want=false", s)
		}
	}
}

func TestIdentQuotes(t *testing.T) {
	t.Parallel()

	if got := Ident("twootr", "posts"); got != `"twootr"."posts"` {
		t.Fatalf("Ident=%s", got)
	}
}

func TestWithSearchPath(t *testing.T) {
	t.Parallel()

	got, err := withSearchPath("postgres://u:p@localhost:5432/db?sslmode=disable", "twootr")
	if err != nil {
		t.Fatalf("withSearchPath: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Query().Get("search_path") != "twootr" || u.Query().Get("sslmode") != "disable" {
		t.Fatalf("query=%v", u.Query())
	}

	if _, err := withSearchPath("host=localhost dbname=x", "twootr"); err == nil {
		t.Fatalf("keyword/value dsn accepted")
	}
	if _, err := withSearchPath("postgres://localhost/db", "bad-schema"); err == nil {
		t.Fatalf("invalid schema accepted")
	}
}

func TestParseDirection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{in: "", want: Up},
		{in: "up", want: Up},
		{in: "down", want: Down},
		{in: "sideways", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseDirection(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("ParseDirection(%q)=(%q,%v) want=(%q, err=%v)", tc.in, got, err, tc.want, tc.wantErr)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "follows_pkey"})
	check := &pgconn.PgError{Code: "23514", ConstraintName: "chk_follows_not_self"}

	if !IsUniqueViolation(unique) || IsUniqueViolation(check) {
		t.Fatalf("IsUniqueViolation misclassified")
	}
	if !IsCheckViolation(check, "chk_follows_not_self") || !IsCheckViolation(check, "") {
		t.Fatalf("IsCheckViolation missed constraint")
	}
	if IsCheckViolation(check, "chk_other") {
		t.Fatalf("IsCheckViolation matched wrong constraint")
	}
	if IsUniqueViolation(errors.New("plain")) || IsCheckViolation(errors.New("plain"), "") {
		t.Fatalf("plain error classified as a pg violation")
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"migrations/000001_init.up.sql", "migrations/000001_init.down.sql"} {
		b, err := migrationsFS.ReadFile(name)
		if err != nil || len(b) == 0 {
			t.Fatalf("ReadFile(%s) len=%d err=%v", name, len(b), err)
		}
	}
}
