package storage

import (
	"context"
	"errors"
	"testing"

	"twootr/cmd/internal/database/dbtest"
	"twootr/cmd/internal/twootr"
)

// Integration tests are opt-in and require TWOOTR_DATABASE_URL.

func TestPostgresFollowGraphContract(t *testing.T) {
	t.Parallel()

	pool, schema := dbtest.NewSchema(t)
	g, err := NewPostgresFollowGraph(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresFollowGraph: %v", err)
	}
	runFollowGraphContract(t, g, "")
}

func TestPostgresPostLogContract(t *testing.T) {
	t.Parallel()

	pool, schema := dbtest.NewSchema(t)
	l, err := NewPostgresPostLog(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresPostLog: %v", err)
	}
	runPostLogContract(t, l, "bob")

	dup := twootr.Post{ID: "dup", Author: "bob", Seq: 1, Text: "again"}
	if err := l.Append(context.Background(), dup); err == nil {
		t.Fatalf("Append(duplicate seq) err=nil want error")
	}
}

func TestPostgresAdaptersRejectBadConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresFollowGraph(nil); err == nil {
		t.Fatalf("nil pool accepted")
	}
	if _, err := NewPostgresPostLog(nil, WithSchema("x;y")); err == nil {
		t.Fatalf("bad schema accepted")
	}
	if _, err := NewRedisFollowGraph(nil, ""); err == nil {
		t.Fatalf("nil redis client accepted")
	}
	_, err := NewRedisClient(context.Background(), RedisConfig{})
	if err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("NewRedisClient(empty addr) err=%v want config error", err)
	}
}
