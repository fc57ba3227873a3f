package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"twootr/cmd/internal/twootr"
)

const defaultRedisPrefix = "twootr:"

// RedisConfig describes how to reach Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings within two seconds.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("storage: empty redis addr")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// RedisFollowGraph implements twootr.FollowGraph with two Redis sets per
// user: <prefix>followers:<id> and <prefix>following:<id>. Both sides are
// written in one MULTI/EXEC so readers never see half an edge.
type RedisFollowGraph struct {
	client *redis.Client
	prefix string
}

var _ twootr.FollowGraph = (*RedisFollowGraph)(nil)

// NewRedisFollowGraph constructs a RedisFollowGraph. An empty prefix
// selects "twootr:".
func NewRedisFollowGraph(client *redis.Client, prefix string) (*RedisFollowGraph, error) {
	if client == nil {
		return nil, errors.New("storage: nil redis client")
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisFollowGraph{client: client, prefix: prefix}, nil
}

func (g *RedisFollowGraph) followersKey(id string) string { return g.prefix + "followers:" + id }
func (g *RedisFollowGraph) followingKey(id string) string { return g.prefix + "following:" + id }

func (g *RedisFollowGraph) Follow(ctx context.Context, follower, followee string) error {
	const op = "storage.RedisFollowGraph.Follow"
	if err := twootr.ValidateEdge(op, follower, followee); err != nil {
		return err
	}

	_, err := g.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, g.followersKey(followee), follower)
		p.SAdd(ctx, g.followingKey(follower), followee)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (g *RedisFollowGraph) Unfollow(ctx context.Context, follower, followee string) error {
	const op = "storage.RedisFollowGraph.Unfollow"
	if follower == "" || followee == "" {
		return twootr.OpError{Op: op, Kind: twootr.ErrInvalidUserID, Msg: "empty user id"}
	}

	_, err := g.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, g.followersKey(followee), follower)
		p.SRem(ctx, g.followingKey(follower), followee)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FollowersOf returns followee's followers in ascending order.
func (g *RedisFollowGraph) FollowersOf(ctx context.Context, followee string) ([]string, error) {
	return g.members(ctx, "storage.RedisFollowGraph.FollowersOf", g.followersKey(followee))
}

// FollowingOf returns the users follower follows in ascending order.
func (g *RedisFollowGraph) FollowingOf(ctx context.Context, follower string) ([]string, error) {
	return g.members(ctx, "storage.RedisFollowGraph.FollowingOf", g.followingKey(follower))
}

func (g *RedisFollowGraph) members(ctx context.Context, op, key string) ([]string, error) {
	out, err := g.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	slices.Sort(out)
	return out, nil
}
