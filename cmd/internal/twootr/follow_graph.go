package twootr

import (
	"context"
	"slices"
	"sync"
)

// MemoryFollowGraph is the default in-process FollowGraph.
// It keeps both directions so FollowingOf is as cheap as FollowersOf.
type MemoryFollowGraph struct {
	mu        sync.RWMutex
	followers map[string]map[string]struct{} // followee -> followers
	following map[string]map[string]struct{} // follower -> followees
	size      int
}

var _ FollowGraph = (*MemoryFollowGraph)(nil)

// NewMemoryFollowGraph constructs an empty graph.
func NewMemoryFollowGraph() *MemoryFollowGraph {
	return &MemoryFollowGraph{
		followers: make(map[string]map[string]struct{}),
		following: make(map[string]map[string]struct{}),
	}
}

// ValidateEdge rejects empty ids and self-follows. Durable graphs share it.
func ValidateEdge(op, follower, followee string) error {
	if follower == "" || followee == "" {
		return OpError{Op: op, Kind: ErrInvalidUserID, Msg: "empty user id"}
	}
	if follower == followee {
		return OpError{Op: op, Kind: ErrSelfFollowNotAllowed}
	}
	return nil
}

// Follow adds follower -> followee. Following twice is a no-op.
func (g *MemoryFollowGraph) Follow(ctx context.Context, follower, followee string) error {
	const op = "twootr.MemoryFollowGraph.Follow"
	if err := ValidateEdge(op, follower, followee); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	fs := g.followers[followee]
	if fs == nil {
		fs = make(map[string]struct{})
		g.followers[followee] = fs
	}
	if _, ok := fs[follower]; ok {
		return nil
	}
	fs[follower] = struct{}{}

	fg := g.following[follower]
	if fg == nil {
		fg = make(map[string]struct{})
		g.following[follower] = fg
	}
	fg[followee] = struct{}{}

	g.size++
	return nil
}

// Unfollow removes follower -> followee if present.
func (g *MemoryFollowGraph) Unfollow(ctx context.Context, follower, followee string) error {
	if follower == "" || followee == "" {
		return OpError{Op: "twootr.MemoryFollowGraph.Unfollow", Kind: ErrInvalidUserID, Msg: "empty user id"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	fs := g.followers[followee]
	if _, ok := fs[follower]; !ok {
		return nil
	}
	delete(fs, follower)
	if len(fs) == 0 {
		delete(g.followers, followee)
	}

	fg := g.following[follower]
	delete(fg, followee)
	if len(fg) == 0 {
		delete(g.following, follower)
	}

	g.size--
	return nil
}

// FollowersOf returns a sorted copy of followee's followers.
func (g *MemoryFollowGraph) FollowersOf(ctx context.Context, followee string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.followers[followee]), nil
}

// FollowingOf returns a sorted copy of the users follower follows.
func (g *MemoryFollowGraph) FollowingOf(ctx context.Context, follower string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.following[follower]), nil
}

// Size returns the number of edges.
func (g *MemoryFollowGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.size
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
