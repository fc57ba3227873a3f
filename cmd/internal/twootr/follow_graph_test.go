package twootr

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
)

func TestMemoryFollowGraph(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewMemoryFollowGraph()

	for _, e := range [][2]string{{"a", "c"}, {"b", "c"}, {"a", "b"}, {"a", "c"}} {
		if err := g.Follow(ctx, e[0], e[1]); err != nil {
			t.Fatalf("Follow(%s,%s): %v", e[0], e[1], err)
		}
	}
	if g.Size() != 3 {
		t.Fatalf("Size=%d want=3", g.Size())
	}

	followers, _ := g.FollowersOf(ctx, "c")
	if !slices.Equal(followers, []string{"a", "b"}) {
		t.Fatalf("FollowersOf(c)=%v want=[a b]", followers)
	}
	following, _ := g.FollowingOf(ctx, "a")
	if !slices.Equal(following, []string{"b", "c"}) {
		t.Fatalf("FollowingOf(a)=%v want=[b c]", following)
	}

	if err := g.Unfollow(ctx, "a", "c"); err != nil {
		t.Fatalf("Unfollow: %v", err)
	}
	followers, _ = g.FollowersOf(ctx, "c")
	if !slices.Equal(followers, []string{"b"}) {
		t.Fatalf("FollowersOf(c)=%v want=[b]", followers)
	}
	if g.Size() != 2 {
		t.Fatalf("Size=%d want=2", g.Size())
	}

	none, err := g.FollowersOf(ctx, "nobody")
	if err != nil || len(none) != 0 {
		t.Fatalf("FollowersOf(nobody)=%v err=%v want empty", none, err)
	}
}

func TestMemoryFollowGraphRejects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewMemoryFollowGraph()

	tests := []struct {
		name     string
		follower string
		followee string
		want     error
	}{
		{name: "self", follower: "a", followee: "a", want: ErrSelfFollowNotAllowed},
		{name: "empty follower", follower: "", followee: "a", want: ErrInvalidUserID},
		{name: "empty followee", follower: "a", followee: "", want: ErrInvalidUserID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := g.Follow(ctx, tc.follower, tc.followee); !errors.Is(err, tc.want) {
				t.Fatalf("Follow err=%v want=%v", err, tc.want)
			}
		})
	}
	if g.Size() != 0 {
		t.Fatalf("Size=%d want=0", g.Size())
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := g.Follow(cancelled, "a", "b"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Follow(cancelled) err=%v want=%v", err, context.Canceled)
	}
}

func TestMemoryFollowGraphConcurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewMemoryFollowGraph()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			follower := string(rune('A' + i%26))
			_ = g.Follow(ctx, follower, "z")
			_, _ = g.FollowersOf(ctx, "z")
			if i%2 == 0 {
				_ = g.Unfollow(ctx, follower, "z")
			}
		}()
	}
	wg.Wait()

	followers, _ := g.FollowersOf(ctx, "z")
	if len(followers) != g.Size() {
		t.Fatalf("FollowersOf len=%d Size=%d", len(followers), g.Size())
	}
}
