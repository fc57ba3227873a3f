package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"twootr/cmd/internal/twootr"
)

const defaultMemoryPostsPerAuthor = 10_000

// MemoryPostLog is a bounded in-process twootr.PostLog for development.
// Each author keeps at most maxPerAuthor recent posts; LastSeq survives
// trimming.
type MemoryPostLog struct {
	maxPerAuthor int

	mu      sync.Mutex
	authors map[string]*memAuthor
}

type memAuthor struct {
	last  int64
	posts []twootr.Post // ordered by seq
}

var _ twootr.PostLog = (*MemoryPostLog)(nil)

// NewMemoryPostLog constructs a MemoryPostLog. maxPerAuthor <= 0 selects
// the default bound.
func NewMemoryPostLog(maxPerAuthor int) *MemoryPostLog {
	if maxPerAuthor <= 0 {
		maxPerAuthor = defaultMemoryPostsPerAuthor
	}
	return &MemoryPostLog{
		maxPerAuthor: maxPerAuthor,
		authors:      make(map[string]*memAuthor),
	}
}

func (l *MemoryPostLog) Append(ctx context.Context, p twootr.Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.authors[p.Author]
	if a == nil {
		a = &memAuthor{}
		l.authors[p.Author] = a
	}
	if p.Seq <= a.last {
		return fmt.Errorf("storage.MemoryPostLog.Append: seq %d not after %d for %q", p.Seq, a.last, p.Author)
	}

	a.last = p.Seq
	a.posts = append(a.posts, p)
	if len(a.posts) > l.maxPerAuthor {
		a.posts = a.posts[len(a.posts)-l.maxPerAuthor:]
	}
	return nil
}

func (l *MemoryPostLog) LastSeq(ctx context.Context, author string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if a := l.authors[author]; a != nil {
		return a.last, nil
	}
	return 0, nil
}

func (l *MemoryPostLog) History(ctx context.Context, q twootr.HistoryQuery) (twootr.HistoryPage, error) {
	if q.Author == "" {
		return twootr.HistoryPage{}, twootr.OpError{Op: "storage.MemoryPostLog.History", Kind: twootr.ErrInvalidUserID, Msg: "empty author"}
	}
	if err := ctx.Err(); err != nil {
		return twootr.HistoryPage{}, err
	}

	limit := q.EffectiveLimit()

	l.mu.Lock()
	var snap []twootr.Post
	if a := l.authors[q.Author]; a != nil {
		snap = a.posts
	}

	start := 0
	if q.AfterSeq != nil {
		after := *q.AfterSeq
		start = sort.Search(len(snap), func(i int) bool { return snap[i].Seq > after })
	}
	end := min(start+limit+1, len(snap))
	out := append([]twootr.Post(nil), snap[start:end]...)
	l.mu.Unlock()

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return twootr.HistoryPage{Posts: out, HasMore: hasMore}, nil
}
