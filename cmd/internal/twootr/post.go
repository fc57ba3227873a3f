package twootr

import "time"

// Post is an accepted broadcast. Seq starts at 1 and increases by one per
// author.
type Post struct {
	ID        string
	Author    string
	Text      string
	Seq       int64
	CreatedAt time.Time
}

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// HistoryQuery selects an author's posts with Seq > AfterSeq.
type HistoryQuery struct {
	Author   string
	AfterSeq *int64
	Limit    int
}

// EffectiveLimit clamps Limit into [1, MaxHistoryLimit].
func (q HistoryQuery) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultHistoryLimit
	case q.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return q.Limit
	}
}

// HistoryPage is a window of posts ordered by Seq ASC.
type HistoryPage struct {
	Posts   []Post
	HasMore bool
}
