package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"twootr/cmd/internal/twootr"
)

func seedPosts(t *testing.T, log twootr.PostLog, author string, n int) {
	t.Helper()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		p := twootr.Post{
			ID:        fmt.Sprintf("%s-%03d", author, i),
			Author:    author,
			Text:      fmt.Sprint(i),
			Seq:       int64(i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := log.Append(context.Background(), p); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
}

func ptr[T any](v T) *T { return &v }

// runPostLogContract checks seq resume and paging on any PostLog.
func runPostLogContract(t *testing.T, log twootr.PostLog, author string) {
	t.Helper()
	ctx := context.Background()

	if last, err := log.LastSeq(ctx, author); err != nil || last != 0 {
		t.Fatalf("LastSeq(empty)=%d err=%v want=0", last, err)
	}

	seedPosts(t, log, author, 5)

	if last, err := log.LastSeq(ctx, author); err != nil || last != 5 {
		t.Fatalf("LastSeq=%d err=%v want=5", last, err)
	}

	tests := []struct {
		name     string
		q        twootr.HistoryQuery
		wantSeqs []int64
		wantMore bool
	}{
		{name: "all", q: twootr.HistoryQuery{Author: author}, wantSeqs: []int64{1, 2, 3, 4, 5}},
		{name: "first page", q: twootr.HistoryQuery{Author: author, Limit: 2}, wantSeqs: []int64{1, 2}, wantMore: true},
		{name: "after 2", q: twootr.HistoryQuery{Author: author, AfterSeq: ptr[int64](2), Limit: 2}, wantSeqs: []int64{3, 4}, wantMore: true},
		{name: "last page", q: twootr.HistoryQuery{Author: author, AfterSeq: ptr[int64](4), Limit: 2}, wantSeqs: []int64{5}},
		{name: "past end", q: twootr.HistoryQuery{Author: author, AfterSeq: ptr[int64](9)}},
		{name: "other author", q: twootr.HistoryQuery{Author: author + "-other"}},
	}
	for _, tc := range tests {
		page, err := log.History(ctx, tc.q)
		if err != nil {
			t.Fatalf("%s: History: %v", tc.name, err)
		}
		var got []int64
		for _, p := range page.Posts {
			if p.Author != author || p.Text != fmt.Sprint(p.Seq) {
				t.Fatalf("%s: unexpected post %+v", tc.name, p)
			}
			got = append(got, p.Seq)
		}
		if fmt.Sprint(got) != fmt.Sprint(tc.wantSeqs) || page.HasMore != tc.wantMore {
			t.Fatalf("%s: seqs=%v more=%v want=%v more=%v", tc.name, got, page.HasMore, tc.wantSeqs, tc.wantMore)
		}
	}

	if _, err := log.History(ctx, twootr.HistoryQuery{}); !errors.Is(err, twootr.ErrInvalidUserID) {
		t.Fatalf("History(empty author) err=%v want=%v", err, twootr.ErrInvalidUserID)
	}
}

func TestMemoryPostLogContract(t *testing.T) {
	t.Parallel()
	runPostLogContract(t, NewMemoryPostLog(0), "bob")
}

func TestMemoryPostLogBoundKeepsLastSeq(t *testing.T) {
	t.Parallel()

	log := NewMemoryPostLog(3)
	seedPosts(t, log, "bob", 10)

	page, err := log.History(context.Background(), twootr.HistoryQuery{Author: "bob"})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page.Posts) != 3 || page.Posts[0].Seq != 8 {
		t.Fatalf("posts=%+v want seqs 8..10", page.Posts)
	}
	if last, _ := log.LastSeq(context.Background(), "bob"); last != 10 {
		t.Fatalf("LastSeq=%d want=10", last)
	}
}

func TestMemoryPostLogRejectsOutOfOrder(t *testing.T) {
	t.Parallel()

	log := NewMemoryPostLog(0)
	seedPosts(t, log, "bob", 2)
	if err := log.Append(context.Background(), twootr.Post{Author: "bob", Seq: 2}); err == nil {
		t.Fatalf("Append(seq=2 again) err=nil want error")
	}
}

func TestCoreResumesFromMemoryPostLog(t *testing.T) {
	t.Parallel()

	log := NewMemoryPostLog(0)
	seedPosts(t, log, "bob", 3)

	verifier := twootr.VerifierFunc(func(context.Context, string, string) (bool, error) { return true, nil })
	core, err := twootr.New(nil, verifier, twootr.WithPostLog(log))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = core.Close(context.Background()) }()

	bob, ok := core.OnLogon(context.Background(), "bob", "x", nopReceiver{})
	if !ok {
		t.Fatalf("OnLogon absent")
	}
	p, err := bob.Publish(context.Background(), "fourth")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if p.Seq != 4 {
		t.Fatalf("Seq=%d want=4", p.Seq)
	}
}

type nopReceiver struct{}

func (nopReceiver) Deliver(context.Context, twootr.Post) error { return nil }
