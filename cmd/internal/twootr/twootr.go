package twootr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Twootr is the broadcast core. It is safe for concurrent use.
type Twootr struct {
	log      *slog.Logger
	verifier CredentialVerifier
	graph    FollowGraph
	posts    PostLog
	metrics  Metrics
	limits   Limits
	now      func() time.Time

	sessions *SessionRegistry

	authorsMu sync.Mutex
	authors   map[string]*authorCursor

	workers sync.WaitGroup

	lifeMu sync.RWMutex
	closed bool
}

// authorCursor serialises sequence allocation and enqueue for one author.
type authorCursor struct {
	mu     sync.Mutex
	seq    int64
	loaded bool
}

// New constructs a Twootr backed by an in-memory follow graph unless
// WithFollowGraph says otherwise.
func New(log *slog.Logger, verifier CredentialVerifier, opts ...Option) (*Twootr, error) {
	if verifier == nil {
		return nil, errors.New("twootr: nil credential verifier")
	}
	if log == nil {
		log = slog.Default()
	}

	t := &Twootr{
		log:      log,
		verifier: verifier,
		graph:    NewMemoryFollowGraph(),
		metrics:  NopMetrics{},
		limits:   DefaultLimits(),
		now:      time.Now,
		sessions: NewSessionRegistry(),
		authors:  make(map[string]*authorCursor),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Sessions exposes the registry (read-mostly; adapters use Lookup and Len).
func (t *Twootr) Sessions() *SessionRegistry { return t.sessions }

// ActiveSessions returns the number of live sessions.
func (t *Twootr) ActiveSessions() int { return t.sessions.Len() }

// Limits returns the effective limits.
func (t *Twootr) Limits() Limits { return t.limits }

// OnLogon verifies the credentials and binds a new session for userID.
// A failed verification yields (nil, false) without detail. A successful
// logon supersedes any live session of the same user.
func (t *Twootr) OnLogon(ctx context.Context, userID, secret string, receiver ReceiverEndPoint) (*Sender, bool) {
	if userID == "" {
		panic("twootr: OnLogon with empty user id")
	}
	if receiver == nil {
		panic("twootr: OnLogon with nil receiver")
	}

	ok, err := t.verifier.Verify(ctx, userID, secret)
	if err != nil {
		t.log.Warn("twootr.logon.verify_error", "user_id", userID, "err", err)
		t.metrics.LogonRejected()
		return nil, false
	}
	if !ok {
		t.log.Info("twootr.logon.rejected", "user_id", userID)
		t.metrics.LogonRejected()
		return nil, false
	}

	now := t.now().UTC()
	id, err := newSessionID(now)
	if err != nil {
		t.log.Error("twootr.logon.session_id_fail", "user_id", userID, "err", err)
		return nil, false
	}
	s := newSession(id, userID, receiver, now, t.limits.QueueSize)

	t.lifeMu.RLock()
	if t.closed {
		t.lifeMu.RUnlock()
		t.log.Info("twootr.logon.closed", "user_id", userID)
		return nil, false
	}
	prev := t.sessions.Bind(s)
	t.workers.Add(1)
	t.lifeMu.RUnlock()

	go t.runDelivery(s)

	t.metrics.SessionOpened()
	t.log.Info("twootr.logon.ok", "user_id", userID, "session_id", s.ID)

	if prev != nil {
		t.terminate(prev, ReasonSuperseded)
	}
	return &Sender{core: t, session: s}, true
}

// OnPost validates text, allocates the author's next sequence number and
// enqueues the post for every follower with a live session. Delivery
// failures are handled per follower and never returned here.
func (t *Twootr) OnPost(ctx context.Context, sender *Sender, text string) (Post, error) {
	const op = "twootr.OnPost"

	s, err := t.liveSession(op, sender)
	if err != nil {
		return Post{}, err
	}
	if err := t.validateText(op, text); err != nil {
		return Post{}, err
	}

	followers, err := t.graph.FollowersOf(ctx, s.UserID)
	if err != nil {
		return Post{}, fmt.Errorf("%s: followers of %q: %w", op, s.UserID, err)
	}

	cur := t.cursor(s.UserID)
	cur.mu.Lock()

	if !cur.loaded {
		if t.posts != nil {
			last, err := t.posts.LastSeq(ctx, s.UserID)
			if err != nil {
				cur.mu.Unlock()
				return Post{}, fmt.Errorf("%s: last seq: %w", op, err)
			}
			cur.seq = last
		}
		cur.loaded = true
	}

	now := t.now().UTC()
	id, err := newPostID(now)
	if err != nil {
		cur.mu.Unlock()
		return Post{}, fmt.Errorf("%s: post id: %w", op, err)
	}
	post := Post{
		ID:        id,
		Author:    s.UserID,
		Text:      text,
		Seq:       cur.seq + 1,
		CreatedAt: now,
	}

	if t.posts != nil {
		if err := t.posts.Append(ctx, post); err != nil {
			cur.mu.Unlock()
			return Post{}, fmt.Errorf("%s: append: %w", op, err)
		}
	}
	cur.seq = post.Seq

	var overflowed []*Session
	enqueued := 0
	for _, f := range followers {
		fs, ok := t.sessions.Session(f)
		if !ok {
			continue
		}
		switch err := fs.enqueue(post); {
		case err == nil:
			enqueued++
		case errors.Is(err, ErrQueueFull):
			overflowed = append(overflowed, fs)
		}
	}
	cur.mu.Unlock()

	for _, fs := range overflowed {
		t.deliveryFailed(fs, post, ErrQueueFull)
	}

	t.metrics.PostAccepted(enqueued)
	t.log.Debug("twootr.post.accepted",
		"author", post.Author,
		"post_id", post.ID,
		"seq", post.Seq,
		"followers", len(followers),
		"enqueued", enqueued,
	)
	return post, nil
}

// OnFollow adds sender -> target. Following twice is a no-op success.
func (t *Twootr) OnFollow(ctx context.Context, sender *Sender, target string) error {
	const op = "twootr.OnFollow"

	s, err := t.liveSession(op, sender)
	if err != nil {
		return err
	}
	if err := ValidateEdge(op, s.UserID, target); err != nil {
		return err
	}
	if err := t.graph.Follow(ctx, s.UserID, target); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	t.log.Debug("twootr.follow", "follower", s.UserID, "followee", target)
	return nil
}

// OnUnfollow removes sender -> target if present.
func (t *Twootr) OnUnfollow(ctx context.Context, sender *Sender, target string) error {
	const op = "twootr.OnUnfollow"

	s, err := t.liveSession(op, sender)
	if err != nil {
		return err
	}
	if target == "" {
		return OpError{Op: op, Kind: ErrInvalidUserID, Msg: "empty user id"}
	}
	if err := t.graph.Unfollow(ctx, s.UserID, target); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	t.log.Debug("twootr.unfollow", "follower", s.UserID, "followee", target)
	return nil
}

// OnLogoff terminates the sender's session. Logging off twice is a no-op.
func (t *Twootr) OnLogoff(_ context.Context, sender *Sender) error {
	if sender == nil || sender.session == nil {
		panic("twootr: OnLogoff with nil sender")
	}
	if sender.core != t {
		return OpError{Op: "twootr.OnLogoff", Kind: ErrNotAuthenticated, Msg: "foreign sender"}
	}

	t.terminate(sender.session, ReasonLogoff)
	return nil
}

// Close terminates every live session and waits for the delivery workers
// to exit or ctx to expire. Later logons are rejected.
func (t *Twootr) Close(ctx context.Context) error {
	t.lifeMu.Lock()
	t.closed = true
	t.lifeMu.Unlock()

	for _, s := range t.sessions.Snapshot() {
		t.terminate(s, ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		t.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Twootr) liveSession(op string, sender *Sender) (*Session, error) {
	if sender == nil || sender.session == nil {
		panic("twootr: nil sender")
	}
	if sender.core != t {
		return nil, OpError{Op: op, Kind: ErrNotAuthenticated, Msg: "foreign sender"}
	}
	if !sender.session.Active() {
		return nil, OpError{Op: op, Kind: ErrNotAuthenticated}
	}
	return sender.session, nil
}

func (t *Twootr) validateText(op, text string) error {
	if strings.TrimSpace(text) == "" {
		return OpError{Op: op, Kind: ErrInvalidContent, Msg: "empty text"}
	}
	if !utf8.ValidString(text) {
		return OpError{Op: op, Kind: ErrInvalidContent, Msg: "text is not valid utf-8"}
	}
	if n := utf8.RuneCountInString(text); n > t.limits.MaxPostChars {
		return OpError{Op: op, Kind: ErrInvalidContent, Msg: fmt.Sprintf("text too long: %d > %d", n, t.limits.MaxPostChars)}
	}
	return nil
}

func (t *Twootr) cursor(author string) *authorCursor {
	t.authorsMu.Lock()
	defer t.authorsMu.Unlock()

	c := t.authors[author]
	if c == nil {
		c = &authorCursor{}
		t.authors[author] = c
	}
	return c
}

// terminate ends s once and removes it from the registry if it is still
// the bound session of its user.
func (t *Twootr) terminate(s *Session, reason TerminationReason) bool {
	if !s.terminate(reason) {
		return false
	}
	t.sessions.UnbindSession(s)
	t.metrics.SessionClosed(reason)
	t.log.Info("twootr.session.terminated",
		"user_id", s.UserID,
		"session_id", s.ID,
		"reason", string(reason),
	)
	return true
}

func (t *Twootr) deliveryFailed(s *Session, p Post, err error) {
	cause := deliveryCause(err)
	t.metrics.DeliveryFailed(cause)
	t.log.Warn("twootr.delivery.fail",
		"user_id", s.UserID,
		"session_id", s.ID,
		"author", p.Author,
		"post_id", p.ID,
		"seq", p.Seq,
		"cause", cause,
		"err", err,
	)
	t.terminate(s, ReasonDeliveryFailed)
}
