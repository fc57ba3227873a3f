package twootr

import (
	"context"
	"time"
)

// ReceiverEndPoint is the core -> client capability. Deliver must honour ctx;
// a call that outlives the delivery timeout is treated as a failed delivery.
type ReceiverEndPoint interface {
	Deliver(ctx context.Context, post Post) error
}

// TerminationListener may be implemented by a ReceiverEndPoint that wants to
// learn why its session ended. It is called once, after the session's
// delivery queue has been drained or dropped.
type TerminationListener interface {
	SessionTerminated(reason TerminationReason)
}

// SenderEndPoint is the client -> core capability. The session identity is
// implicit; every method fails with ErrNotAuthenticated once the session is
// terminated.
type SenderEndPoint interface {
	Post(ctx context.Context, text string) error
	Follow(ctx context.Context, userID string) error
	Unfollow(ctx context.Context, userID string) error
	Logoff(ctx context.Context) error
}

// CredentialVerifier decides whether secret authenticates userID.
// Unknown users and wrong secrets must both yield (false, nil).
type CredentialVerifier interface {
	Verify(ctx context.Context, userID, secret string) (bool, error)
}

// VerifierFunc adapts a function to CredentialVerifier.
type VerifierFunc func(ctx context.Context, userID, secret string) (bool, error)

func (f VerifierFunc) Verify(ctx context.Context, userID, secret string) (bool, error) {
	return f(ctx, userID, secret)
}

// FollowGraph stores directed follower -> followee edges with set semantics.
type FollowGraph interface {
	Follow(ctx context.Context, follower, followee string) error
	Unfollow(ctx context.Context, follower, followee string) error
	FollowersOf(ctx context.Context, followee string) ([]string, error)
}

// PostLog is an optional durable record of accepted posts.
//
// Requirements:
//   - Append is called in sequence order per author.
//   - LastSeq returns 0 for an author with no posts.
//   - History is ordered by seq ASC.
type PostLog interface {
	Append(ctx context.Context, post Post) error
	LastSeq(ctx context.Context, author string) (int64, error)
	History(ctx context.Context, q HistoryQuery) (HistoryPage, error)
}

// Metrics receives core lifecycle events.
type Metrics interface {
	SessionOpened()
	SessionClosed(reason TerminationReason)
	LogonRejected()
	PostAccepted(fanout int)
	DeliverySucceeded(latency time.Duration)
	DeliveryFailed(cause string)
}

// NopMetrics discards every event.
type NopMetrics struct{}

func (NopMetrics) SessionOpened()                  {}
func (NopMetrics) SessionClosed(TerminationReason) {}
func (NopMetrics) LogonRejected()                  {}
func (NopMetrics) PostAccepted(int)                {}
func (NopMetrics) DeliverySucceeded(time.Duration) {}
func (NopMetrics) DeliveryFailed(string)           {}
