package twootr

import (
	"sync"
	"time"
)

// TerminationReason records why a session left the Active state.
type TerminationReason string

const (
	ReasonLogoff         TerminationReason = "logoff"
	ReasonSuperseded     TerminationReason = "superseded"
	ReasonDeliveryFailed TerminationReason = "delivery_failed"
	ReasonShutdown       TerminationReason = "shutdown"
)

// SessionState is Active until the session is terminated. Terminated is absorbing.
type SessionState int

const (
	StateActive SessionState = iota + 1
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session is the live binding of an authenticated user to a receiver.
//
// Concurrency guarantees:
//   - enqueue and terminate serialise on mu, so nothing is enqueued after
//     done is closed and the worker can drain the queue without racing.
//   - queue is never closed; the worker exits on done.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	receiver ReceiverEndPoint
	queue    chan Post
	done     chan struct{}

	mu     sync.Mutex
	state  SessionState
	reason TerminationReason
}

func newSession(id, userID string, receiver ReceiverEndPoint, now time.Time, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		receiver:  receiver,
		queue:     make(chan Post, queueSize),
		done:      make(chan struct{}),
		state:     StateActive,
	}
}

// Receiver returns the endpoint bound at logon.
func (s *Session) Receiver() ReceiverEndPoint { return s.receiver }

// Done is closed when the session is terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Active() bool { return s.State() == StateActive }

// Reason is empty while the session is Active.
func (s *Session) Reason() TerminationReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// enqueue never blocks. It fails with ErrNotAuthenticated once terminated
// and with ErrQueueFull when the receiver has fallen too far behind.
func (s *Session) enqueue(p Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return ErrNotAuthenticated
	}
	select {
	case s.queue <- p:
		return nil
	default:
		return ErrQueueFull
	}
}

// terminate moves the session to Terminated. Only the first call wins.
func (s *Session) terminate(reason TerminationReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		return false
	}
	s.state = StateTerminated
	s.reason = reason
	close(s.done)
	return true
}
