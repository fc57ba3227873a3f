package twootr

import "sync"

// SessionRegistry maps a user id to its single live Session.
// Lookups observe either the old or the new binding, never a torn state.
type SessionRegistry struct {
	mu     sync.RWMutex
	byUser map[string]*Session
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{byUser: make(map[string]*Session)}
}

// Bind records s as the live session of s.UserID and returns the session it
// replaced, if any. The caller is responsible for terminating it.
func (r *SessionRegistry) Bind(s *Session) (superseded *Session) {
	if s == nil {
		panic("twootr: Bind with nil session")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	superseded = r.byUser[s.UserID]
	r.byUser[s.UserID] = s
	if superseded == s {
		return nil
	}
	return superseded
}

// Unbind removes whatever session is bound to userID.
func (r *SessionRegistry) Unbind(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byUser[userID]
	if ok {
		delete(r.byUser, userID)
	}
	return s, ok
}

// UnbindSession removes s only if it is still the bound session for its
// user, so a late termination of a superseded session cannot evict its
// replacement.
func (r *SessionRegistry) UnbindSession(s *Session) bool {
	if s == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byUser[s.UserID] != s {
		return false
	}
	delete(r.byUser, s.UserID)
	return true
}

// Lookup returns the receiver of userID's live session.
func (r *SessionRegistry) Lookup(userID string) (ReceiverEndPoint, bool) {
	s, ok := r.Session(userID)
	if !ok {
		return nil, false
	}
	return s.receiver, true
}

// Session returns userID's live session.
func (r *SessionRegistry) Session(userID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byUser[userID]
	return s, ok
}

// Len returns the number of bound sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Snapshot returns the currently bound sessions in no particular order.
func (r *SessionRegistry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.byUser))
	for _, s := range r.byUser {
		out = append(out, s)
	}
	return out
}
