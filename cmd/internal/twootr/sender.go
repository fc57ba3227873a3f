package twootr

import "context"

// Sender is the SenderEndPoint handed out by OnLogon. It stays bound to one
// session; once that session ends every call fails with ErrNotAuthenticated.
type Sender struct {
	core    *Twootr
	session *Session
}

var _ SenderEndPoint = (*Sender)(nil)

func (s *Sender) UserID() string    { return s.session.UserID }
func (s *Sender) SessionID() string { return s.session.ID }
func (s *Sender) Active() bool      { return s.session.Active() }

// Session returns the bound session.
func (s *Sender) Session() *Session { return s.session }

func (s *Sender) Post(ctx context.Context, text string) error {
	_, err := s.core.OnPost(ctx, s, text)
	return err
}

// Publish is Post returning the accepted post (id and seq for acks).
func (s *Sender) Publish(ctx context.Context, text string) (Post, error) {
	return s.core.OnPost(ctx, s, text)
}

func (s *Sender) Follow(ctx context.Context, userID string) error {
	return s.core.OnFollow(ctx, s, userID)
}

func (s *Sender) Unfollow(ctx context.Context, userID string) error {
	return s.core.OnUnfollow(ctx, s, userID)
}

func (s *Sender) Logoff(ctx context.Context) error {
	return s.core.OnLogoff(ctx, s)
}
