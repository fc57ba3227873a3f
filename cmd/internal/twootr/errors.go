package twootr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (stable for errors.Is and for mapping to wire error codes).
var (
	ErrNotAuthenticated     = errors.New("not_authenticated")
	ErrInvalidContent       = errors.New("invalid_content")
	ErrSelfFollowNotAllowed = errors.New("self_follow_not_allowed")
	ErrInvalidUserID        = errors.New("invalid_user_id")

	// Delivery kinds never reach the caller of OnPost. They are logged and
	// counted, and end the follower's session.
	ErrDeliveryFailed  = errors.New("delivery_failed")
	ErrDeliveryTimeout = errors.New("delivery_timeout")
	ErrQueueFull       = errors.New("queue_full")
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Msg may carry human-readable context; never secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// IsNotAuthenticated reports whether err represents ErrNotAuthenticated.
func IsNotAuthenticated(err error) bool { return errors.Is(err, ErrNotAuthenticated) }

// IsInvalidContent reports whether err represents ErrInvalidContent.
func IsInvalidContent(err error) bool { return errors.Is(err, ErrInvalidContent) }

// deliveryCause maps a delivery error to a low-cardinality label.
func deliveryCause(err error) string {
	switch {
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ErrDeliveryTimeout):
		return "timeout"
	default:
		return "error"
	}
}
