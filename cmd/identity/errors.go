package identity

import (
	"errors"
	"fmt"
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Msg may include human-readable context; never secrets.
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

// ConflictError reports that a user id is already registered.
type ConflictError struct {
	Op     string
	UserID string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s: %v: user %q", e.Op, ErrConflict, e.UserID)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports an unknown user id.
type NotFoundError struct {
	Op     string
	UserID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s: %v: user %q", e.Op, ErrNotFound, e.UserID)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
