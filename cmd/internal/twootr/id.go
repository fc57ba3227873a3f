package twootr

import (
	"time"

	"twootr/cmd/identity/ids"
)

// newSessionID returns a ULID used as session id.
func newSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// newPostID returns a ULID used as post id. Post ids of one author sort in
// seq order.
func newPostID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
