package realtime

import "github.com/google/uuid"

// newEnvelopeID returns a random id for server-originated envelopes.
func newEnvelopeID() string {
	return uuid.NewString()
}

// newConnID identifies a socket in logs before (and after) it has a session.
func newConnID() string {
	return uuid.NewString()
}
