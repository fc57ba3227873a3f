// Package v1 defines the Twootr WebSocket protocol v1 contract.
//
// It is shared between the server adapter and clients so the wire format
// stays authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "twootr.v1"

// Type constants (wire-stable).
const (
	// TypeHello authenticates the connection (client -> server). Must be the first frame.
	TypeHello = "hello"
	// TypeHelloAck confirms a successful logon (server -> client).
	TypeHelloAck = "hello_ack"

	// TypePostSend publishes a post (client -> server).
	TypePostSend = "post_send"
	// TypePostAck returns the canonical post id and sequence (server -> client).
	TypePostAck = "post_ack"
	// TypePostNew delivers a followed author's post (server -> client).
	TypePostNew = "post_new"

	TypeFollow   = "follow"
	TypeUnfollow = "unfollow"
	TypeLogoff   = "logoff"

	// TypeAck acknowledges follow, unfollow and logoff requests.
	TypeAck = "ack"

	// TypeSessionTerminated tells the client its session ended server-side.
	TypeSessionTerminated = "session_terminated"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Error codes carried in ErrorPayload.Code.
const (
	CodeBadJSON              = "bad_json"
	CodeBadEnvelope          = "bad_envelope"
	CodeUnsupported          = "unsupported"
	CodeAuthFailed           = "auth_failed"
	CodeNotAuthenticated     = "not_authenticated"
	CodeInvalidContent       = "invalid_content"
	CodeSelfFollowNotAllowed = "self_follow_not_allowed"
	CodeInvalidUserID        = "invalid_user_id"
	CodeInternal             = "internal"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypePostSend,
		TypePostAck,
		TypePostNew,
		TypeFollow,
		TypeUnfollow,
		TypeLogoff,
		TypeAck,
		TypeSessionTerminated,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload carries the logon credentials.
type HelloPayload struct {
	UserID string `json:"user_id"`
	Secret string `json:"secret"`
}

type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type PostSendPayload struct {
	ClientMsgID string `json:"client_msg_id,omitempty"`
	Text        string `json:"text"`
}

type PostAckPayload struct {
	ClientMsgID string `json:"client_msg_id,omitempty"`
	PostID      string `json:"post_id"`
	Seq         int64  `json:"seq"`
}

// PostNewPayload is pushed to every live follower of the author.
type PostNewPayload struct {
	PostID    string    `json:"post_id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// FollowPayload is used by both follow and unfollow.
type FollowPayload struct {
	UserID string `json:"user_id"`
}

type LogoffPayload struct{}

type AckPayload struct {
	RefID string `json:"ref_id,omitempty"`
}

type SessionTerminatedPayload struct {
	Reason string `json:"reason"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
