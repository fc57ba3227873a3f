package realtime

import (
	"sync"

	v1 "twootr/shared/contracts/twootr/v1"

	"github.com/coder/websocket"
)

// outbound is one frame for the writer goroutine. A final frame closes the
// socket with code/reason once written.
type outbound struct {
	env    v1.Envelope
	final  bool
	code   websocket.StatusCode
	reason string
}

// Client represents one connected websocket.
//
// Send is never closed by the server; done signals every goroutine touching
// the client to stop. Close is idempotent.
type Client struct {
	ConnID string
	UserID string
	Send   chan outbound

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID: connID,
		Send:   make(chan outbound, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer enqueues without blocking.
func (c *Client) offer(o outbound) bool {
	select {
	case <-c.done:
		return false
	case c.Send <- o:
		return true
	default:
		return false
	}
}
