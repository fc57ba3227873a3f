package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"twootr/cmd/internal/twootr"
	v1 "twootr/shared/contracts/twootr/v1"

	"github.com/coder/websocket"
)

var errConnClosed = errors.New("realtime: connection closed")

// wsReceiver is the ReceiverEndPoint bound to one socket. Deliveries wait
// for ready so the hello_ack is always the first frame a client sees.
type wsReceiver struct {
	client       *Client
	ready        chan struct{}
	writeTimeout time.Duration
	shutdown     func(code websocket.StatusCode, reason string)
}

var (
	_ twootr.ReceiverEndPoint    = (*wsReceiver)(nil)
	_ twootr.TerminationListener = (*wsReceiver)(nil)
)

func newWSReceiver(client *Client, writeTimeout time.Duration, shutdown func(websocket.StatusCode, string)) *wsReceiver {
	return &wsReceiver{
		client:       client,
		ready:        make(chan struct{}),
		writeTimeout: writeTimeout,
		shutdown:     shutdown,
	}
}

func (r *wsReceiver) markReady() { close(r.ready) }

// Deliver queues a post_new frame, blocking until there is room, the socket
// goes away, or ctx expires.
func (r *wsReceiver) Deliver(ctx context.Context, p twootr.Post) error {
	select {
	case <-r.ready:
	case <-r.client.Done():
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	payload, err := json.Marshal(v1.PostNewPayload{
		PostID:    p.ID,
		Author:    p.Author,
		Text:      p.Text,
		Seq:       p.Seq,
		CreatedAt: p.CreatedAt,
	})
	if err != nil {
		return err
	}
	o := outbound{env: newEnvelope(v1.TypePostNew, payload, time.Now().UTC())}

	select {
	case r.client.Send <- o:
		return nil
	case <-r.client.Done():
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionTerminated sends session_terminated as the socket's last frame.
func (r *wsReceiver) SessionTerminated(reason twootr.TerminationReason) {
	payload, _ := json.Marshal(v1.SessionTerminatedPayload{Reason: string(reason)})
	o := outbound{
		env:    newEnvelope(v1.TypeSessionTerminated, payload, time.Now().UTC()),
		final:  true,
		code:   closeCodeFor(reason),
		reason: string(reason),
	}

	t := time.NewTimer(r.writeTimeout)
	defer t.Stop()

	select {
	case r.client.Send <- o:
	case <-r.client.Done():
	case <-t.C:
		r.shutdown(o.code, o.reason)
	}
}

func closeCodeFor(reason twootr.TerminationReason) websocket.StatusCode {
	switch reason {
	case twootr.ReasonShutdown:
		return websocket.StatusGoingAway
	case twootr.ReasonDeliveryFailed:
		return websocket.StatusTryAgainLater
	default:
		return websocket.StatusNormalClosure
	}
}
