package twootr

import (
	"context"
	"fmt"
	"time"
)

// runDelivery is the per-session worker. It delivers queued posts in order
// until the session ends. Posts queued before a logoff or supersede are
// still delivered; a delivery failure or shutdown drops the rest.
func (t *Twootr) runDelivery(s *Session) {
	defer t.workers.Done()
	defer t.notifyTerminated(s)

	for {
		select {
		case p := <-s.queue:
			if !t.keepDelivering(s) {
				return
			}
			if err := t.deliver(s, p); err != nil {
				t.deliveryFailed(s, p, err)
				return
			}
		case <-s.done:
			t.drain(s)
			return
		}
	}
}

// drain flushes what was enqueued before termination. No enqueue can
// happen after done is closed, so an empty queue means we are finished.
func (t *Twootr) drain(s *Session) {
	for {
		if !t.keepDelivering(s) {
			return
		}
		select {
		case p := <-s.queue:
			if err := t.deliver(s, p); err != nil {
				t.metrics.DeliveryFailed(deliveryCause(err))
				t.log.Warn("twootr.delivery.drain_fail",
					"user_id", s.UserID,
					"session_id", s.ID,
					"post_id", p.ID,
					"err", err,
				)
				return
			}
		default:
			return
		}
	}
}

func (t *Twootr) keepDelivering(s *Session) bool {
	switch s.Reason() {
	case ReasonDeliveryFailed, ReasonShutdown:
		return false
	default:
		return true
	}
}

// deliver runs one Deliver call bounded by the delivery timeout. A receiver
// that ignores ctx is abandoned after the timeout.
func (t *Twootr) deliver(s *Session, p Post) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.limits.DeliveryTimeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("%w: receiver panic: %v", ErrDeliveryFailed, r)
			}
		}()
		errCh <- s.receiver.Deliver(ctx, p)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		}
		t.metrics.DeliverySucceeded(time.Since(start))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, ErrDeliveryTimeout)
	}
}

func (t *Twootr) notifyTerminated(s *Session) {
	l, ok := s.receiver.(TerminationListener)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("twootr.session.listener_panic", "session_id", s.ID, "panic", r)
		}
	}()
	l.SessionTerminated(s.Reason())
}
