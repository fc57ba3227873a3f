package twootr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// staticVerifier accepts a secret of "pw-" + user id.
func staticVerifier() CredentialVerifier {
	return VerifierFunc(func(_ context.Context, userID, secret string) (bool, error) {
		return secret == "pw-"+userID, nil
	})
}

func newTestCore(t *testing.T, opts ...Option) *Twootr {
	t.Helper()

	opts = append([]Option{WithLimits(Limits{DeliveryTimeout: 200 * time.Millisecond})}, opts...)
	core, err := New(testLogger(), staticVerifier(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = core.Close(ctx)
	})
	return core
}

func mustLogon(t *testing.T, core *Twootr, userID string, r ReceiverEndPoint) *Sender {
	t.Helper()

	s, ok := core.OnLogon(context.Background(), userID, "pw-"+userID, r)
	if !ok || s == nil {
		t.Fatalf("OnLogon(%q) ok=%v sender=%v want present", userID, ok, s)
	}
	return s
}

// recordingReceiver captures every delivered post.
type recordingReceiver struct {
	mu         sync.Mutex
	posts      []Post
	terminated []TerminationReason
	notify     chan struct{}
}

func newRecordingReceiver() *recordingReceiver {
	return &recordingReceiver{notify: make(chan struct{}, 1024)}
}

func (r *recordingReceiver) Deliver(_ context.Context, p Post) error {
	r.mu.Lock()
	r.posts = append(r.posts, p)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *recordingReceiver) SessionTerminated(reason TerminationReason) {
	r.mu.Lock()
	r.terminated = append(r.terminated, reason)
	r.mu.Unlock()
}

func (r *recordingReceiver) Posts() []Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Post(nil), r.posts...)
}

func (r *recordingReceiver) Terminations() []TerminationReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TerminationReason(nil), r.terminated...)
}

// failingReceiver rejects every delivery.
type failingReceiver struct{}

func (failingReceiver) Deliver(context.Context, Post) error {
	return errors.New("connection reset")
}

// stuckReceiver blocks until released, ignoring ctx.
type stuckReceiver struct {
	release chan struct{}
}

func newStuckReceiver(t *testing.T) *stuckReceiver {
	r := &stuckReceiver{release: make(chan struct{})}
	t.Cleanup(func() { close(r.release) })
	return r
}

func (r *stuckReceiver) Deliver(context.Context, Post) error {
	<-r.release
	return nil
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// countingMetrics records the events the core emits.
type countingMetrics struct {
	mu       sync.Mutex
	opened   int
	closed   map[TerminationReason]int
	rejected int
	posts    int
	ok       int
	failed   map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{closed: map[TerminationReason]int{}, failed: map[string]int{}}
}

func (m *countingMetrics) SessionOpened() { m.mu.Lock(); m.opened++; m.mu.Unlock() }
func (m *countingMetrics) SessionClosed(r TerminationReason) {
	m.mu.Lock()
	m.closed[r]++
	m.mu.Unlock()
}
func (m *countingMetrics) LogonRejected()                  { m.mu.Lock(); m.rejected++; m.mu.Unlock() }
func (m *countingMetrics) PostAccepted(int)                { m.mu.Lock(); m.posts++; m.mu.Unlock() }
func (m *countingMetrics) DeliverySucceeded(time.Duration) { m.mu.Lock(); m.ok++; m.mu.Unlock() }
func (m *countingMetrics) DeliveryFailed(cause string) {
	m.mu.Lock()
	m.failed[cause]++
	m.mu.Unlock()
}

func (m *countingMetrics) failedFor(cause string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed[cause]
}
