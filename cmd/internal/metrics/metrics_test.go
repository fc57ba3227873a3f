package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"twootr/cmd/internal/twootr"
)

// value returns the sample of name whose labels include want, or -1.
func value(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return -1
}

func TestCollectorSessionLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed(twootr.ReasonSuperseded)
	c.LogonRejected()

	if got := value(t, reg, "twootr_sessions_opened_total", nil); got != 2 {
		t.Fatalf("sessions_opened_total=%v want=2", got)
	}
	if got := value(t, reg, "twootr_sessions_active", nil); got != 1 {
		t.Fatalf("sessions_active=%v want=1", got)
	}
	if got := value(t, reg, "twootr_sessions_closed_total", map[string]string{"reason": "superseded"}); got != 1 {
		t.Fatalf("sessions_closed_total{superseded}=%v want=1", got)
	}
	if got := value(t, reg, "twootr_logons_rejected_total", nil); got != 1 {
		t.Fatalf("logons_rejected_total=%v want=1", got)
	}
}

func TestCollectorPostsAndDelivery(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.PostAccepted(3)
	c.PostAccepted(0)
	c.DeliverySucceeded(12 * time.Millisecond)
	c.DeliveryFailed("timeout")
	c.DeliveryFailed("timeout")
	c.DeliveryFailed("queue_full")

	if got := value(t, reg, "twootr_posts_total", nil); got != 2 {
		t.Fatalf("posts_total=%v want=2", got)
	}
	if got := value(t, reg, "twootr_post_fanout_sessions", nil); got != 2 {
		t.Fatalf("fanout samples=%v want=2", got)
	}
	if got := value(t, reg, "twootr_delivery_latency_seconds", nil); got != 1 {
		t.Fatalf("latency samples=%v want=1", got)
	}
	if got := value(t, reg, "twootr_delivery_failures_total", map[string]string{"cause": "timeout"}); got != 2 {
		t.Fatalf("delivery_failures_total{timeout}=%v want=2", got)
	}
}

func TestCollectorConnections(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.ConnectionRejected("auth_failed")

	if got := value(t, reg, "twootr_ws_connections", nil); got != 1 {
		t.Fatalf("ws_connections=%v want=1", got)
	}
	if got := value(t, reg, "twootr_ws_rejected_total", map[string]string{"reason": "auth_failed"}); got != 1 {
		t.Fatalf("ws_rejected_total{auth_failed}=%v want=1", got)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.PostAccepted(1)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "twootr_posts_total 1") {
		t.Fatalf("body missing twootr_posts_total:\n%s", body)
	}
}
