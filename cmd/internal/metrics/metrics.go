// Package metrics exports Twootr's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"twootr/cmd/internal/twootr"
)

const namespace = "twootr"

// Collector implements twootr.Metrics and the gateway's connection metrics.
type Collector struct {
	sessionsOpened   prometheus.Counter
	sessionsActive   prometheus.Gauge
	sessionsClosed   *prometheus.CounterVec
	logonsRejected   prometheus.Counter
	postsAccepted    prometheus.Counter
	fanout           prometheus.Histogram
	deliveryLatency  prometheus.Histogram
	deliveryFailures *prometheus.CounterVec
	wsConnections    prometheus.Gauge
	wsRejected       *prometheus.CounterVec
}

var _ twootr.Metrics = (*Collector)(nil)

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Sessions created by successful logons.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently bound in the registry.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Terminated sessions by reason.",
		}, []string{"reason"}),
		logonsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logons_rejected_total",
			Help:      "Logons that returned no session.",
		}),
		postsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_total",
			Help:      "Accepted posts.",
		}),
		fanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "post_fanout_sessions",
			Help:      "Live follower sessions a post was enqueued to.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_latency_seconds",
			Help:      "Duration of successful receiver deliveries.",
			Buckets:   prometheus.DefBuckets,
		}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Failed deliveries by cause.",
		}, []string{"cause"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open WebSocket connections, authenticated or not.",
		}),
		wsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_rejected_total",
			Help:      "WebSocket connections refused before logon, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		c.sessionsOpened,
		c.sessionsActive,
		c.sessionsClosed,
		c.logonsRejected,
		c.postsAccepted,
		c.fanout,
		c.deliveryLatency,
		c.deliveryFailures,
		c.wsConnections,
		c.wsRejected,
	)
	return c
}

func (c *Collector) SessionOpened() {
	c.sessionsOpened.Inc()
	c.sessionsActive.Inc()
}

func (c *Collector) SessionClosed(reason twootr.TerminationReason) {
	c.sessionsActive.Dec()
	c.sessionsClosed.WithLabelValues(string(reason)).Inc()
}

func (c *Collector) LogonRejected() { c.logonsRejected.Inc() }

func (c *Collector) PostAccepted(fanout int) {
	c.postsAccepted.Inc()
	c.fanout.Observe(float64(fanout))
}

func (c *Collector) DeliverySucceeded(latency time.Duration) {
	c.deliveryLatency.Observe(latency.Seconds())
}

func (c *Collector) DeliveryFailed(cause string) {
	c.deliveryFailures.WithLabelValues(cause).Inc()
}

// ConnectionOpened and ConnectionClosed track raw WebSocket connections.
func (c *Collector) ConnectionOpened() { c.wsConnections.Inc() }
func (c *Collector) ConnectionClosed() { c.wsConnections.Dec() }

// ConnectionRejected counts handshakes refused before a session existed
// (origin, bad hello, failed auth).
func (c *Collector) ConnectionRejected(reason string) {
	c.wsRejected.WithLabelValues(reason).Inc()
}

// Handler serves the Prometheus exposition format for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
