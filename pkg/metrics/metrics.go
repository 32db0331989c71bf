// Package metrics exposes session counters and gauges in Prometheus form.
//
// A Collector owns its own registry, so several sessions in one process do
// not collide on the default registerer. Every method is safe on a nil
// *Collector, which lets components record unconditionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "feedconsumer"

// Collector records session activity.
type Collector struct {
	registry *prometheus.Registry

	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	pingsSent        prometheus.Counter
	pingsReceived    prometheus.Counter
	sessionErrors    *prometheus.CounterVec
	handshakeStage   prometheus.Gauge
	flushPending     prometheus.Gauge
}

// New creates a Collector with a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Decoded inbound messages by domain.",
		}, []string{"domain"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound messages submitted by domain.",
		}, []string{"domain"}),
		pingsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pings_sent_total",
			Help:      "Heartbeats sent to the provider.",
		}),
		pingsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pings_received_total",
			Help:      "Heartbeats received from the provider.",
		}),
		sessionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Terminal session errors by kind.",
		}, []string{"kind"}),
		handshakeStage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handshake_stage",
			Help:      "Current handshake stage (0 logging in, 3 ready, 4 failed).",
		}),
		flushPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flush_pending",
			Help:      "1 while outbound bytes are queued, 0 otherwise.",
		}),
	}
	c.registry.MustRegister(
		c.messagesReceived,
		c.messagesSent,
		c.pingsSent,
		c.pingsReceived,
		c.sessionErrors,
		c.handshakeStage,
		c.flushPending,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// MessageReceived counts one inbound message.
func (c *Collector) MessageReceived(domain string) {
	if c == nil {
		return
	}
	c.messagesReceived.WithLabelValues(domain).Inc()
}

// MessageSent counts one outbound message.
func (c *Collector) MessageSent(domain string) {
	if c == nil {
		return
	}
	c.messagesSent.WithLabelValues(domain).Inc()
}

// PingsSent adds n sent heartbeats.
func (c *Collector) PingsSent(n uint64) {
	if c == nil || n == 0 {
		return
	}
	c.pingsSent.Add(float64(n))
}

// PingsReceived adds n received heartbeats.
func (c *Collector) PingsReceived(n uint64) {
	if c == nil || n == 0 {
		return
	}
	c.pingsReceived.Add(float64(n))
}

// SessionError counts one terminal error of the given kind.
func (c *Collector) SessionError(kind string) {
	if c == nil {
		return
	}
	c.sessionErrors.WithLabelValues(kind).Inc()
}

// SetHandshakeStage records the current stage ordinal.
func (c *Collector) SetHandshakeStage(stage int) {
	if c == nil {
		return
	}
	c.handshakeStage.Set(float64(stage))
}

// SetFlushPending records whether output is queued.
func (c *Collector) SetFlushPending(pending bool) {
	if c == nil {
		return
	}
	if pending {
		c.flushPending.Set(1)
	} else {
		c.flushPending.Set(0)
	}
}
