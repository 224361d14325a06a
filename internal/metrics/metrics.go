// Package metrics exposes prometheus counters for the session's background
// engines. All Record methods are safe on a nil *Collector so engines can
// run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Message sources.
const (
	SourceHistory = "history"
	SourceLive    = "live"
)

// Ticket poll outcomes.
const (
	PollResolved = "resolved"
	PollTimeout  = "timeout"
	PollError    = "error"
)

// Collector holds the client metrics.
type Collector struct {
	ticketPolls   *prometheus.CounterVec
	matchLatency  prometheus.Histogram
	messages      *prometheus.CounterVec
	duplicates    prometheus.Counter
	keepalives    prometheus.Counter
	notifications *prometheus.CounterVec
	reconnects    *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ticketPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "randchat_ticket_polls_total",
			Help: "Ticket long polls by outcome.",
		}, []string{"outcome"}),
		matchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "randchat_match_wait_seconds",
			Help:    "Time from opening a ticket to being matched.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "randchat_messages_delivered_total",
			Help: "Messages delivered to the user by source.",
		}, []string{"source"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "randchat_messages_duplicate_total",
			Help: "Messages dropped because they were already delivered.",
		}),
		keepalives: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "randchat_keepalives_total",
			Help: "PING frames answered with PONG.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "randchat_notifications_total",
			Help: "Notifications consumed by code.",
		}, []string{"code"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "randchat_stream_reconnects_total",
			Help: "Stream reopen attempts by stream.",
		}, []string{"stream"}),
	}

	reg.MustRegister(
		c.ticketPolls,
		c.matchLatency,
		c.messages,
		c.duplicates,
		c.keepalives,
		c.notifications,
		c.reconnects,
	)

	return c
}

// RecordTicketPoll records one finished ticket long poll.
func (c *Collector) RecordTicketPoll(outcome string) {
	if c == nil {
		return
	}
	c.ticketPolls.WithLabelValues(outcome).Inc()
}

// RecordMatchLatency records how long matching took.
func (c *Collector) RecordMatchLatency(d time.Duration) {
	if c == nil {
		return
	}
	c.matchLatency.Observe(d.Seconds())
}

// RecordMessages records n delivered messages.
func (c *Collector) RecordMessages(source string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.messages.WithLabelValues(source).Add(float64(n))
}

// RecordDuplicate records a message dropped as already delivered.
func (c *Collector) RecordDuplicate() {
	if c == nil {
		return
	}
	c.duplicates.Inc()
}

// RecordKeepalive records an answered PING.
func (c *Collector) RecordKeepalive() {
	if c == nil {
		return
	}
	c.keepalives.Inc()
}

// RecordNotification records a consumed notification.
func (c *Collector) RecordNotification(code string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(code).Inc()
}

// RecordReconnect records a stream being reopened.
func (c *Collector) RecordReconnect(stream string) {
	if c == nil {
		return
	}
	c.reconnects.WithLabelValues(stream).Inc()
}

// Handler returns the prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute returns a mux serving /metrics.
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(gatherer))
	return mux
}
