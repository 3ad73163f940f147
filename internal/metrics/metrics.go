// Package metrics collects client-side counters and exposes them for
// prometheus scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what components record into. Nop satisfies it for tests and
// for runs without a metrics address.
type Recorder interface {
	RecordEnvelopeReceived(kind string)
	RecordEnvelopeSent(kind string)
	RecordConnect(result string)
	RecordValidityCheck(result string)
	RecordOfflinePoll(result string)
	RecordOfflineDelivered(count int)
	RecordLogout(reason string)
}

// Result labels.
const (
	ResultOK      = "ok"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// Collector is the prometheus implementation of Recorder.
type Collector struct {
	received         *prometheus.CounterVec
	sent             *prometheus.CounterVec
	connects         *prometheus.CounterVec
	validityChecks   *prometheus.CounterVec
	offlinePolls     *prometheus.CounterVec
	offlineDelivered prometheus.Counter
	logouts          *prometheus.CounterVec
}

// NewCollector registers the client metrics in reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatclient_envelopes_received_total",
			Help: "Socket envelopes received, by type.",
		}, []string{"type"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatclient_envelopes_sent_total",
			Help: "Socket envelopes sent, by type.",
		}, []string{"type"}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatclient_connect_attempts_total",
			Help: "Socket connection attempts, by result.",
		}, []string{"result"}),
		validityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatclient_validity_checks_total",
			Help: "Session validity checks, by result.",
		}, []string{"result"}),
		offlinePolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatclient_offline_polls_total",
			Help: "Offline backlog polls, by result.",
		}, []string{"result"}),
		offlineDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatclient_offline_messages_delivered_total",
			Help: "Backlog messages delivered after dedup.",
		}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatclient_logouts_total",
			Help: "Session teardowns, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		c.received,
		c.sent,
		c.connects,
		c.validityChecks,
		c.offlinePolls,
		c.offlineDelivered,
		c.logouts,
	)
	return c
}

func (c *Collector) RecordEnvelopeReceived(kind string) { c.received.WithLabelValues(kind).Inc() }
func (c *Collector) RecordEnvelopeSent(kind string)     { c.sent.WithLabelValues(kind).Inc() }
func (c *Collector) RecordConnect(result string)        { c.connects.WithLabelValues(result).Inc() }
func (c *Collector) RecordValidityCheck(result string)  { c.validityChecks.WithLabelValues(result).Inc() }
func (c *Collector) RecordOfflinePoll(result string)    { c.offlinePolls.WithLabelValues(result).Inc() }
func (c *Collector) RecordLogout(reason string)         { c.logouts.WithLabelValues(reason).Inc() }

// RecordOfflineDelivered adds count delivered backlog messages.
func (c *Collector) RecordOfflineDelivered(count int) {
	if count > 0 {
		c.offlineDelivered.Add(float64(count))
	}
}

// Handler serves /metrics for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordEnvelopeReceived(string) {}
func (Nop) RecordEnvelopeSent(string)     {}
func (Nop) RecordConnect(string)          {}
func (Nop) RecordValidityCheck(string)    {}
func (Nop) RecordOfflinePoll(string)      {}
func (Nop) RecordOfflineDelivered(int)    {}
func (Nop) RecordLogout(string)           {}
