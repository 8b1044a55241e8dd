// Package metrics exposes Prometheus collectors for the mirror client.
//
// Collectors are registered on a caller-supplied registry so that several
// managers (or tests) never share state. All recording methods are safe on a
// nil *Metrics, which disables metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "devmirror"

// Download outcomes.
const (
	OutcomeComplete = "complete"
	OutcomeOverflow = "overflow"
	OutcomeCanceled = "canceled"
	OutcomeFailed   = "failed"
)

// Metrics holds the client collectors.
type Metrics struct {
	requestsSent    *prometheus.CounterVec
	requestTimeouts *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pendingRequests prometheus.Gauge
	serverConnected prometheus.Gauge
	reconnects      prometheus.Counter
	downloads       *prometheus.CounterVec
	entriesReceived *prometheus.CounterVec
	entries         *prometheus.GaugeVec
	updatesApplied  prometheus.Counter
	updatesDropped  prometheus.Counter
	protocolErrors  prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requestsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_sent_total",
				Help:      "Requests sent to the server",
			},
			[]string{"cmd"},
		),
		requestTimeouts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "request_timeouts_total",
				Help:      "Awaited requests that timed out",
			},
			[]string{"cmd"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time from request to response",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5},
			},
			[]string{"cmd"},
		),
		pendingRequests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Requests awaiting a response",
		}),
		serverConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_connected",
			Help:      "1 while the server socket is open",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts",
		}),
		downloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloads_total",
				Help:      "Finished bulk downloads by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		entriesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entries_received_total",
				Help:      "Watchable definitions received in list pages",
			},
			[]string{"category"},
		),
		entries: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "entries",
				Help:      "Entries currently mirrored",
			},
			[]string{"category"},
		),
		updatesApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "value_updates_applied_total",
			Help:      "Pushed value updates applied to the store",
		}),
		updatesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "value_updates_dropped_total",
			Help:      "Pushed value updates for unknown ids",
		}),
		protocolErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Malformed or unexpected messages dropped",
		}),
	}
}

// RequestSent counts an outbound request.
func (m *Metrics) RequestSent(cmd string) {
	if m == nil {
		return
	}
	m.requestsSent.WithLabelValues(cmd).Inc()
}

// RequestTimedOut counts an awaited request that expired.
func (m *Metrics) RequestTimedOut(cmd string) {
	if m == nil {
		return
	}
	m.requestTimeouts.WithLabelValues(cmd).Inc()
}

// ObserveRequest records the round trip of a settled request.
func (m *Metrics) ObserveRequest(cmd string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(cmd).Observe(d.Seconds())
}

// SetPending sets the number of pending requests.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingRequests.Set(float64(n))
}

// SetServerConnected records the socket state.
func (m *Metrics) SetServerConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.serverConnected.Set(1)
	} else {
		m.serverConnected.Set(0)
	}
}

// ReconnectScheduled counts a reconnect attempt.
func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// DownloadFinished counts a finished download.
func (m *Metrics) DownloadFinished(kind, outcome string) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(kind, outcome).Inc()
}

// EntriesReceived counts definitions received for a category.
func (m *Metrics) EntriesReceived(category string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.entriesReceived.WithLabelValues(category).Add(float64(n))
}

// SetEntries sets the mirrored entry count of a category.
func (m *Metrics) SetEntries(category string, n int) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(category).Set(float64(n))
}

// UpdateApplied counts an applied value update.
func (m *Metrics) UpdateApplied() {
	if m == nil {
		return
	}
	m.updatesApplied.Inc()
}

// UpdateDropped counts a value update for an unknown id.
func (m *Metrics) UpdateDropped() {
	if m == nil {
		return
	}
	m.updatesDropped.Inc()
}

// ProtocolError counts a dropped malformed message.
func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}
