// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ledger.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	// Store metrics
	Reservations *prometheus.CounterVec

	// Coordinator metrics
	Submissions   *prometheus.CounterVec
	Confirmations *prometheus.CounterVec
	Divergence    *prometheus.CounterVec
	SweepRuns     *prometheus.CounterVec
	QueueDepth    prometheus.Gauge

	// Chain metrics
	ChainCallLatency *prometheus.HistogramVec
	ChainCallErrors  *prometheus.CounterVec

	// Reconciler metrics
	EventsReconciled *prometheus.CounterVec
	BufferedEvents   prometheus.Gauge

	// Distribution metrics
	Payouts             *prometheus.CounterVec
	DistributionRuns    *prometheus.CounterVec
	DistributionLatency prometheus.Histogram

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on reg.
// A nil reg creates a private registry.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = "agri_ledger"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Reservations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "reservations_total",
			Help:      "Share reservations by outcome",
		}, []string{"outcome"}),

		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "submissions_total",
			Help:      "On-chain submissions by outcome",
		}, []string{"outcome"}),
		Confirmations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "confirmations_total",
			Help:      "Transaction confirmations by outcome",
		}, []string{"outcome"}),
		Divergence: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "divergence_total",
			Help:      "Detected on-chain/off-chain divergences by kind",
		}, []string{"kind"}),
		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "sweep_runs_total",
			Help:      "Reconciliation sweep runs by status",
		}, []string{"status"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "submit_queue_depth",
			Help:      "Investments waiting for submission",
		}),

		ChainCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "call_duration_seconds",
			Help:      "On-chain call latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		ChainCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "call_errors_total",
			Help:      "Failed on-chain call attempts",
		}, []string{"op"}),

		EventsReconciled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "events_total",
			Help:      "Chain events by type and outcome",
		}, []string{"type", "outcome"}),
		BufferedEvents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "buffered_events",
			Help:      "Out-of-order events waiting for a gap to fill",
		}),

		Payouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "payouts_total",
			Help:      "Investor payouts by outcome",
		}, []string{"outcome"}),
		DistributionRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "runs_total",
			Help:      "Distribution runs by final status",
		}, []string{"status"}),
		DistributionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "run_duration_seconds",
			Help:      "Distribution run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordReservation counts a reservation attempt.
func (m *Metrics) RecordReservation(outcome string) {
	if m == nil {
		return
	}
	m.Reservations.WithLabelValues(outcome).Inc()
}

// RecordSubmission counts an on-chain submission.
func (m *Metrics) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

// RecordConfirmation counts a confirmation outcome.
func (m *Metrics) RecordConfirmation(outcome string) {
	if m == nil {
		return
	}
	m.Confirmations.WithLabelValues(outcome).Inc()
}

// RecordDivergence counts a detected divergence between chain and store.
func (m *Metrics) RecordDivergence(kind string) {
	if m == nil {
		return
	}
	m.Divergence.WithLabelValues(kind).Inc()
}

// RecordSweep counts a sweep run.
func (m *Metrics) RecordSweep(err error) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(statusLabel(err)).Inc()
}

// SetQueueDepth updates the submission queue gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordChainCall records one chain call attempt.
func (m *Metrics) RecordChainCall(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ChainCallLatency.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		m.ChainCallErrors.WithLabelValues(op).Inc()
	}
}

// RecordEvent counts a reconciled chain event.
func (m *Metrics) RecordEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsReconciled.WithLabelValues(eventType, outcome).Inc()
}

// AddBuffered adjusts the buffered events gauge by delta.
func (m *Metrics) AddBuffered(delta int) {
	if m == nil {
		return
	}
	m.BufferedEvents.Add(float64(delta))
}

// RecordPayout counts a payout outcome.
func (m *Metrics) RecordPayout(outcome string) {
	if m == nil {
		return
	}
	m.Payouts.WithLabelValues(outcome).Inc()
}

// RecordDistribution records a finished distribution run.
func (m *Metrics) RecordDistribution(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.DistributionRuns.WithLabelValues(status).Inc()
	m.DistributionLatency.Observe(d.Seconds())
}

// RecordHTTP counts a served request.
func (m *Metrics) RecordHTTP(route, code string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
