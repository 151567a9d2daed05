package observability

import (
	"time"

	"github.com/boddenberg/loandesk-go/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// EventOutcomes lists every outcome label the reconciler records.
var EventOutcomes = []string{"applied", "duplicate", "stale", "unknown_loan", "malformed", "ignored", "foreign", "invalid"}

// Metrics holds all Prometheus metrics for the loan desk.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	events          *prometheus.CounterVec
	resyncs         *prometheus.CounterVec
	feedConnections *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	reportsRendered *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loandesk_request_duration_seconds",
				Help:    "Duration of operations by name.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loandesk_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loandesk_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loandesk_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loandesk_feed_events_total",
				Help: "Pushed loan events by reconciliation outcome.",
			},
			[]string{"outcome"},
		),
		resyncs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loandesk_resyncs_total",
				Help: "Full loan store resynchronizations by result.",
			},
			[]string{"result"},
		),
		feedConnections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loandesk_feed_connections_total",
				Help: "Event feed connection attempts by result.",
			},
			[]string{"result"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "loandesk_active_sessions",
				Help: "Principal sessions currently open.",
			},
		),
		reportsRendered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loandesk_reports_rendered_total",
				Help: "Loan summary reports rendered by format.",
			},
			[]string{"format"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrEvent counts one reconciled event under its outcome.
func (m *Metrics) IncrEvent(outcome string) {
	m.events.WithLabelValues(outcome).Inc()
}

// IncrResync counts a full resync attempt ("ok" or "error").
func (m *Metrics) IncrResync(result string) {
	m.resyncs.WithLabelValues(result).Inc()
}

// IncrFeedConnection counts a feed connection attempt ("connected" or "failed").
func (m *Metrics) IncrFeedConnection(result string) {
	m.feedConnections.WithLabelValues(result).Inc()
}

// SessionOpened and SessionClosed track the active sessions gauge.
func (m *Metrics) SessionOpened() { m.activeSessions.Inc() }
func (m *Metrics) SessionClosed() { m.activeSessions.Dec() }

// IncrReport counts a rendered report.
func (m *Metrics) IncrReport(format string) {
	m.reportsRendered.WithLabelValues(format).Inc()
}

// EventCount returns the cumulative count for one event outcome.
func (m *Metrics) EventCount(outcome string) float64 {
	return getCounterValue(m.events, outcome)
}

// GetReconcilerSnapshot returns a snapshot of reconciler metrics suitable for
// the GET /v1/metrics/reconciler endpoint.
func (m *Metrics) GetReconcilerSnapshot() *domain.ReconcilerMetrics {
	byOutcome := make(map[string]int64, len(EventOutcomes))
	for _, o := range EventOutcomes {
		byOutcome[o] = int64(getCounterValue(m.events, o))
	}

	active := &dto.Metric{}
	var sessions float64
	if err := m.activeSessions.Write(active); err == nil && active.Gauge != nil {
		sessions = active.Gauge.GetValue()
	}

	return &domain.ReconcilerMetrics{
		ActiveSessions:  int64(sessions),
		EventsByOutcome: byOutcome,
		Resyncs:         int64(getCounterValue(m.resyncs, "ok") + getCounterValue(m.resyncs, "error")),
		Reconnects:      int64(getCounterValue(m.feedConnections, "connected")),
		Period:          "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
