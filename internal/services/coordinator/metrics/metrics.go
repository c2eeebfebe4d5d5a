// Package metrics exposes coordinator counters to Prometheus.
//
// A nil *Metrics is valid and records nothing, so tests and embedders can
// skip registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "investordefend"

// Sync cycle results.
const (
	ResultOK        = "ok"
	ResultFailed    = "failed"
	ResultDiscarded = "discarded"
)

// Metrics groups the coordinator collectors.
type Metrics struct {
	syncCycles     *prometheus.CounterVec
	syncDuration   prometheus.Histogram
	forwarded      *prometheus.CounterVec
	consensus      *prometheus.CounterVec
	actionErrors   *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		syncCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Sync loop cycles by result.",
		}, []string{"result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent fetching and reconciling one snapshot.",
			Buckets:   prometheus.DefBuckets,
		}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "forwarded_actions_total",
			Help:      "Actions submitted to the authority by kind and result.",
		}, []string{"kind", "result"}),
		consensus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "consensus_passes_total",
			Help:      "Gated actions whose threshold was met, by policy.",
		}, []string{"policy"}),
		actionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "action_errors_total",
			Help:      "Errors reported to participants, by code.",
		}, []string{"code"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "active_sessions",
			Help:      "Sessions with a running sync loop.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.syncCycles, m.syncDuration, m.forwarded, m.consensus, m.actionErrors, m.activeSessions,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveCycle records one sync cycle.
func (m *Metrics) ObserveCycle(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.syncCycles.WithLabelValues(result).Inc()
	m.syncDuration.Observe(elapsed.Seconds())
}

// Forwarded records an action submitted to the authority.
func (m *Metrics) Forwarded(kind string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultFailed
	}
	m.forwarded.WithLabelValues(kind, result).Inc()
}

// ConsensusPassed records a gated action reaching its threshold.
func (m *Metrics) ConsensusPassed(policy string) {
	if m == nil {
		return
	}
	m.consensus.WithLabelValues(policy).Inc()
}

// ActionError records an error surfaced to a participant.
func (m *Metrics) ActionError(code string) {
	if m == nil {
		return
	}
	m.actionErrors.WithLabelValues(code).Inc()
}

// SessionOpened and SessionClosed track running loops.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
