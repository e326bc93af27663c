// Package metrics holds the Prometheus collectors for authentication checks
// and key loading.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the authentication pipeline. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	checks        *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	keyLoads      *prometheus.CounterVec
	revocations   prometheus.Counter
}

// New registers the collectors with reg. Passing nil uses a private registry
// so tests and multiple instances never collide.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		checks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authn_jwt_checks_total",
				Help: "Authentication checks by scheme, backend and outcome",
			},
			[]string{"scheme", "backend", "outcome"},
		),
		checkDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authn_jwt_check_duration_seconds",
				Help:    "Time spent in one authentication check",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"scheme", "backend"},
		),
		keyLoads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authn_jwt_key_loads_total",
				Help: "Key material loads by source (disk or cache) and result",
			},
			[]string{"source", "result"},
		),
		revocations: f.NewCounter(
			prometheus.CounterOpts{
				Name: "authn_jwt_revoked_tokens_total",
				Help: "Tokens rejected because their id is denylisted",
			},
		),
	}
}

// ObserveCheck records one finished check.
func (m *Metrics) ObserveCheck(scheme, backend, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(scheme, backend, outcome).Inc()
	m.checkDuration.WithLabelValues(scheme, backend).Observe(d.Seconds())
}

// ObserveKeyLoad matches the keyload observer signature.
func (m *Metrics) ObserveKeyLoad(path string, cached bool, err error) {
	if m == nil {
		return
	}
	source := "disk"
	if cached {
		source = "cache"
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.keyLoads.WithLabelValues(source, result).Inc()
}

// ObserveRevoked counts a denylisted token.
func (m *Metrics) ObserveRevoked() {
	if m == nil {
		return
	}
	m.revocations.Inc()
}
