// Package metrics exposes Prometheus instrumentation for the execution core.
//
// Collectors are registered with the default registry in init() and served
// by Handler() in the Prometheus text exposition format:
//   - chainclaw_executions_total{chain,outcome} – pipeline runs by terminal outcome
//   - chainclaw_lock_wait_seconds               – time spent acquiring position locks
//   - chainclaw_locks_held                      – currently held position locks (gauge)
//   - chainclaw_stale_lock_reclaims_total       – locks force-released by the TTL sweep
//   - chainclaw_nonce_resets_total              – cached nonces dropped after broadcast conflicts
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainclaw_executions_total",
			Help: "Pipeline executions by chain family and terminal outcome",
		},
		[]string{"chain", "outcome"},
	)

	LockWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainclaw_lock_wait_seconds",
			Help:    "Time spent waiting for a position lock",
			Buckets: []float64{.001, .01, .1, .5, 1, 5, 15, 30},
		},
	)

	LocksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainclaw_locks_held",
			Help: "Position locks currently held",
		},
	)

	StaleLockReclaims = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chainclaw_stale_lock_reclaims_total",
			Help: "Stale position locks force-released by the TTL sweep",
		},
	)

	NonceResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chainclaw_nonce_resets_total",
			Help: "Cached nonces dropped after a nonce-related broadcast failure",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Executions,
		LockWaitSeconds,
		LocksHeld,
		StaleLockReclaims,
		NonceResets,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
