package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initDeadlockMetrics() {
	r.DeadlockChecksTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "txcore_deadlock_checks_total",
			Help: "Number of wait-for graph cycle detection runs",
		},
	)

	r.DeadlocksDetectedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "txcore_deadlocks_detected_total",
			Help: "Number of detection runs that found at least one cycle",
		},
	)

	r.DeadlockVictimsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "txcore_deadlock_victims_total",
			Help: "Transactions aborted to resolve deadlocks",
		},
	)

	r.LocksHeld = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "txcore_locks_held",
			Help: "Resource locks currently held",
		},
	)

	r.WaitEdges = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "txcore_wait_edges",
			Help: "Edges currently in the wait-for graph",
		},
	)
}
