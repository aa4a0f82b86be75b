package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initFaultMetrics() {
	r.FailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txcore_failures_total",
			Help: "Node failures recorded by the fault detector",
		},
		[]string{"node", "kind"}, // crash, omission, byzantine, partition
	)

	r.QuarantinedNodes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "txcore_quarantined_nodes",
			Help: "Nodes currently quarantined for Byzantine behavior",
		},
	)

	r.IsolatedNodes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "txcore_isolated_nodes",
			Help: "Nodes proactively isolated to prevent cascading failure",
		},
	)

	r.CascadeRiskScore = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "txcore_cascade_risk_score",
			Help: "Per-node cascading failure risk score (0 to 1)",
		},
		[]string{"node"},
	)

	r.RecoveryAttemptsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txcore_recovery_attempts_total",
			Help: "Recovery attempts by failure kind",
		},
		[]string{"kind"},
	)

	r.ByzantineEvidenceTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txcore_byzantine_evidence_total",
			Help: "Byzantine evidence reports accumulated per suspect node",
		},
		[]string{"node"},
	)
}
