package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all engine metrics. One Registry is shared by the
// coordinator, deadlock detector, fault manager, and transport; tests create
// a fresh one per case.
type Registry struct {
	registry *prometheus.Registry

	// Transaction metrics
	TransactionsTotal     *prometheus.CounterVec
	TransactionDuration   *prometheus.HistogramVec
	TransactionsActive    prometheus.Gauge
	PrepareVotesTotal     *prometheus.CounterVec
	ParticipantExclusions prometheus.Counter

	// Deadlock metrics
	DeadlockChecksTotal    prometheus.Counter
	DeadlocksDetectedTotal prometheus.Counter
	DeadlockVictimsTotal   prometheus.Counter
	LocksHeld              prometheus.Gauge
	WaitEdges              prometheus.Gauge

	// Fault tolerance metrics
	FailuresTotal          *prometheus.CounterVec
	QuarantinedNodes       prometheus.Gauge
	IsolatedNodes          prometheus.Gauge
	CascadeRiskScore       *prometheus.GaugeVec
	RecoveryAttemptsTotal  *prometheus.CounterVec
	ByzantineEvidenceTotal *prometheus.CounterVec

	// Transport metrics
	MessagesSentTotal   *prometheus.CounterVec
	MessageRetriesTotal prometheus.Counter
	RPCDuration         *prometheus.HistogramVec
	PayloadBytesTotal   *prometheus.CounterVec
}

// NewRegistry creates a Registry backed by its own prometheus registry.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initTxnMetrics()
	r.initDeadlockMetrics()
	r.initFaultMetrics()
	r.initTransportMetrics()

	return r
}

// PrometheusRegistry exposes the underlying registry for scraping layers.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}
