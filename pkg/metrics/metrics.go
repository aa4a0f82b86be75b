package metrics

import (
	"time"

	"github.com/dd0wney/telecom-txcore/pkg/topology"
)

// RecordTransaction records a finished transaction with its duration.
func (r *Registry) RecordTransaction(outcome string, duration time.Duration) {
	r.TransactionsTotal.WithLabelValues(outcome).Inc()
	r.TransactionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordPrepareVote records a single participant vote.
func (r *Registry) RecordPrepareVote(vote string) {
	r.PrepareVotesTotal.WithLabelValues(vote).Inc()
}

// RecordDeadlockCheck records a detection run and whether it found cycles.
func (r *Registry) RecordDeadlockCheck(found bool) {
	r.DeadlockChecksTotal.Inc()
	if found {
		r.DeadlocksDetectedTotal.Inc()
	}
}

// UpdateLockTable updates the lock table gauges.
func (r *Registry) UpdateLockTable(locksHeld, waitEdges int) {
	r.LocksHeld.Set(float64(locksHeld))
	r.WaitEdges.Set(float64(waitEdges))
}

// RecordFailure records a detected node failure.
func (r *Registry) RecordFailure(node topology.NodeID, kind string) {
	r.FailuresTotal.WithLabelValues(string(node), kind).Inc()
}

// UpdateContainment updates quarantine and isolation gauges.
func (r *Registry) UpdateContainment(quarantined, isolated int) {
	r.QuarantinedNodes.Set(float64(quarantined))
	r.IsolatedNodes.Set(float64(isolated))
}

// SetCascadeRisk sets the per-node cascade risk gauge.
func (r *Registry) SetCascadeRisk(node topology.NodeID, score float64) {
	r.CascadeRiskScore.WithLabelValues(string(node)).Set(score)
}

// RecordPayload counts encoded frame body bytes by compression state.
func (r *Registry) RecordPayload(compression string, bytes int) {
	r.PayloadBytesTotal.WithLabelValues(compression).Add(float64(bytes))
}

// RecordRPC records the outcome and duration of one RPC round trip.
func (r *Registry) RecordRPC(target topology.NodeID, result string, duration time.Duration) {
	r.MessagesSentTotal.WithLabelValues(result).Inc()
	r.RPCDuration.WithLabelValues(string(target)).Observe(duration.Seconds())
}
