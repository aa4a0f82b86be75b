package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTxnMetrics() {
	r.TransactionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txcore_transactions_total",
			Help: "Total number of transactions by final outcome",
		},
		[]string{"outcome"}, // committed, aborted
	)

	r.TransactionDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txcore_transaction_duration_seconds",
			Help:    "Transaction duration from begin to terminal state",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	r.TransactionsActive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "txcore_transactions_active",
			Help: "Number of transactions currently in a non-terminal state",
		},
	)

	r.PrepareVotesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txcore_prepare_votes_total",
			Help: "Prepare-phase votes collected from participants",
		},
		[]string{"vote"}, // yes, no, timeout
	)

	r.ParticipantExclusions = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "txcore_participant_exclusions_total",
			Help: "Participants excluded between prepare and commit due to failures",
		},
	)
}
