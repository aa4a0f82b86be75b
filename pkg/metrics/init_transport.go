package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTransportMetrics() {
	r.MessagesSentTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txcore_messages_sent_total",
			Help: "Messages sent through the RPC substrate by result",
		},
		[]string{"result"}, // ok, timeout, error
	)

	r.MessageRetriesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "txcore_message_retries_total",
			Help: "RPC send retries after timeout or error",
		},
	)

	r.RPCDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txcore_rpc_duration_seconds",
			Help:    "Round-trip time of RPC calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	r.PayloadBytesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txcore_payload_bytes_total",
			Help: "Encoded payload bytes by compression state",
		},
		[]string{"compression"}, // raw, snappy
	)
}
