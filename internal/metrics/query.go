package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Scatter-gather Prometheus metrics.
var (
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerquery",
			Name:      "queries_total",
			Help:      "Total number of scatter-gather queries by outcome",
		},
		[]string{"status"}, // "ok" / "error"
	)

	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "peerquery",
			Name:      "query_duration_seconds",
			Help:      "Scatter-gather query duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
		},
	)

	RemoteResponsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "peerquery",
			Name:      "remote_responses_total",
			Help:      "Peer responses merged into a collection window",
		},
	)

	DuplicateResponsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "peerquery",
			Name:      "duplicate_responses_total",
			Help:      "Redelivered peer responses ignored within a collection window",
		},
	)

	DecodeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerquery",
			Name:      "decode_failures_total",
			Help:      "Bus messages quarantined because they failed decoding or validation",
		},
		[]string{"topic"},
	)

	SelfEchoDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "peerquery",
			Name:      "self_echo_dropped_total",
			Help:      "Broadcast queries dropped because this node originated them",
		},
	)

	ListenerResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerquery",
			Name:      "listener_responses_total",
			Help:      "Responses to peer queries by outcome",
		},
		[]string{"status"}, // "ok" / "error"
	)
)

var registerOnce sync.Once

// Register registers HTTP and scatter-gather metrics with the default registry.
// Must be called from main; safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestDuration,
			httpRequestsTotal,
			httpRequestsInFlight,
			QueriesTotal,
			QueryDuration,
			RemoteResponsesTotal,
			DuplicateResponsesTotal,
			DecodeFailuresTotal,
			SelfEchoDroppedTotal,
			ListenerResponsesTotal,
		)
	})
}
