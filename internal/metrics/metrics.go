package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	// Point mutations
	PointTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "point_transactions_total",
			Help: "Total committed point transactions",
		},
		[]string{"type"}, // CHARGE|USE
	)
	PointTransactionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "point_transactions_rejected_total",
			Help: "Point transactions rejected before or inside the critical section",
		},
		[]string{"type", "reason"},
	)

	// Per-user serialization
	SerializerWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "point_serializer_wait_seconds",
			Help:    "Time a mutation waited for its user's critical section",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"serializer"},
	)
	SerializerKeys = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "point_serializer_keys",
			Help: "Number of users with a materialized exclusive-access primitive",
		},
		[]string{"serializer"},
	)

	// FIFO worker queues
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Jobs enqueued on per-user queues and not yet finished",
		},
	)
)

// /metrics endpoint handler
var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(PointTransactionsTotal)
	prometheus.MustRegister(PointTransactionsRejected)
	prometheus.MustRegister(SerializerWaitSeconds)
	prometheus.MustRegister(SerializerKeys)
	prometheus.MustRegister(WorkerQueueDepth)
}
