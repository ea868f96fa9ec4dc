package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are registered on the default registry and served on /metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "langmodel_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "langmodel_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// ForwardPasses counts model forward calls by family and outcome.
	ForwardPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "langmodel_forward_passes_total",
			Help: "Total number of language model forward passes",
		},
		[]string{"family", "status"},
	)

	ForwardDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "langmodel_forward_duration_seconds",
			Help:    "Duration of language model forward passes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"family"},
	)

	VectorsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "langmodel_vectors_extracted_total",
			Help: "Total number of vectors extracted",
		},
		[]string{"family", "strategy"},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "langmodel_cache_requests_total",
			Help: "Vector cache lookups by result",
		},
		[]string{"result"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "langmodel_websocket_connections",
			Help: "Number of connected websocket clients",
		},
	)
)
