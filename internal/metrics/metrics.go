package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Intake metrics
	SubmitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_submit_total",
			Help: "Total number of submitted events",
		},
		[]string{"status"}, // status: accepted, backpressure, shutting_down, duplicate
	)

	EventsUnroutable = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_events_unroutable_total",
			Help: "Total number of events that matched no destination",
		},
	)

	IntakeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_intake_queue_depth",
			Help: "Current depth of the shared intake queue",
		},
	)

	// Per-destination delivery metrics
	DestinationQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_destination_queue_depth",
			Help: "Current depth of a destination's routed-event queue",
		},
		[]string{"destination"},
	)

	BatchesSealed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_batches_sealed_total",
			Help: "Total number of batches sealed, by trigger",
		},
		[]string{"destination", "trigger"}, // trigger: count, timeout, shutdown
	)

	BatchesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_batches_sent_total",
			Help: "Total number of batches delivered successfully",
		},
		[]string{"destination"},
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_delivery_attempts_total",
			Help: "Total delivery attempts, by outcome",
		},
		[]string{"destination", "outcome"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_delivery_duration_seconds",
			Help:    "Time taken to deliver a batch to its destination",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"destination"},
	)

	DeadBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dead_batches_total",
			Help: "Total number of batches that reached terminal failure",
		},
		[]string{"destination"},
	)

	RateLimitWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_waits_total",
			Help: "Total number of delivery attempts deferred by the rate limiter",
		},
		[]string{"destination"},
	)

	// Compression metrics
	BytesIn = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_bytes_in_total",
			Help: "Total batch payload bytes before compression",
		},
	)

	BytesOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_bytes_out_total",
			Help: "Total batch payload bytes actually transmitted",
		},
	)

	CompressionSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_compression_skipped_total",
			Help: "Total batches transmitted uncompressed",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
