package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// Exchange pipeline
	ExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_exchanges_total",
			Help: "Message exchanges by outcome",
		},
		[]string{"mode", "outcome"}, // sync|async, completed|partial|failed
	)

	ExchangeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roomchat_exchange_duration_seconds",
			Help:    "End to end exchange latency including the provider call",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	MessagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_messages_stored_total",
			Help: "Messages appended to the store",
		},
		[]string{"message_type"},
	)

	// Provider
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_provider_requests_total",
			Help: "Generation requests by result",
		},
		[]string{"result"}, // ok|fallback
	)

	ProviderFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_provider_fallbacks_total",
			Help: "Fallback replies by reason",
		},
		[]string{"reason"},
	)

	ProviderLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roomchat_provider_latency_seconds",
			Help:    "Provider call latency",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		},
	)

	CircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomchat_provider_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	// Infrastructure
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_cache_lookups_total",
			Help: "Cache lookups by result",
		},
		[]string{"result"}, // hit|miss|error
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomchat_exchange_queue_depth",
			Help: "Jobs waiting in the in-process exchange queue",
		},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_exchange_jobs_total",
			Help: "Background exchange jobs by outcome",
		},
		[]string{"outcome"},
	)

	RoomLockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roomchat_room_lock_wait_seconds",
			Help:    "Time spent waiting for a room lock",
			Buckets: []float64{.001, .01, .1, .5, 1, 5, 10, 30},
		},
	)
)
