package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "driver_client"

var (
	StateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "state_transitions_total", Help: "Coordinator state transitions"},
		[]string{"from", "to"},
	)
	CurrentState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "state", Help: "1 for the coordinator's current state, 0 otherwise"},
		[]string{"state"},
	)
	RideRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_requests_total", Help: "Inbound ride requests by outcome"},
		[]string{"outcome"},
	)
	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Backend API call latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "outcome"},
	)

	LocationSamplesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "location_samples_total", Help: "Location samples forwarded by the sampler"})
	LocationErrorsTotal  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_errors_total", Help: "Location source failures by kind"},
		[]string{"kind"},
	)

	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "realtime_events_total", Help: "Realtime channel events by direction"},
		[]string{"direction", "event"},
	)
	RealtimeDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "realtime_dropped_total", Help: "Outbound realtime events dropped"},
		[]string{"reason"},
	)
	RealtimeConnected = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "realtime_connected", Help: "1 while the realtime channel is connected"})

	TelemetryDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "telemetry_dropped_total", Help: "Location samples dropped by the telemetry fanout"})
	TelemetryErrorsTotal  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "telemetry_errors_total", Help: "Telemetry sink publish failures"},
		[]string{"sink"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total control API requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Control API latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
