package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_hailing", Name: "ws_connections_active", Help: "Currently open websocket connections"})
	EventsTotal       = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hailing", Name: "events_total", Help: "Inbound websocket events by type"},
		[]string{"event"},
	)
	RidesCreated    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "rides_created_total", Help: "Rides created"})
	RidesCompleted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "rides_completed_total", Help: "Rides completed"})
	RequestFanouts  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_hailing", Name: "request_fanout_drivers", Help: "Available drivers per ride-request fan-out", Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100}})
	SearchTimeouts  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "search_timeouts_total", Help: "Ride requests expired unmatched"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hailing", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_hailing",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
