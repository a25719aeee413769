package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrderPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "petride", Name: "order_polls_total", Help: "Order snapshots fetched by lifecycle controllers"},
		[]string{"controller", "result"},
	)
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "petride", Name: "lifecycle_transitions_total", Help: "Observed order status transitions"},
		[]string{"controller", "status"},
	)
	GeofenceRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "petride", Name: "geofence_rejections_total", Help: "Driver actions rejected by a proximity check"},
		[]string{"target"},
	)
	PricingFallbacks = promauto.NewCounter(prometheus.CounterOpts{Namespace: "petride", Name: "pricing_fallbacks_total", Help: "Quotes computed locally because the backend was unreachable"})
	ChatConnections  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "petride", Name: "chat_connections", Help: "Open chat websocket connections"})
	SchedulerTasks   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "petride", Name: "scheduler_tasks", Help: "Live scheduler tasks"})

	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "petride_sandbox", Name: "orders_created_total", Help: "Orders created in the sandbox"})
	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "petride_sandbox", Name: "drivers_online", Help: "Number of online drivers"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "petride_sandbox", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "petride_sandbox",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
