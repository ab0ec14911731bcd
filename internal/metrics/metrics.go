package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lorawan_storage_requests_total",
		Help: "Requests dispatched by service, tag and status",
	}, []string{"service", "tag", "status"})

	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lorawan_storage_dropped_total",
		Help: "Requests dropped without a response by service and reason",
	}, []string{"service", "reason"})

	DeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lorawan_storage_denied_total",
		Help: "Requests rejected for a wrong code or access code",
	}, []string{"service"})

	ListTruncatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lorawan_storage_list_truncated_total",
		Help: "List responses shortened to fit the caller buffer",
	}, []string{"service"})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lorawan_storage_dispatch_duration_seconds",
		Help:    "Time spent dispatching one request",
		Buckets: prometheus.DefBuckets,
	}, []string{"service"})

	ConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lorawan_storage_connections_active",
		Help: "Open stream connections by transport",
	}, []string{"transport"})
)
