package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchRequests counts dispatch calls by outcome (completed|rejected|zero_targets).
	DispatchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushbeam_dispatch_requests_total",
			Help: "Total number of dispatch requests",
		},
		[]string{"outcome"},
	)

	// DeviceSends counts per-device send attempts by result (sent|failed).
	DeviceSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushbeam_device_sends_total",
			Help: "Total number of per-device send attempts",
		},
		[]string{"result"},
	)

	// SendFailures counts per-device send failures by gateway error code.
	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushbeam_send_failures_total",
			Help: "Total number of send failures by error code",
		},
		[]string{"code"},
	)

	// TokensDeactivated counts device tokens deactivated by cause (gateway|sweep).
	TokensDeactivated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushbeam_tokens_deactivated_total",
			Help: "Total number of device tokens deactivated",
		},
		[]string{"cause"},
	)

	// RecordsExpired counts notification records removed by the expiry sweep.
	RecordsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushbeam_records_expired_total",
			Help: "Total number of notification records deleted after expiry",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pushbeam_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
