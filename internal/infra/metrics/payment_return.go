package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		PaymentReturnRequests,
		PaymentReturnDuration,
		AlertsTotal,
	)
}

var (
	// Count of gateway return callbacks grouped by gateway and result.
	// result: paid|failed|pending|error
	PaymentReturnRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_return_requests_total",
			Help: "Count of gateway return callbacks by gateway and result.",
		},
		[]string{"gateway", "result"},
	)

	PaymentReturnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_return_duration_seconds",
			Help:    "Duration of the gateway return handler in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"result"},
	)

	// Operator alerts grouped by level and delivery status (sent|error).
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_total",
			Help: "Operator alerts by level and delivery status.",
		},
		[]string{"level", "status"},
	)
)
