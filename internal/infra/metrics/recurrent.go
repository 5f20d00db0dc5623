package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		recurrentChargesTotal,
		recurrentChargeLatency,
		recurrentTransitionsTotal,
		recurrentSweepRecords,
		recurrentDuplicateChains,
		recurrentTokensTotal,
	)
}

var (
	recurrentChargesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recurrent_charges_total",
			Help: "Charge attempts by gateway and outcome.",
		},
		[]string{"gateway", "outcome"}, // 'charged', 'failed', 'stopped', 'unknown', 'skipped'
	)

	recurrentChargeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recurrent_charge_duration_seconds",
			Help:    "Gateway charge call latency in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"gateway", "status"},
	)

	recurrentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recurrent_transitions_total",
			Help: "Recurrent payment state transitions by target state.",
		},
		[]string{"state"},
	)

	recurrentSweepRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recurrent_sweep_records_total",
			Help: "Records seen by the charge sweeper.",
		},
		[]string{"kind"}, // 'due', 'urgent', 'reconciled'
	)

	recurrentDuplicateChains = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recurrent_duplicate_groups",
			Help: "Users holding more than one open chain for the same subscription type.",
		},
	)

	recurrentTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recurrent_tokens_total",
			Help: "Token maintenance operations by gateway and action.",
		},
		[]string{"gateway", "action"}, // 'expiry_updated', 'cancelled', 'cancel_failed'
	)
)

func IncRecurrentCharge(gateway, outcome string) {
	recurrentChargesTotal.WithLabelValues(norm(gateway), norm(outcome)).Inc()
}

func ObserveChargeLatency(gateway, status string, d time.Duration) {
	recurrentChargeLatency.WithLabelValues(norm(gateway), norm(status)).Observe(d.Seconds())
}

func IncRecurrentTransition(state string) {
	recurrentTransitionsTotal.WithLabelValues(norm(state)).Inc()
}

func AddSweepRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	recurrentSweepRecords.WithLabelValues(norm(kind)).Add(float64(n))
}

func SetDuplicateGroups(n int) {
	recurrentDuplicateChains.Set(float64(n))
}

func AddTokenOps(gateway, action string, n int) {
	if n <= 0 {
		return
	}
	recurrentTokensTotal.WithLabelValues(norm(gateway), norm(action)).Add(float64(n))
}
