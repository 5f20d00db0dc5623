package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(lockAcquireTotal) }

var lockAcquireTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lock_acquire_total",
		Help: "Distributed lock acquisitions by result.",
	},
	[]string{"result"}, // 'acquired', 'busy', 'error'
)

func IncLockAcquire(result string) {
	lockAcquireTotal.WithLabelValues(norm(result)).Inc()
}
