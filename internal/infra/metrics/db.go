package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolConns, dbAcquireWaits) }

// PoolSnapshot is one reading of the connection pool.
type PoolSnapshot struct {
	Total, Idle, Acquired, Max int32
	// EmptyAcquires is cumulative: acquires that had to wait for a connection.
	EmptyAcquires int64
}

var (
	dbPoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_connections",
			Help: "Connections in the Postgres pool by state.",
		},
		[]string{"state"}, // total|idle|acquired|max
	)

	dbAcquireWaits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_empty_acquires",
			Help: "Cumulative acquires that waited because the pool was exhausted.",
		},
	)
)

func SetDBPool(s PoolSnapshot) {
	dbPoolConns.WithLabelValues("total").Set(float64(s.Total))
	dbPoolConns.WithLabelValues("idle").Set(float64(s.Idle))
	dbPoolConns.WithLabelValues("acquired").Set(float64(s.Acquired))
	dbPoolConns.WithLabelValues("max").Set(float64(s.Max))
	dbAcquireWaits.Set(float64(s.EmptyAcquires))
}
