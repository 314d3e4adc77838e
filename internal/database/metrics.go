package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPoolMetrics registers Prometheus gauges exposing connection pool
// statistics for the given pool. The service label distinguishes pools when
// multiple are registered.
func RegisterPoolMetrics(pool *pgxpool.Pool, service string) {
	labels := prometheus.Labels{"service": service}

	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "pgx_pool_total_conns",
			Help:        "Total number of connections in the pool",
			ConstLabels: labels,
		}, func() float64 { return float64(pool.Stat().TotalConns()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "pgx_pool_idle_conns",
			Help:        "Number of idle connections in the pool",
			ConstLabels: labels,
		}, func() float64 { return float64(pool.Stat().IdleConns()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "pgx_pool_acquired_conns",
			Help:        "Number of connections currently acquired from the pool",
			ConstLabels: labels,
		}, func() float64 { return float64(pool.Stat().AcquiredConns()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "pgx_pool_max_conns",
			Help:        "Maximum size of the pool",
			ConstLabels: labels,
		}, func() float64 { return float64(pool.Stat().MaxConns()) }),
	}

	for _, c := range collectors {
		// Ignore duplicate registration so repeated app construction in tests
		// does not panic.
		_ = prometheus.Register(c)
	}
}
