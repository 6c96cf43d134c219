// Package metrics exposes prometheus collectors for the database client:
// pool saturation, retry activity, transaction outcomes and health probe
// latency. Collectors register themselves on the default registry via
// promauto; Handler serves them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Connection pool metrics
var (
	PoolMaxConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgclient_pool_max_conns",
			Help: "Configured maximum number of connections in the pool.",
		},
	)
	PoolTotalConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgclient_pool_total_conns",
			Help: "Total number of open physical connections.",
		},
	)
	PoolIdleConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgclient_pool_idle_conns",
			Help: "Number of idle connections in the pool.",
		},
	)
	PoolWaitingCallers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgclient_pool_waiting_callers",
			Help: "Number of callers currently waiting for a connection.",
		},
	)
	PoolAcquireTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgclient_pool_acquire_timeouts_total",
			Help: "Total number of connection acquisitions that timed out.",
		},
	)
	PoolConnectionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgclient_pool_connections_opened_total",
			Help: "Total number of physical connections opened.",
		},
	)
	PoolConnectionsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgclient_pool_connections_closed_total",
			Help: "Total number of physical connections closed.",
		},
	)
)

// Query and retry metrics
var (
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgclient_query_duration_seconds",
			Help:    "Duration of database operations in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"}, // operation: "query", "exec"
	)
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgclient_retry_attempts_total",
			Help: "Total number of retry attempts beyond the initial one.",
		},
		[]string{"operation"},
	)
)

// Transaction metrics
var (
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgclient_transactions_total",
			Help: "Total number of database transactions.",
		},
		[]string{"status"}, // status: "commit", "rollback"
	)
	TransactionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgclient_transaction_duration_seconds",
			Help:    "Duration of database transactions in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
)

// Health monitor metrics
var (
	HealthProbeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgclient_health_probe_duration_seconds",
			Help:    "Duration of health probe queries in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)
	// 0=unhealthy, 1=degraded, 2=healthy
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgclient_health_status",
			Help: "Last computed health status (0=unhealthy, 1=degraded, 2=healthy).",
		},
	)
)

// Circuit breaker metrics
var (
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgclient_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
	)
	CircuitBreakerRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgclient_circuit_breaker_rejections_total",
			Help: "Total number of operations rejected by an open circuit breaker.",
		},
	)
)

// Handler serves the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
