// Package health computes an aggregate health status for the database
// client from a lightweight probe query and the pool's saturation counters.
//
// The monitor runs on a fixed interval (zero disables the timer) and always
// retains the most recent result for synchronous access, independent of the
// timer. Status decision, in priority order: probe failed means unhealthy;
// probe succeeded but waiting callers exceed the high-water fraction of pool
// capacity means degraded; otherwise healthy.
package health

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moneta/pgclient/logger"
	"github.com/moneta/pgclient/pkg/metrics"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// saturationHighWater is the fraction of pool capacity the waiting-caller
// count must exceed before the status degrades.
const saturationHighWater = 0.8

// defaultProbeTimeout bounds timer-driven probes, which have no caller
// deadline of their own.
const defaultProbeTimeout = 10 * time.Second

// PoolSnapshot carries the pool counters the monitor needs, decoupled from
// the pool implementation.
type PoolSnapshot struct {
	MaxConnections   int
	TotalConnections int
	IdleConnections  int
	WaitingCount     int
}

// Check is the status of a single dependency.
type Check struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Metrics are point-in-time measurements attached to a Result.
type Metrics struct {
	ProbeLatencyMS     float64 `json:"probe_latency_ms"`
	TotalConnections   int     `json:"total_connections"`
	IdleConnections    int     `json:"idle_connections"`
	WaitingConnections int     `json:"waiting_connections"`
	MaxConnections     int     `json:"max_connections"`
	MemoryAllocBytes   uint64  `json:"memory_alloc_bytes"`
}

// Result is one computed health check. Only the most recent result is
// retained; no history is kept.
type Result struct {
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	Metrics   Metrics          `json:"metrics"`
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	// Probe runs a trivial query (SELECT 1) through the query executor.
	Probe func(ctx context.Context) error

	// PoolStats reads the pool counters without mutating them.
	PoolStats func() PoolSnapshot

	// Interval between background probes. Zero disables the timer
	// entirely; on-demand checks still work.
	Interval time.Duration
}

// Monitor periodically probes the database and publishes the latest result.
type Monitor struct {
	probe     func(ctx context.Context) error
	poolStats func() PoolSnapshot
	interval  time.Duration

	mu   sync.RWMutex
	last *Result

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

func NewMonitor(opts MonitorOptions) *Monitor {
	return &Monitor{
		probe:     opts.Probe,
		poolStats: opts.PoolStats,
		interval:  opts.Interval,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the background timer. With a zero interval it does
// nothing.
func (m *Monitor) Start() {
	if m.interval <= 0 {
		return
	}

	m.startOnce.Do(func() {
		m.started.Store(true)
		go func() {
			defer close(m.done)
			ticker := time.NewTicker(m.interval)
			defer ticker.Stop()

			logger.Debug("health monitor started", "interval", m.interval)
			for {
				select {
				case <-m.stopCh:
					logger.Debug("health monitor stopped")
					return
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), defaultProbeTimeout)
					m.Check(ctx)
					cancel()
				}
			}
		}()
	})
}

// Stop cancels the background timer and waits for it to exit. Safe to call
// more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	if m.started.Load() {
		<-m.done
	}
}

// Check runs the probe synchronously, computes the aggregate status and
// retains the result for LastResult.
func (m *Monitor) Check(ctx context.Context) *Result {
	start := time.Now()
	probeErr := m.probe(ctx)
	latency := time.Since(start)
	metrics.HealthProbeDuration.Observe(latency.Seconds())

	pool := m.poolStats()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	result := &Result{
		Timestamp: time.Now(),
		Checks:    make(map[string]Check),
		Metrics: Metrics{
			ProbeLatencyMS:     float64(latency.Microseconds()) / 1000.0,
			TotalConnections:   pool.TotalConnections,
			IdleConnections:    pool.IdleConnections,
			WaitingConnections: pool.WaitingCount,
			MaxConnections:     pool.MaxConnections,
			MemoryAllocBytes:   memStats.Alloc,
		},
	}

	saturated := float64(pool.WaitingCount) > saturationHighWater*float64(pool.MaxConnections)

	switch {
	case probeErr != nil:
		result.Status = StatusUnhealthy
		result.Checks["database"] = Check{Status: StatusUnhealthy, Error: probeErr.Error()}
		logger.Warn("health probe failed", "error", probeErr, "latency", latency)
	case saturated:
		result.Status = StatusDegraded
		result.Checks["database"] = Check{Status: StatusHealthy}
		logger.Warn("connection pool saturated",
			"waiting", pool.WaitingCount,
			"max_conns", pool.MaxConnections)
	default:
		result.Status = StatusHealthy
		result.Checks["database"] = Check{Status: StatusHealthy}
	}

	metrics.HealthStatus.Set(statusValue(result.Status))

	m.mu.Lock()
	m.last = result
	m.mu.Unlock()

	return result
}

// LastResult returns the most recent result, or nil before the first check.
func (m *Monitor) LastResult() *Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func statusValue(s Status) float64 {
	switch s {
	case StatusHealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}
