// Package db implements a resilient pooled database client: a bounded
// connection pool over a minimal driver interface, bounded fixed-delay
// retries for transient failures, atomic transactions with guaranteed
// rollback, and continuous health telemetry.
//
// The Client is the only public entry point. Construct one at process
// startup and pass it to every caller:
//
//	cfg := config.NewDefaultConfig()
//	client, err := db.New(ctx, &cfg.Database)
//	if err != nil {
//		logger.Error("database init failed", "error", err)
//		os.Exit(1)
//	}
//	defer client.Close()
//
//	rows, err := client.Query(ctx, "SELECT id, name FROM goals WHERE user_id = $1", userID)
//
// Retries are invisible to callers unless the budget is exhausted, in which
// case the last underlying error propagates unchanged. Pool exhaustion
// surfaces as ErrPoolTimeout so callers can tell "no capacity" apart from
// "query failed".
package db

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/moneta/pgclient/config"
	"github.com/moneta/pgclient/logger"
	"github.com/moneta/pgclient/pkg/circuitbreaker"
	"github.com/moneta/pgclient/pkg/health"
	"github.com/moneta/pgclient/pkg/metrics"
	"github.com/moneta/pgclient/pkg/retry"
)

// Client is the process-wide database entry point. It is safe for
// concurrent use; independent callers' operations are not ordered relative
// to each other.
type Client struct {
	cfg      *config.DatabaseConfig
	pool     *Pool
	monitor  *health.Monitor
	breaker  *circuitbreaker.Breaker
	retryCfg retry.Config
	closed   atomic.Bool
}

// New constructs a Client connected through the production pgx driver.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*Client, error) {
	return NewWithConnector(ctx, cfg, NewConnector(cfg.ConnString()))
}

// NewWithConnector constructs a Client over an arbitrary Connector. The
// pool opens connections lazily; use TestConnection to verify reachability
// up front.
func NewWithConnector(ctx context.Context, cfg *config.DatabaseConfig, connector Connector) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	acquireTimeout, err := cfg.GetConnectTimeout()
	if err != nil {
		return nil, err
	}
	idleTimeout, err := cfg.GetIdleTimeout()
	if err != nil {
		return nil, err
	}
	retryDelay, err := cfg.GetRetryDelay()
	if err != nil {
		return nil, err
	}
	healthInterval, err := cfg.GetHealthCheckInterval()
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg: cfg,
		pool: NewPool(connector, PoolOptions{
			MaxConnections: cfg.GetMaxConnections(),
			AcquireTimeout: acquireTimeout,
			IdleTimeout:    idleTimeout,
		}),
		retryCfg: retry.Config{
			MaxRetries: cfg.GetMaxRetries(),
			Delay:      retryDelay,
		},
	}

	if cfg.CircuitBreaker {
		settings := circuitbreaker.DefaultSettings("database")
		settings.OnStateChange = func(name string, from, to circuitbreaker.State) {
			logger.Info("database circuit breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.Set(float64(to))
		}
		c.breaker = circuitbreaker.New(settings)
	}

	c.monitor = health.NewMonitor(health.MonitorOptions{
		Interval: healthInterval,
		Probe: func(ctx context.Context) error {
			_, err := c.QueryRow(ctx, "SELECT 1")
			return err
		},
		PoolStats: func() health.PoolSnapshot {
			info := c.pool.Stat()
			return health.PoolSnapshot{
				MaxConnections:   info.MaxConnections,
				TotalConnections: info.TotalConnections,
				IdleConnections:  info.IdleConnections,
				WaitingCount:     info.WaitingCount,
			}
		},
	})
	c.monitor.Start()

	logger.Info("database client initialized",
		"url", cfg.RedactedConnString(),
		"max_connections", cfg.GetMaxConnections(),
		"acquire_timeout", acquireTimeout,
		"max_retries", cfg.GetMaxRetries(),
		"retry_delay", retryDelay,
		"health_check_interval", healthInterval)

	return c, nil
}

// Query executes a parameterized statement and returns all result rows. The
// whole acquire-execute-release cycle is wrapped by the retry executor, so
// every attempt checks out a fresh connection.
func (c *Client) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	var rows []Row
	err := c.run(ctx, "query", func(conn *PooledConn) error {
		r, err := conn.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		rows = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryRow executes a statement and returns the first result row, or nil
// when the result set is empty. Zero rows is not an error.
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) (Row, error) {
	rows, err := c.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Exec executes a statement and returns the number of rows affected.
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	var affected int64
	err := c.run(ctx, "exec", func(conn *PooledConn) error {
		n, err := conn.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}
		affected = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// run wraps one operation in the scoped-acquisition pattern (acquire,
// execute, always release) plus retry and circuit breaker policy.
func (c *Client) run(ctx context.Context, operation string, fn func(conn *PooledConn) error) error {
	if c.closed.Load() {
		return ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	return retry.Do(ctx, c.retryCfg.WithName("db_"+operation), func(ctx context.Context) error {
		return c.withBreaker(func() error {
			conn, err := c.pool.Acquire(ctx)
			if err != nil {
				return err
			}
			err = fn(conn)
			// A transport-level failure poisons the connection; a fatal
			// error like a constraint violation leaves it reusable.
			conn.Release(err != nil && retry.IsRetryable(err))
			return err
		})
	})
}

// withBreaker routes the operation through the circuit breaker when one is
// configured. Breaker rejections are terminal: retrying them would defeat
// the breaker's purpose.
func (c *Client) withBreaker(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	err := c.breaker.Execute(fn)
	if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		metrics.CircuitBreakerRejections.Inc()
		return retry.Stop(err)
	}
	return err
}

// HealthCheck runs an on-demand probe and returns the computed result. The
// result is also retained for LastHealth.
func (c *Client) HealthCheck(ctx context.Context) *health.Result {
	return c.monitor.Check(ctx)
}

// LastHealth returns the most recent health result without probing, or nil
// if no check has run yet.
func (c *Client) LastHealth() *health.Result {
	return c.monitor.LastResult()
}

// Monitor exposes the health monitor, e.g. for mounting the HTTP handler.
func (c *Client) Monitor() *health.Monitor {
	return c.monitor
}

// PoolInfo returns a snapshot of the pool counters.
func (c *Client) PoolInfo() PoolInfo {
	return c.pool.Stat()
}

// TestConnection verifies database reachability by pinging a pooled
// connection, with the standard retry policy applied.
func (c *Client) TestConnection(ctx context.Context) error {
	if c.closed.Load() {
		return ErrPoolClosed
	}
	return retry.Do(ctx, c.retryCfg.WithName("db_ping"), func(ctx context.Context) error {
		conn, err := c.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		err = conn.Ping(ctx)
		conn.Release(err != nil)
		return err
	})
}

// Close stops the health monitor and drains the pool. Operations attempted
// afterwards fail with ErrPoolClosed. Close is idempotent.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.monitor.Stop()
	c.pool.Close()
	logger.Info("database client closed")
}
