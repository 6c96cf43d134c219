package db

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/moneta/pgclient/config"
)

// recorder collects the statements issued across all stub connections so
// tests can assert on ordering.
type recorder struct {
	mu    sync.Mutex
	stmts []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.stmts = append(r.stmts, s)
	r.mu.Unlock()
}

func (r *recorder) statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stmts...)
}

// stubConn is an in-memory Conn whose behavior is programmed per test.
type stubConn struct {
	rec     *recorder
	queryFn func(sql string, args []any) ([]Row, error)
	execFn  func(sql string, args []any) (int64, error)
	pingErr error
	closed  atomic.Bool
}

func (c *stubConn) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	if c.rec != nil {
		c.rec.add(sql)
	}
	if c.queryFn != nil {
		return c.queryFn(sql, args)
	}
	return nil, nil
}

func (c *stubConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if c.rec != nil {
		c.rec.add(sql)
	}
	if c.execFn != nil {
		return c.execFn(sql, args)
	}
	return 0, nil
}

func (c *stubConn) Ping(ctx context.Context) error {
	return c.pingErr
}

func (c *stubConn) Close(ctx context.Context) error {
	c.closed.Store(true)
	return nil
}

// stubConnector hands out stub connections and counts dials. connectFn, when
// set, receives the 1-based dial number.
type stubConnector struct {
	mu        sync.Mutex
	dials     int
	connectFn func(dial int) (Conn, error)
}

func (s *stubConnector) Connect(ctx context.Context) (Conn, error) {
	s.mu.Lock()
	s.dials++
	n := s.dials
	s.mu.Unlock()
	if s.connectFn != nil {
		return s.connectFn(n)
	}
	return &stubConn{}, nil
}

func (s *stubConnector) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// fastConfig returns a configuration tuned for tests: tight timeouts, short
// retry delays, no background health timer.
func fastConfig() *config.DatabaseConfig {
	return &config.DatabaseConfig{
		MaxConnections:      4,
		ConnectTimeout:      "100ms",
		IdleTimeout:         "1m",
		MaxRetries:          3,
		RetryDelay:          "1ms",
		HealthCheckInterval: "0",
	}
}

func newTestClient(t *testing.T, cfg *config.DatabaseConfig, connector Connector) *Client {
	t.Helper()
	client, err := NewWithConnector(context.Background(), cfg, connector)
	if err != nil {
		t.Fatalf("NewWithConnector failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}
