package db

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moneta/pgclient/logger"
	"github.com/moneta/pgclient/pkg/metrics"
)

// PoolInfo is a read-only snapshot of the pool's counters, recomputed on
// demand.
type PoolInfo struct {
	MaxConnections   int `json:"max_connections"`
	TotalConnections int `json:"total_connections"`
	IdleConnections  int `json:"idle_connections"`
	WaitingCount     int `json:"waiting_count"`
}

// PoolOptions configures a Pool. Zero values fall back to the library
// defaults.
type PoolOptions struct {
	MaxConnections int
	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
}

// Pool owns a bounded set of physical database connections. Callers beyond
// the bound queue for a free slot up to the acquire timeout. All waits are
// cooperative; nothing spins.
type Pool struct {
	connector      Connector
	maxConns       int
	acquireTimeout time.Duration
	idleTimeout    time.Duration

	// slots carries one token per unit of free capacity.
	slots    chan struct{}
	closedCh chan struct{}

	mu      sync.Mutex
	idle    []idleConn
	total   int
	waiting int
	closed  bool
}

type idleConn struct {
	conn  Conn
	since time.Time
}

// NewPool creates a pool that opens connections lazily through the given
// connector.
func NewPool(connector Connector, opts PoolOptions) *Pool {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 20
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 30 * time.Second
	}

	p := &Pool{
		connector:      connector,
		maxConns:       opts.MaxConnections,
		acquireTimeout: opts.AcquireTimeout,
		idleTimeout:    opts.IdleTimeout,
		slots:          make(chan struct{}, opts.MaxConnections),
		closedCh:       make(chan struct{}),
	}
	for i := 0; i < opts.MaxConnections; i++ {
		p.slots <- struct{}{}
	}

	metrics.PoolMaxConns.Set(float64(opts.MaxConnections))
	return p
}

// Acquire hands out an exclusively-owned connection, blocking until a slot
// is free, the acquire timeout elapses (ErrPoolTimeout) or the context is
// cancelled. On a closed pool it fails immediately with ErrPoolClosed.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	select {
	case <-p.closedCh:
		return nil, ErrPoolClosed
	default:
	}

	select {
	case <-p.slots:
	default:
		// No free capacity; queue for a slot.
		p.addWaiter(1)
		timer := time.NewTimer(p.acquireTimeout)
		select {
		case <-p.slots:
			timer.Stop()
			p.addWaiter(-1)
		case <-timer.C:
			p.addWaiter(-1)
			metrics.PoolAcquireTimeouts.Inc()
			logger.Warn("connection acquire timed out",
				"timeout", p.acquireTimeout,
				"max_conns", p.maxConns)
			return nil, ErrPoolTimeout
		case <-ctx.Done():
			timer.Stop()
			p.addWaiter(-1)
			return nil, ctx.Err()
		case <-p.closedCh:
			timer.Stop()
			p.addWaiter(-1)
			return nil, ErrPoolClosed
		}
	}

	conn, stale, err := p.checkout(ctx)
	for _, ic := range stale {
		p.closeConn(ic.conn, "idle timeout")
	}
	if err != nil {
		p.slots <- struct{}{}
		return nil, err
	}
	return &PooledConn{conn: conn, pool: p}, nil
}

// checkout pops a live idle connection or opens a new one. It returns any
// stale idle connections for the caller to close outside the lock.
func (p *Pool) checkout(ctx context.Context) (Conn, []idleConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil, ErrPoolClosed
	}

	var stale []idleConn
	var conn Conn
	now := time.Now()
	for len(p.idle) > 0 {
		ic := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.idleTimeout > 0 && now.Sub(ic.since) > p.idleTimeout {
			p.total--
			stale = append(stale, ic)
			continue
		}
		conn = ic.conn
		break
	}

	if conn != nil {
		p.updateGauges()
		p.mu.Unlock()
		return conn, stale, nil
	}

	// Reserve capacity for the new connection before dialing.
	p.total++
	p.updateGauges()
	p.mu.Unlock()

	c, err := p.connector.Connect(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.updateGauges()
		p.mu.Unlock()
		logger.Error("failed to open database connection", "error", err)
		return nil, stale, err
	}

	metrics.PoolConnectionsOpened.Inc()
	logger.Debug("opened new database connection", "total", p.Stat().TotalConnections)
	return c, stale, nil
}

// release returns a connection to the idle set, or closes it when it is
// broken or the pool has shut down.
func (p *Pool) release(conn Conn, broken bool) {
	p.mu.Lock()
	if p.closed || broken {
		p.total--
		p.updateGauges()
		p.mu.Unlock()
		reason := "pool closed"
		if broken {
			reason = "connection error"
		}
		p.closeConn(conn, reason)
	} else {
		p.idle = append(p.idle, idleConn{conn: conn, since: time.Now()})
		p.updateGauges()
		p.mu.Unlock()
	}

	select {
	case p.slots <- struct{}{}:
	default:
		// Can only happen if a connection is released twice past the
		// idempotence guard; drop the token rather than block.
	}
}

// Close drains the pool. Idle connections are closed immediately, in-flight
// connections as they are released. Subsequent Acquire calls fail with
// ErrPoolClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.total -= len(idle)
	p.updateGauges()
	close(p.closedCh)
	p.mu.Unlock()

	for _, ic := range idle {
		p.closeConn(ic.conn, "pool closed")
	}
	logger.Info("database connection pool closed", "idle_closed", len(idle))
}

// Stat recomputes the pool counters under the lock; nothing is cached.
func (p *Pool) Stat() PoolInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolInfo{
		MaxConnections:   p.maxConns,
		TotalConnections: p.total,
		IdleConnections:  len(p.idle),
		WaitingCount:     p.waiting,
	}
}

func (p *Pool) addWaiter(delta int) {
	p.mu.Lock()
	p.waiting += delta
	p.updateGauges()
	p.mu.Unlock()
}

// updateGauges publishes the counters to prometheus. Callers hold p.mu.
func (p *Pool) updateGauges() {
	metrics.PoolTotalConns.Set(float64(p.total))
	metrics.PoolIdleConns.Set(float64(len(p.idle)))
	metrics.PoolWaitingCallers.Set(float64(p.waiting))
}

func (p *Pool) closeConn(conn Conn, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		logger.Warn("error closing database connection", "reason", reason, "error", err)
	} else {
		logger.Debug("closed database connection", "reason", reason)
	}
	metrics.PoolConnectionsClosed.Inc()
}

// PooledConn is an exclusively-owned handle to one physical connection. It
// is never shared between concurrent callers; ownership returns to the pool
// the moment Release is called.
type PooledConn struct {
	conn     Conn
	pool     *Pool
	released atomic.Bool
}

func (pc *PooledConn) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	return pc.conn.Query(ctx, sql, args...)
}

func (pc *PooledConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return pc.conn.Exec(ctx, sql, args...)
}

func (pc *PooledConn) Ping(ctx context.Context) error {
	return pc.conn.Ping(ctx)
}

// Release returns the connection to the pool. Broken connections are closed
// and replaced lazily instead of being reused. Release is idempotent;
// calls after the first are no-ops.
func (pc *PooledConn) Release(broken bool) {
	if !pc.released.CompareAndSwap(false, true) {
		return
	}
	pc.pool.release(pc.conn, broken)
}
