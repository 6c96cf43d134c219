package db

import (
	"context"
	"time"

	"github.com/moneta/pgclient/logger"
	"github.com/moneta/pgclient/pkg/metrics"
	"github.com/moneta/pgclient/pkg/retry"
)

// Tx is a connection-bound transaction scope. Every statement issued
// through it runs on the same physical connection, strictly ordered, inside
// one BEGIN..COMMIT/ROLLBACK cycle. A Tx never escapes the WithTransaction
// callback that created it.
type Tx struct {
	conn *PooledConn
	done bool
}

// WithTransaction runs fn inside a database transaction.
//
// One connection is acquired for the whole unit of work (acquisition is
// subject to the standard retry policy) and is not returned to the pool
// until the transaction finishes, so no other caller can interleave
// statements on it. On success the transaction commits; when fn or COMMIT
// itself fails, a best-effort ROLLBACK is issued and the original error
// propagates unchanged. A panic in fn rolls back and re-raises.
func (c *Client) WithTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	if c.closed.Load() {
		return ErrPoolClosed
	}

	var conn *PooledConn
	err := retry.Do(ctx, c.retryCfg.WithName("db_tx_begin"), func(ctx context.Context) error {
		pc, err := c.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		if _, err := pc.Exec(ctx, "BEGIN"); err != nil {
			pc.Release(retry.IsRetryable(err))
			return err
		}
		conn = pc
		return nil
	})
	if err != nil {
		return err
	}

	start := time.Now()
	tx := &Tx{conn: conn}

	defer func() {
		if p := recover(); p != nil {
			c.rollback(ctx, tx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		c.rollback(ctx, tx)
		return err
	}

	if _, err := conn.Exec(ctx, "COMMIT"); err != nil {
		c.rollback(ctx, tx)
		return err
	}
	tx.done = true
	conn.Release(false)

	metrics.TransactionsTotal.WithLabelValues("commit").Inc()
	metrics.TransactionDuration.Observe(time.Since(start).Seconds())
	return nil
}

// rollback issues a best-effort ROLLBACK and releases the connection. A
// rollback failure is logged, never surfaced, so it cannot mask the error
// that triggered it.
func (c *Client) rollback(ctx context.Context, tx *Tx) {
	tx.done = true

	// The original context may already be cancelled; the rollback still
	// has to reach the database.
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	broken := false
	if _, err := tx.conn.Exec(rbCtx, "ROLLBACK"); err != nil {
		logger.Warn("transaction rollback failed", "error", err)
		broken = true
	}
	tx.conn.Release(broken)
	metrics.TransactionsTotal.WithLabelValues("rollback").Inc()
}

// Query executes a statement on the transaction's connection and returns
// all result rows. Statements inside a transaction are never retried;
// replaying half a unit of work is not safe.
func (tx *Tx) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	if tx.done {
		return nil, ErrTxFinished
	}
	return tx.conn.Query(ctx, sql, args...)
}

// QueryRow executes a statement and returns the first row, or nil when the
// result set is empty.
func (tx *Tx) QueryRow(ctx context.Context, sql string, args ...any) (Row, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Exec executes a statement on the transaction's connection and returns the
// number of rows affected.
func (tx *Tx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if tx.done {
		return 0, ErrTxFinished
	}
	return tx.conn.Exec(ctx, sql, args...)
}

// WithTransaction rejects nested transactions. It fails immediately without
// touching the database.
func (tx *Tx) WithTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	return ErrNestedTransaction
}
