package db

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// txConnector wires every handed-out connection to one shared statement
// recorder.
func txConnector(rec *recorder, execFn func(sql string, args []any) (int64, error)) *stubConnector {
	return &stubConnector{connectFn: func(int) (Conn, error) {
		return &stubConn{rec: rec, execFn: execFn}, nil
	}}
}

func TestWithTransactionCommit(t *testing.T) {
	rec := &recorder{}
	client := newTestClient(t, fastConfig(), txConnector(rec, nil))

	err := client.WithTransaction(context.Background(), func(tx *Tx) error {
		if _, err := tx.Exec(context.Background(), "INSERT INTO transactions (amount) VALUES ($1)", 100); err != nil {
			return err
		}
		_, err := tx.Exec(context.Background(), "UPDATE accounts SET balance = balance - $1", 100)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"BEGIN",
		"INSERT INTO transactions (amount) VALUES ($1)",
		"UPDATE accounts SET balance = balance - $1",
		"COMMIT",
	}, rec.statements())

	info := client.PoolInfo()
	assert.Equal(t, 1, info.TotalConnections, "the whole transaction runs on one connection")
	assert.Equal(t, 1, info.IdleConnections, "the connection returns to the pool after COMMIT")
}

func TestWithTransactionRollbackOnError(t *testing.T) {
	rec := &recorder{}
	client := newTestClient(t, fastConfig(), txConnector(rec, nil))

	boom := errors.New("boom")
	err := client.WithTransaction(context.Background(), func(tx *Tx) error {
		return boom
	})
	require.ErrorIs(t, err, boom, "the callback's error must propagate unchanged")

	assert.Equal(t, []string{"BEGIN", "ROLLBACK"}, rec.statements())
	assert.Equal(t, 1, client.PoolInfo().IdleConnections)
}

func TestWithTransactionCommitFailureRollsBack(t *testing.T) {
	rec := &recorder{}
	commitErr := errors.New("could not serialize access due to concurrent update")
	client := newTestClient(t, fastConfig(), txConnector(rec, func(sql string, _ []any) (int64, error) {
		if sql == "COMMIT" {
			return 0, commitErr
		}
		return 0, nil
	}))

	err := client.WithTransaction(context.Background(), func(tx *Tx) error {
		_, err := tx.Exec(context.Background(), "UPDATE budgets SET spent = spent + 1")
		return err
	})
	require.ErrorIs(t, err, commitErr)

	assert.Equal(t, []string{
		"BEGIN",
		"UPDATE budgets SET spent = spent + 1",
		"COMMIT",
		"ROLLBACK",
	}, rec.statements())
}

func TestWithTransactionPanicRollsBack(t *testing.T) {
	rec := &recorder{}
	client := newTestClient(t, fastConfig(), txConnector(rec, nil))

	require.PanicsWithValue(t, "bookkeeping bug", func() {
		_ = client.WithTransaction(context.Background(), func(tx *Tx) error {
			panic("bookkeeping bug")
		})
	})

	assert.Equal(t, []string{"BEGIN", "ROLLBACK"}, rec.statements())
	assert.Equal(t, 1, client.PoolInfo().IdleConnections, "the connection must not leak on panic")
}

func TestWithTransactionRejectsNesting(t *testing.T) {
	rec := &recorder{}
	client := newTestClient(t, fastConfig(), txConnector(rec, nil))

	err := client.WithTransaction(context.Background(), func(tx *Tx) error {
		return tx.WithTransaction(context.Background(), func(inner *Tx) error {
			t.Error("nested transaction callback must never run")
			return nil
		})
	})
	require.ErrorIs(t, err, ErrNestedTransaction)

	// The nested call fails before issuing any statement.
	assert.Equal(t, []string{"BEGIN", "ROLLBACK"}, rec.statements())
}

func TestTxUnusableAfterFinish(t *testing.T) {
	client := newTestClient(t, fastConfig(), txConnector(&recorder{}, nil))

	var leaked *Tx
	err := client.WithTransaction(context.Background(), func(tx *Tx) error {
		leaked = tx
		return nil
	})
	require.NoError(t, err)

	_, err = leaked.Query(context.Background(), "SELECT 1")
	require.ErrorIs(t, err, ErrTxFinished)
	_, err = leaked.Exec(context.Background(), "DELETE FROM accounts")
	require.ErrorIs(t, err, ErrTxFinished)
}

func TestWithTransactionRetriesBegin(t *testing.T) {
	rec := &recorder{}
	connector := &stubConnector{connectFn: func(dial int) (Conn, error) {
		return &stubConn{rec: rec, execFn: func(sql string, _ []any) (int64, error) {
			if sql == "BEGIN" && dial == 1 {
				return 0, syscall.ECONNRESET
			}
			return 0, nil
		}}, nil
	}}
	client := newTestClient(t, fastConfig(), connector)

	err := client.WithTransaction(context.Background(), func(tx *Tx) error {
		return nil
	})
	require.NoError(t, err)

	// Acquisition retried onto a fresh connection; statements inside the
	// transaction never are.
	assert.Equal(t, 2, connector.dialCount())
	assert.Equal(t, []string{"BEGIN", "BEGIN", "COMMIT"}, rec.statements())
}

func TestWithTransactionHoldsConnection(t *testing.T) {
	rec := &recorder{}
	client := newTestClient(t, fastConfig(), txConnector(rec, nil))

	err := client.WithTransaction(context.Background(), func(tx *Tx) error {
		info := client.PoolInfo()
		assert.Equal(t, 1, info.TotalConnections)
		assert.Equal(t, 0, info.IdleConnections, "the transaction owns its connection exclusively")
		return nil
	})
	require.NoError(t, err)
}
