package db

import "errors"

var (
	// ErrPoolTimeout is returned when an acquire waited the full connect
	// timeout without a slot becoming free. It lets callers distinguish
	// "no capacity" from "query failed".
	ErrPoolTimeout = errors.New("db: timed out waiting for a connection from the pool")

	// ErrPoolClosed is returned for any operation attempted after Close.
	ErrPoolClosed = errors.New("db: connection pool is closed")

	// ErrNestedTransaction is returned when a transaction is started from
	// inside an already-running transaction scope.
	ErrNestedTransaction = errors.New("db: nested transactions are not supported")

	// ErrTxFinished is returned for statements issued on a transaction
	// scope after it committed or rolled back.
	ErrTxFinished = errors.New("db: transaction has already finished")

	// ErrNotInitialized is returned by Default before InitDefault ran.
	ErrNotInitialized = errors.New("db: default client is not initialized")
)
