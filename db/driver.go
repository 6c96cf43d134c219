package db

import "context"

// Row is one result row projected as column name to value. Schema knowledge
// stays with the caller; the client only ferries rows through.
type Row map[string]any

// Conn is the minimal capability a physical database connection must
// provide. The pool and everything above it are written against this
// interface, so the production pgx implementation is swappable for fakes in
// tests or another driver entirely.
type Conn interface {
	// Query executes a parameterized statement and returns all result rows.
	Query(ctx context.Context, sql string, args ...any) ([]Row, error)

	// Exec executes a parameterized statement and returns the number of
	// rows affected.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	// Ping verifies the connection is still alive.
	Ping(ctx context.Context) error

	// Close tears down the physical connection.
	Close(ctx context.Context) error
}

// Connector opens new physical connections for the pool.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}
