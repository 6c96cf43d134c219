package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// pgxConnector opens single pgx connections. Pooling is handled one level
// up, so plain pgx.Connect is all that is needed here.
type pgxConnector struct {
	connString string
}

// NewConnector returns the production Connector backed by pgx. The
// connection string is passed to the driver untouched.
func NewConnector(connString string) Connector {
	return &pgxConnector{connString: connString}
}

func (c *pgxConnector) Connect(ctx context.Context) (Conn, error) {
	conn, err := pgx.Connect(ctx, c.connString)
	if err != nil {
		return nil, fmt.Errorf("db: failed to open connection: %w", err)
	}
	return &pgxConn{conn: conn}, nil
}

type pgxConn struct {
	conn *pgx.Conn
}

func (c *pgxConn) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var result []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *pgxConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := c.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *pgxConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *pgxConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
