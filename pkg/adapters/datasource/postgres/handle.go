package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
	"github.com/ekaya-inc/minidb/pkg/config"
)

const closeTimeout = 5 * time.Second

// Handle is a single pgx connection.
type Handle struct {
	conn *pgx.Conn
}

var _ datasource.Handle = (*Handle)(nil)

// Connect opens one pgx connection to the endpoint.
func Connect(ctx context.Context, ep config.EndpointConfig) (datasource.Handle, error) {
	connCfg, err := pgx.ParseConfig(buildConnectionString(ep))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &Handle{conn: conn}, nil
}

// OpenDB returns a database/sql pool for tools that need one (migrations).
// The caller closes it.
func OpenDB(ep config.EndpointConfig) (*sql.DB, error) {
	connCfg, err := pgx.ParseConfig(buildConnectionString(ep))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	return stdlib.OpenDB(*connCfg), nil
}

// Exec runs a statement. Without arguments pgx uses the simple protocol, so
// multi-statement scripts are accepted.
func (h *Handle) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := h.conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Query runs a statement and collects every row.
func (h *Handle) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := h.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		rowMap := make(map[string]any, len(fields))
		for i, fd := range fields {
			rowMap[fd.Name] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return resultRows, nil
}

// Ping verifies the connection is alive.
func (h *Handle) Ping(ctx context.Context) error {
	return h.conn.Ping(ctx)
}

// Close terminates the connection.
func (h *Handle) Close() error {
	if h.conn.IsClosed() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return h.conn.Close(ctx)
}
