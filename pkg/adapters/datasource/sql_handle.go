package datasource

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLHandle adapts a database/sql driver to Handle. It pins exactly one
// physical connection so session state (open transactions, savepoints,
// temporary tables) stays on the same link.
type SQLHandle struct {
	db   *sql.DB
	conn *sql.Conn
}

var _ Handle = (*SQLHandle)(nil)

// NewSQLHandle pins one connection from db. The handle takes ownership of db
// and closes it on Close.
func NewSQLHandle(ctx context.Context, db *sql.DB) (*SQLHandle, error) {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, err
	}
	return &SQLHandle{db: db, conn: conn}, nil
}

// Exec runs a statement and returns the affected row count. Drivers that do
// not report affected rows yield 0.
func (h *SQLHandle) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := h.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Query runs a statement and collects every row.
func (h *SQLHandle) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := h.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return ScanRows(rows)
}

// Ping verifies the pinned connection is alive.
func (h *SQLHandle) Ping(ctx context.Context) error {
	return h.conn.PingContext(ctx)
}

// Close closes the pinned connection and its *sql.DB.
func (h *SQLHandle) Close() error {
	connErr := h.conn.Close()
	dbErr := h.db.Close()
	if connErr != nil && connErr != sql.ErrConnDone {
		return connErr
	}
	return dbErr
}

// ScanRows reads all rows into maps keyed by column name. []byte values are
// converted to string.
func ScanRows(rows *sql.Rows) ([]map[string]any, error) {
	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columnNames))
		for i, col := range columnNames {
			val := values[i]
			if b, ok := val.([]byte); ok {
				val = string(b)
			}
			rowMap[col] = val
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return resultRows, nil
}
