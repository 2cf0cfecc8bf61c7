package database

import (
	"context"
	"time"

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
	"github.com/ekaya-inc/minidb/pkg/apperrors"
)

// Select runs a query against the read handle and returns every row.
func (c *Connection) Select(ctx context.Context, query string, bindings ...any) ([]map[string]any, error) {
	return c.selectRows(ctx, query, bindings, true)
}

// SelectFromWriteConnection runs a query against the write handle.
func (c *Connection) SelectFromWriteConnection(ctx context.Context, query string, bindings ...any) ([]map[string]any, error) {
	return c.selectRows(ctx, query, bindings, false)
}

func (c *Connection) selectRows(ctx context.Context, query string, bindings []any, useRead bool) ([]map[string]any, error) {
	var rows []map[string]any
	err := c.run(ctx, statement{query: query, bindings: bindings, useRead: useRead},
		func(ctx context.Context, h datasource.Handle, query string, args []any) error {
			result, err := h.Query(ctx, query, args...)
			if err != nil {
				return err
			}
			rows = result
			return nil
		})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, nil
}

// SelectOne returns the first row, or nil when the query matched nothing.
func (c *Connection) SelectOne(ctx context.Context, query string, bindings ...any) (map[string]any, error) {
	rows, err := c.Select(ctx, query, bindings...)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Scalar returns the single column of the first row, or nil when the query
// matched nothing.
func (c *Connection) Scalar(ctx context.Context, query string, bindings ...any) (any, error) {
	row, err := c.SelectOne(ctx, query, bindings...)
	if err != nil || row == nil {
		return nil, err
	}
	if len(row) > 1 {
		return nil, apperrors.ErrMultipleColumnsSelected
	}
	for _, v := range row {
		return v, nil
	}
	return nil, nil
}

// Insert runs an insert statement.
func (c *Connection) Insert(ctx context.Context, query string, bindings ...any) error {
	return c.Statement(ctx, query, bindings...)
}

// Update runs an update statement and returns the affected row count.
func (c *Connection) Update(ctx context.Context, query string, bindings ...any) (int64, error) {
	return c.AffectingStatement(ctx, query, bindings...)
}

// Delete runs a delete statement and returns the affected row count.
func (c *Connection) Delete(ctx context.Context, query string, bindings ...any) (int64, error) {
	return c.AffectingStatement(ctx, query, bindings...)
}

// Statement runs a statement on the write handle. Success marks the
// connection as modified.
func (c *Connection) Statement(ctx context.Context, query string, bindings ...any) error {
	return c.run(ctx, statement{query: query, bindings: bindings},
		func(ctx context.Context, h datasource.Handle, query string, args []any) error {
			if _, err := h.Exec(ctx, query, args...); err != nil {
				return err
			}
			c.recordsModified = true
			return nil
		})
}

// AffectingStatement runs a statement on the write handle and returns the
// affected row count. The connection is marked as modified when it is
// positive.
func (c *Connection) AffectingStatement(ctx context.Context, query string, bindings ...any) (int64, error) {
	var affected int64
	err := c.run(ctx, statement{query: query, bindings: bindings},
		func(ctx context.Context, h datasource.Handle, query string, args []any) error {
			n, err := h.Exec(ctx, query, args...)
			if err != nil {
				return err
			}
			affected = n
			if n > 0 {
				c.recordsModified = true
			}
			return nil
		})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Unprepared sends raw SQL without bindings or placeholder rewriting.
func (c *Connection) Unprepared(ctx context.Context, query string) error {
	return c.run(ctx, statement{query: query, unprepared: true},
		func(ctx context.Context, h datasource.Handle, query string, _ []any) error {
			if _, err := h.Exec(ctx, query); err != nil {
				return err
			}
			c.recordsModified = true
			return nil
		})
}

// Pretend runs fn with execution disabled. Statements issued through c are
// recorded instead of sent and returned as the log. Selects return no rows.
func (c *Connection) Pretend(ctx context.Context, fn func(ctx context.Context, c *Connection) error) (log []QueryLogEntry, err error) {
	c.mu.Lock()
	previousLog := c.queryLog
	wasLogging := c.loggingQueries
	c.queryLog = nil
	c.loggingQueries = true
	c.pretending = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		log = c.queryLog
		c.queryLog = previousLog
		c.loggingQueries = wasLogging
		c.pretending = false
		c.mu.Unlock()
	}()

	return nil, fn(ctx, c)
}

// Pretending reports whether the connection is inside Pretend.
func (c *Connection) Pretending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pretending
}

// EnableQueryLog starts recording every statement in memory.
func (c *Connection) EnableQueryLog() {
	c.mu.Lock()
	c.loggingQueries = true
	c.mu.Unlock()
}

// DisableQueryLog stops recording. Entries already recorded are kept.
func (c *Connection) DisableQueryLog() {
	c.mu.Lock()
	c.loggingQueries = false
	c.mu.Unlock()
}

// LoggingQueries reports whether the query log is enabled.
func (c *Connection) LoggingQueries() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggingQueries
}

// QueryLog returns a copy of the recorded statements.
func (c *Connection) QueryLog() []QueryLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]QueryLogEntry, len(c.queryLog))
	copy(out, c.queryLog)
	return out
}

// FlushQueryLog discards the recorded statements.
func (c *Connection) FlushQueryLog() {
	c.mu.Lock()
	c.queryLog = nil
	c.mu.Unlock()
}

func (c *Connection) logQueryLocked(query string, bindings []any, elapsed time.Duration) {
	if !c.loggingQueries {
		return
	}
	c.queryLog = append(c.queryLog, QueryLogEntry{SQL: query, Bindings: bindings, Duration: elapsed})
}
