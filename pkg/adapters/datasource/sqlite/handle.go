package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registered as "sqlite"

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
	"github.com/ekaya-inc/minidb/pkg/config"
)

// MemoryDatabase is used when no database path is configured. Every handle
// gets its own private in-memory database.
const MemoryDatabase = ":memory:"

// buildDSN returns the database path followed by endpoint options as query
// parameters, e.g. "app.db?_pragma=busy_timeout(5000)".
func buildDSN(ep config.EndpointConfig) string {
	dsn := ep.Database
	if dsn == "" {
		dsn = MemoryDatabase
	}
	if len(ep.Options) == 0 {
		return dsn
	}

	keys := make([]string, 0, len(ep.Options))
	for k := range ep.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	query := url.Values{}
	for _, k := range keys {
		query.Add(k, ep.Options[k])
	}
	return dsn + "?" + query.Encode()
}

// Connect opens one SQLite connection. Host, port and credentials are ignored.
func Connect(ctx context.Context, ep config.EndpointConfig) (datasource.Handle, error) {
	db, err := sql.Open("sqlite", buildDSN(ep))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	h, err := datasource.NewSQLHandle(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}
	return h, nil
}

// OpenDB returns a database/sql pool for tools that need one (migrations).
func OpenDB(ep config.EndpointConfig) (*sql.DB, error) {
	return sql.Open("sqlite", buildDSN(ep))
}
