package mysql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
	"github.com/ekaya-inc/minidb/pkg/config"
)

// Connect opens one MySQL connection to the endpoint.
func Connect(ctx context.Context, ep config.EndpointConfig) (datasource.Handle, error) {
	db, err := sql.Open("mysql", buildDSN(ep))
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	h, err := datasource.NewSQLHandle(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("connect to mysql: %w", err)
	}
	return h, nil
}

// OpenDB returns a database/sql pool for tools that need one (migrations).
func OpenDB(ep config.EndpointConfig) (*sql.DB, error) {
	return sql.Open("mysql", buildDSN(ep))
}
