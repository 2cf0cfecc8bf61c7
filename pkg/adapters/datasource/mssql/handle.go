package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
	"github.com/ekaya-inc/minidb/pkg/config"
)

// Connect opens one SQL Server connection to the endpoint.
func Connect(ctx context.Context, ep config.EndpointConfig) (datasource.Handle, error) {
	db, err := sql.Open("sqlserver", buildConnectionString(ep))
	if err != nil {
		return nil, fmt.Errorf("open SQL auth connection: %w", err)
	}

	h, err := datasource.NewSQLHandle(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlserver: %w", err)
	}
	return h, nil
}

// OpenDB returns a database/sql pool for tools that need one (migrations).
func OpenDB(ep config.EndpointConfig) (*sql.DB, error) {
	return sql.Open("sqlserver", buildConnectionString(ep))
}
