package datasource

import (
	"context"
	"database/sql"

	"github.com/ekaya-inc/minidb/pkg/config"
)

// Handle is one raw, live database connection. A database.Connection owns its
// handles exclusively and replaces them wholesale on reconnect.
type Handle interface {
	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, query string, args ...any) (int64, error)

	// Query runs a statement and returns every row keyed by column name.
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)

	// Ping verifies the link to the server is usable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// ConnectFunc opens a Handle to one endpoint.
type ConnectFunc func(ctx context.Context, endpoint config.EndpointConfig) (Handle, error)

// OpenDBFunc opens a database/sql pool to one endpoint. The caller closes it.
type OpenDBFunc func(endpoint config.EndpointConfig) (*sql.DB, error)

// ErrorClass is what a driver can tell about a failed statement.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassLostConnection
	ClassConcurrency
)

func (c ErrorClass) String() string {
	switch c {
	case ClassLostConnection:
		return "lost_connection"
	case ClassConcurrency:
		return "concurrency"
	default:
		return "unknown"
	}
}

// Classifier inspects driver-specific error types (SQLSTATE codes, error
// numbers). It returns ClassUnknown when the error is not recognized.
type Classifier func(err error) ErrorClass

// Grammar holds the SQL dialect differences a Connection needs.
type Grammar interface {
	// Placeholders rewrites positional "?" markers into the driver's syntax.
	Placeholders(query string) string

	// QuoteIdentifier quotes a table or column name.
	QuoteIdentifier(name string) string

	// DateFormat is the Go layout used to bind time.Time values.
	DateFormat() string

	// BoolValue returns the driver representation of a boolean binding.
	BoolValue(b bool) any

	BeginTransaction() string
	Commit() string
	Rollback() string

	// SupportsSavepoints reports whether nested transactions can use savepoints.
	SupportsSavepoints() bool
	Savepoint(name string) string
	RollbackToSavepoint(name string) string
}
