package apperrors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrPoolClosed    = errors.New("pool is closed")
	ErrNoActiveScope = errors.New("pooled connection requested outside of an active scope")
	ErrScopeEnded    = errors.New("scope has already ended")
	ErrNoHandle      = errors.New("connection has no live handle")
	ErrNotBorrowed   = errors.New("connection is not borrowed by the active scope")
	ErrManagerClosed = errors.New("connection manager is closed")

	ErrMultipleColumnsSelected = errors.New("scalar query selected more than one column")
)

// ConfigurationError reports a missing or invalid named connection configuration.
// It is fatal and never retried.
type ConfigurationError struct {
	Connection string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.Connection == "" {
		return "database configuration: " + e.Reason
	}
	return fmt.Sprintf("database connection [%s]: %s", e.Connection, e.Reason)
}

// UnsupportedOperationError is returned when a driver-specific extension point
// is requested but nothing is registered for it.
type UnsupportedOperationError struct {
	Connection string
	Driver     string
	Operation  string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("database connection [%s]: %s is not supported for driver %q", e.Connection, e.Operation, e.Driver)
}

// ConnectionBuildError wraps a factory failure while producing a live handle.
type ConnectionBuildError struct {
	Connection string
	Err        error
}

func (e *ConnectionBuildError) Error() string {
	return fmt.Sprintf("failed to build connection [%s]: %v", e.Connection, e.Err)
}

func (e *ConnectionBuildError) Unwrap() error {
	return e.Err
}

// ReconnectUnavailableError is a programming error: the connection was built
// without a reconnector.
type ReconnectUnavailableError struct {
	Connection string
}

func (e *ReconnectUnavailableError) Error() string {
	return fmt.Sprintf("lost connection [%s] and no reconnector is available", e.Connection)
}

// QueryKind classifies a failed statement.
type QueryKind string

const (
	QueryKindOther          QueryKind = "other"
	QueryKindLostConnection QueryKind = "lost_connection"
	QueryKindConcurrency    QueryKind = "concurrency"
)

// QueryError wraps a failed statement with the SQL and bindings that caused it.
type QueryError struct {
	Connection string
	SQL        string
	Bindings   []any
	Kind       QueryKind
	Err        error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%v (Connection: %s, SQL: %s)", e.Err, e.Connection, e.RawSQL())
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// RawSQL renders the statement with its bindings substituted for each "?".
// The result is for diagnostics only and must never be executed.
func (e *QueryError) RawSQL() string {
	return InterpolateBindings(e.SQL, e.Bindings)
}

// IsLostConnection reports whether err is a QueryError caused by a dead link.
func IsLostConnection(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Kind == QueryKindLostConnection
}

// IsConcurrency reports whether err is a QueryError caused by a deadlock or
// serialization failure.
func IsConcurrency(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Kind == QueryKindConcurrency
}

// InterpolateBindings replaces positional "?" markers with literal renderings
// of bindings. Markers inside quoted literals are left alone.
func InterpolateBindings(query string, bindings []any) string {
	if len(bindings) == 0 {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16*len(bindings))

	next := 0
	var quote rune
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?' && next < len(bindings):
			b.WriteString(renderBinding(bindings[next]))
			next++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func renderBinding(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case []byte:
		return "'" + strings.ReplaceAll(string(val), "'", "''") + "'"
	case time.Time:
		return "'" + val.Format("2006-01-02 15:04:05") + "'"
	case bool:
		if val {
			return "1"
		}
		return "0"
	case fmt.Stringer:
		return "'" + strings.ReplaceAll(val.String(), "'", "''") + "'"
	default:
		return fmt.Sprint(val)
	}
}
