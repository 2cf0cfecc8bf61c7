package mssql

import (
	"errors"
	"strconv"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
)

// Grammar renders SQL Server syntax: @p1 markers, [bracketed] identifiers and
// SAVE TRANSACTION savepoints.
type Grammar struct {
	datasource.BaseGrammar
}

func (Grammar) Placeholders(query string) string {
	return datasource.RewritePlaceholders(query, func(n int) string {
		return "@p" + strconv.Itoa(n)
	})
}

// QuoteIdentifier quotes like QUOTENAME(): [name] with ] escaped as ]].
func (Grammar) QuoteIdentifier(name string) string {
	return datasource.QuoteSegments(name, "[", "]")
}

func (Grammar) DateFormat() string { return "2006-01-02 15:04:05.000" }

func (Grammar) BoolValue(b bool) any {
	if b {
		return 1
	}
	return 0
}

func (Grammar) BeginTransaction() string { return "BEGIN TRANSACTION" }
func (Grammar) Commit() string           { return "COMMIT TRANSACTION" }
func (Grammar) Rollback() string         { return "ROLLBACK TRANSACTION" }

func (Grammar) Savepoint(name string) string {
	return "SAVE TRANSACTION " + name
}

func (Grammar) RollbackToSavepoint(name string) string {
	return "ROLLBACK TRANSACTION " + name
}

// Error numbers, see sys.messages.
const (
	errDeadlockVictim   = 1205
	errSnapshotConflict = 3960
	errLockTimeout      = 1222
	errTransportLevel   = 10054
	errConnectionBroken = 233
	errServerShutdown   = 6005
)

// Classify maps go-mssqldb errors to an error class.
func Classify(err error) datasource.ErrorClass {
	var msErr mssqldb.Error
	if !errors.As(err, &msErr) {
		return datasource.ClassUnknown
	}

	switch msErr.Number {
	case errDeadlockVictim, errSnapshotConflict, errLockTimeout:
		return datasource.ClassConcurrency
	case errTransportLevel, errConnectionBroken, errServerShutdown:
		return datasource.ClassLostConnection
	}
	return datasource.ClassUnknown
}
