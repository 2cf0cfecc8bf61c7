package mysql

import (
	"errors"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
)

// Grammar renders MySQL syntax: ? markers and `backtick` identifiers.
type Grammar struct {
	datasource.BaseGrammar
}

func (Grammar) QuoteIdentifier(name string) string {
	return datasource.QuoteSegments(name, "`", "`")
}

func (Grammar) BoolValue(b bool) any {
	if b {
		return 1
	}
	return 0
}

func (Grammar) BeginTransaction() string { return "START TRANSACTION" }

// Server error numbers, see the MySQL error reference.
const (
	errLockWaitTimeout  = 1205
	errLockDeadlock     = 1213
	errServerGone       = 2006
	errServerLost       = 2013
	errServerShutdown   = 1053
	errConnectionKilled = 1927
)

// Classify maps go-sql-driver errors to an error class.
func Classify(err error) datasource.ErrorClass {
	if errors.Is(err, gomysql.ErrInvalidConn) {
		return datasource.ClassLostConnection
	}

	var myErr *gomysql.MySQLError
	if !errors.As(err, &myErr) {
		return datasource.ClassUnknown
	}

	switch myErr.Number {
	case errLockDeadlock, errLockWaitTimeout:
		return datasource.ClassConcurrency
	case errServerGone, errServerLost, errServerShutdown, errConnectionKilled:
		return datasource.ClassLostConnection
	}
	return datasource.ClassUnknown
}
