package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"syscall"

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
	"github.com/ekaya-inc/minidb/pkg/apperrors"
)

// lostConnectionMessages are substrings that servers and drivers put in
// errors raised after the link to the database died.
var lostConnectionMessages = []string{
	"server has gone away",
	"no connection to the server",
	"Lost connection",
	"is dead or not enabled",
	"Error while sending",
	"decryption failed or bad record mac",
	"server closed the connection unexpectedly",
	"SSL connection has been closed unexpectedly",
	"Error writing data to the connection",
	"Resource deadlock avoided",
	"child connection forced to terminate due to client_idle_limit",
	"query_wait_timeout",
	"reset by peer",
	"Physical connection is not usable",
	"TCP Provider: Error code 0x68",
	"ORA-03114",
	"Packets out of order. Expected",
	"Adaptive Server connection failed",
	"Communication link failure",
	"connection is no longer usable",
	"Login timeout expired",
	"Connection refused",
	"running with the --read-only option so it cannot execute this statement",
	"The connection is broken and recovery is not possible. The connection is marked by the client driver as unrecoverable.",
	"SSL SYSCALL error: EOF detected",
	"Connection timed out",
	"Temporary failure in name resolution",
	"SSL: Broken pipe",
	"could not connect to server",
	"No route to host",
	"The client was disconnected by the server because of inactivity",
	"could not translate host name",
	"TCP Provider: Error code 0x274C",
	"Network is unreachable",
	"server is shutting down",
	"failed to connect to",
	"Connection lost",
	"broken pipe",
	"went away",
	"conn closed",
	"bad connection",
	"invalid connection",
	"terminating connection due to administrator command",
	"the database system is shutting down",
}

// concurrencyMessages are substrings of deadlock and serialization errors.
var concurrencyMessages = []string{
	"Deadlock found when trying to get lock",
	"deadlock detected",
	"The database file is locked",
	"database is locked",
	"database table is locked",
	"A table in the database is locked",
	"has been chosen as the deadlock victim",
	"Lock wait timeout exceeded; try restarting transaction",
	"WSREP detected deadlock/conflict and aborted the transaction. Try restarting the transaction",
	"could not serialize access",
	"SQLSTATE 40001",
	"SQLSTATE 40P01",
}

// classifyError decides how run treats a failed statement. Concurrency wins
// over lost connection so deadlocks are never retried.
func classifyError(err error, classify datasource.Classifier) apperrors.QueryKind {
	if err == nil {
		return apperrors.QueryKindOther
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.QueryKindOther
	}

	if classify != nil {
		switch classify(err) {
		case datasource.ClassConcurrency:
			return apperrors.QueryKindConcurrency
		case datasource.ClassLostConnection:
			return apperrors.QueryKindLostConnection
		}
	}

	if causedByConcurrencyError(err) {
		return apperrors.QueryKindConcurrency
	}
	if causedByLostConnection(err) {
		return apperrors.QueryKindLostConnection
	}
	return apperrors.QueryKindOther
}

func causedByLostConnection(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return containsAny(err.Error(), lostConnectionMessages)
}

func causedByConcurrencyError(err error) bool {
	return containsAny(err.Error(), concurrencyMessages)
}

func containsAny(msg string, needles []string) bool {
	lower := strings.ToLower(msg)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
