package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
)

// Grammar renders PostgreSQL placeholders ($1, $2, ...).
type Grammar struct {
	datasource.BaseGrammar
}

func (Grammar) Placeholders(query string) string {
	return datasource.RewritePlaceholders(query, datasource.DollarMarker)
}

// SQLSTATE codes, see https://www.postgresql.org/docs/current/errcodes-appendix.html
var (
	concurrencyCodes = map[string]bool{
		"40001": true, // serialization_failure
		"40P01": true, // deadlock_detected
	}
	lostConnectionCodes = map[string]bool{
		"08000": true, // connection_exception
		"08003": true, // connection_does_not_exist
		"08006": true, // connection_failure
		"08001": true, // sqlclient_unable_to_establish_sqlconnection
		"08004": true, // sqlserver_rejected_establishment_of_sqlconnection
		"57P01": true, // admin_shutdown
		"57P02": true, // crash_shutdown
		"57P03": true, // cannot_connect_now
	}
)

// Classify maps pgx errors to an error class.
func Classify(err error) datasource.ErrorClass {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case concurrencyCodes[pgErr.Code]:
			return datasource.ClassConcurrency
		case lostConnectionCodes[pgErr.Code]:
			return datasource.ClassLostConnection
		}
		return datasource.ClassUnknown
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return datasource.ClassLostConnection
	}

	// Nothing reached the server, e.g. the conn was already closed.
	if pgconn.SafeToRetry(err) {
		return datasource.ClassLostConnection
	}
	return datasource.ClassUnknown
}
