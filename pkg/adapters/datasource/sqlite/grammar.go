package sqlite

import (
	"errors"

	"modernc.org/sqlite"

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
)

// Grammar renders SQLite syntax. Booleans are stored as integers.
type Grammar struct {
	datasource.BaseGrammar
}

func (Grammar) BoolValue(b bool) any {
	if b {
		return 1
	}
	return 0
}

// Primary result codes, see https://www.sqlite.org/rescode.html
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// Classify maps SQLite busy and locked results to concurrency errors.
// An embedded database has no network link, so nothing is a lost connection.
func Classify(err error) datasource.ErrorClass {
	var liteErr *sqlite.Error
	if !errors.As(err, &liteErr) {
		return datasource.ClassUnknown
	}

	switch liteErr.Code() & 0xff {
	case sqliteBusy, sqliteLocked:
		return datasource.ClassConcurrency
	}
	return datasource.ClassUnknown
}
