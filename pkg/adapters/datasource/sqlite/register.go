package sqlite

import (
	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DriverRegistration{
		Info: datasource.DriverInfo{
			Name:        "sqlite",
			DisplayName: "SQLite",
			Description: "Embedded SQLite database (pure Go, no cgo)",
			Aliases:     []string{"sqlite3"},
		},
		Connect:    Connect,
		Grammar:    Grammar{},
		Classifier: Classify,
		OpenDB:     OpenDB,
	})
}
