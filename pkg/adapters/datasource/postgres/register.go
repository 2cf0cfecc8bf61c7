package postgres

import (
	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DriverRegistration{
		Info: datasource.DriverInfo{
			Name:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "Connect to PostgreSQL 12+, Aurora PostgreSQL, Supabase",
			Aliases:     []string{"pgsql", "postgresql"},
		},
		Connect:    Connect,
		Grammar:    Grammar{},
		Classifier: Classify,
		OpenDB:     OpenDB,
	})
}
