package mysql

import (
	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DriverRegistration{
		Info: datasource.DriverInfo{
			Name:        "mysql",
			DisplayName: "MySQL",
			Description: "Connect to MySQL 8+, MariaDB 10.6+, Aurora MySQL",
			Aliases:     []string{"mariadb"},
		},
		Connect:    Connect,
		Grammar:    Grammar{},
		Classifier: Classify,
		OpenDB:     OpenDB,
	})
}
