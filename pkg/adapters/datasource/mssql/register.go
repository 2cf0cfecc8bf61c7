package mssql

import (
	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DriverRegistration{
		Info: datasource.DriverInfo{
			Name:        "sqlserver",
			DisplayName: "Microsoft SQL Server",
			Description: "Connect to SQL Server 2019+, Azure SQL Database",
			Aliases:     []string{"mssql"},
		},
		Connect:    Connect,
		Grammar:    Grammar{},
		Classifier: Classify,
		OpenDB:     OpenDB,
	})
}
