package mssql

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/ekaya-inc/minidb/pkg/config"
)

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// buildConnectionString builds a sqlserver:// URL for SQL authentication.
// ssl_mode maps onto the driver's encrypt setting: "disable" turns encryption
// off, anything else keeps it on. Endpoint options are passed through as
// query parameters (e.g. TrustServerCertificate, app name).
func buildConnectionString(ep config.EndpointConfig) string {
	port := ep.Port
	if port == 0 {
		port = DefaultPort()
	}

	query := url.Values{}
	query.Add("database", ep.Database)

	if ep.SSLMode == "disable" {
		query.Add("encrypt", "false")
	} else {
		query.Add("encrypt", "true")
	}
	query.Add("connection timeout", strconv.Itoa(DefaultConnectionTimeout()))

	for k, v := range ep.Options {
		query.Set(k, v)
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(ep.Username),
		url.QueryEscape(ep.Password),
		ep.ResolvedHost(),
		port,
		query.Encode(),
	)
}
