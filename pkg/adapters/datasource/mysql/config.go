package mysql

import (
	"net"
	"strconv"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/ekaya-inc/minidb/pkg/config"
)

// DefaultPort returns the default MySQL port.
func DefaultPort() int {
	return 3306
}

// buildDSN formats a go-sql-driver DSN. ssl_mode is passed through as the
// driver's tls parameter ("true", "false", "skip-verify", "preferred").
func buildDSN(ep config.EndpointConfig) string {
	port := ep.Port
	if port == 0 {
		port = DefaultPort()
	}

	cfg := gomysql.NewConfig()
	cfg.User = ep.Username
	cfg.Passwd = ep.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(ep.ResolvedHost(), strconv.Itoa(port))
	cfg.DBName = ep.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if ep.SSLMode != "" {
		cfg.TLSConfig = ep.SSLMode
	}
	if len(ep.Options) > 0 {
		cfg.Params = make(map[string]string, len(ep.Options))
		for k, v := range ep.Options {
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN()
}
