package postgres

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/ekaya-inc/minidb/pkg/config"
)

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields are URL-escaped so special characters in
// passwords (e.g., @, /, #, ?) do not break URL parsing.
// Extra endpoint options are appended as query parameters.
func buildConnectionString(ep config.EndpointConfig) string {
	port := ep.Port
	if port == 0 {
		port = DefaultPort()
	}

	query := url.Values{}
	sslMode := ep.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}
	query.Set("sslmode", sslMode)

	keys := make([]string, 0, len(ep.Options))
	for k := range ep.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		query.Set(k, ep.Options[k])
	}

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(ep.Username),
		url.QueryEscape(ep.Password),
		ep.ResolvedHost(),
		port,
		url.QueryEscape(ep.Database),
		query.Encode(),
	)
}
