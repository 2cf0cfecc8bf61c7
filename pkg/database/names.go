package database

import "strings"

const (
	readSuffix  = "::read"
	writeSuffix = "::write"
)

// handleKind is the role requested through a name suffix.
type handleKind int

const (
	kindDefault handleKind = iota
	kindRead
	kindWrite
)

func (k handleKind) String() string {
	switch k {
	case kindRead:
		return "read"
	case kindWrite:
		return "write"
	default:
		return "default"
	}
}

// connectionName is a requested name split into the configured base name
// and the optional role suffix. Full keys the singleton map and the pools.
type connectionName struct {
	Full string
	Base string
	Kind handleKind
}

// parseConnectionName resolves an empty name to fallback and strips a
// "::read" or "::write" suffix. Any other "::" is left in Base so the lookup
// fails as an unknown connection.
func parseConnectionName(name, fallback string) connectionName {
	if name == "" {
		name = fallback
	}
	switch {
	case strings.HasSuffix(name, readSuffix):
		return connectionName{Full: name, Base: strings.TrimSuffix(name, readSuffix), Kind: kindRead}
	case strings.HasSuffix(name, writeSuffix):
		return connectionName{Full: name, Base: strings.TrimSuffix(name, writeSuffix), Kind: kindWrite}
	default:
		return connectionName{Full: name, Base: name, Kind: kindDefault}
	}
}
