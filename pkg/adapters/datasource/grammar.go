package datasource

import (
	"strconv"
	"strings"
)

// BaseGrammar is an ANSI grammar with "?" placeholders and double-quoted
// identifiers. Drivers embed it and override what differs.
type BaseGrammar struct{}

var _ Grammar = BaseGrammar{}

func (BaseGrammar) Placeholders(query string) string { return query }

func (BaseGrammar) QuoteIdentifier(name string) string {
	return QuoteSegments(name, `"`, `"`)
}

func (BaseGrammar) DateFormat() string { return "2006-01-02 15:04:05" }

func (BaseGrammar) BoolValue(b bool) any { return b }

func (BaseGrammar) BeginTransaction() string { return "BEGIN" }
func (BaseGrammar) Commit() string           { return "COMMIT" }
func (BaseGrammar) Rollback() string         { return "ROLLBACK" }

func (BaseGrammar) SupportsSavepoints() bool { return true }

func (BaseGrammar) Savepoint(name string) string {
	return "SAVEPOINT " + name
}

func (BaseGrammar) RollbackToSavepoint(name string) string {
	return "ROLLBACK TO SAVEPOINT " + name
}

// RewritePlaceholders replaces every "?" outside quoted literals with
// marker(n), n starting at 1.
func RewritePlaceholders(query string, marker func(n int) string) string {
	if !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	var quote rune
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == '?':
			n++
			b.WriteString(marker(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DollarMarker renders $1, $2, ...
func DollarMarker(n int) string {
	return "$" + strconv.Itoa(n)
}

// QuoteSegments quotes each dot-separated part of an identifier, escaping the
// closing quote by doubling it. "*" is left bare.
func QuoteSegments(name, open, closing string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		if part == "*" {
			continue
		}
		parts[i] = open + strings.ReplaceAll(part, closing, closing+closing) + closing
	}
	return strings.Join(parts, ".")
}
