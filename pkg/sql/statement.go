// Package sql inspects raw statement text before it is handed to a connection.
package sql

import (
	"errors"
	"strings"
)

// ErrMultipleStatements is returned when the text holds more than one statement.
var ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

// ErrEmptyStatement is returned for blank input.
var ErrEmptyStatement = errors.New("empty SQL statement")

// readVerbs start statements that return rows.
var readVerbs = map[string]bool{
	"select":   true,
	"with":     true,
	"show":     true,
	"explain":  true,
	"pragma":   true,
	"values":   true,
	"describe": true,
}

// Normalize trims whitespace and one trailing semicolon, then rejects text
// that still holds a semicolon outside a quoted literal or comment.
func Normalize(query string) (string, error) {
	query = strings.TrimSpace(query)
	query = strings.TrimSpace(strings.TrimSuffix(query, ";"))
	if query == "" {
		return "", ErrEmptyStatement
	}
	if hasSeparator(query) {
		return "", ErrMultipleStatements
	}
	return query, nil
}

// IsRead reports whether the statement's leading keyword is one that returns
// rows. Leading comments and parentheses are skipped.
func IsRead(query string) bool {
	verb := leadingKeyword(query)
	return readVerbs[verb]
}

func leadingKeyword(query string) string {
	s := query
	for {
		s = strings.TrimLeft(s, " \t\r\n(")
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return ""
			}
			s = s[i+2:]
		default:
			end := strings.IndexFunc(s, func(r rune) bool {
				return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
			})
			if end < 0 {
				end = len(s)
			}
			return strings.ToLower(s[:end])
		}
	}
}

// hasSeparator scans for ';' outside quotes, identifiers and comments.
func hasSeparator(query string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	var prev rune
	for _, ch := range query {
		switch state {
		case stateNormal:
			switch {
			case ch == ';':
				return true
			case ch == '\'':
				state = stateSingleQuote
			case ch == '"':
				state = stateDoubleQuote
			case ch == '-' && prev == '-':
				state = stateLineComment
			case ch == '*' && prev == '/':
				state = stateBlockComment
			}
		case stateSingleQuote:
			// '' re-enters on the next quote, which keeps us in the literal.
			if ch == '\'' && prev != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if ch == '"' && prev != '\\' {
				state = stateNormal
			}
		case stateLineComment:
			if ch == '\n' {
				state = stateNormal
			}
		case stateBlockComment:
			if ch == '/' && prev == '*' {
				state = stateNormal
				ch = 0
			}
		}
		prev = ch
	}
	return false
}
