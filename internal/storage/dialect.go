package storage

import (
	"strconv"
	"strings"
	"time"
)

// dialect captures the few places SQLite and Postgres differ.
type dialect struct {
	name             string
	schemaVersionDDL string
	numbered         bool
	nativeTime       bool
}

var sqliteDialect = dialect{
	name: "sqlite",
	schemaVersionDDL: `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}

var postgresDialect = dialect{
	name: "postgres",
	schemaVersionDDL: `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ DEFAULT now()
	)`,
	numbered:   true,
	nativeTime: true,
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// timeArg converts stored timestamp text to a driver argument. Postgres gets
// a time.Time when the text is in TimeLayout; anything else is passed through
// for the server to parse.
func (d dialect) timeArg(text string) any {
	if !d.nativeTime {
		return text
	}
	if t, err := time.Parse(TimeLayout, text); err == nil {
		return t
	}
	return text
}
