package sqldb

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite, "sqlite":
		return dialectSQLite, nil
	case DriverPostgres, "postgres", "postgresql":
		return dialectPostgres, nil
	}
	return 0, fmt.Errorf("unsupported database driver %q", driver)
}

// rebind rewrites ? placeholders to $1..$n for PostgreSQL. Queries in this
// package never contain a literal '?'.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// forUpdate is the row-lock suffix. SQLite has no row locks; its units
// already hold the database write lock (_txlock=immediate).
func (d dialect) forUpdate() string {
	if d == dialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// sqliteDSN appends the connection parameters the store relies on unless
// the caller already supplied a query string.
func sqliteDSN(path string, busy time.Duration) string {
	if strings.Contains(path, "?") {
		return path
	}
	if busy <= 0 {
		busy = 5 * time.Second
	}
	return fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d",
		path, busy.Milliseconds())
}

// =============================================================================
// VALUE ENCODING
// =============================================================================

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
