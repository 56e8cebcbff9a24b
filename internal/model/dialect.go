package model

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	_ "modernc.org/sqlite" // register sqlite driver
)

// Dialect selects SQL flavour differences between the supported backends.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ConflictPolicy decides what happens when a bar with the same key already exists.
type ConflictPolicy string

const (
	// ConflictIgnore keeps the stored row (insert-or-ignore).
	ConflictIgnore ConflictPolicy = "ignore"
	// ConflictReplace overwrites the stored row (last write wins).
	ConflictReplace ConflictPolicy = "replace"
)

// ParseDialect maps a driver name from configuration to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("model: unsupported index driver %q", driver)
	}
}

// ParseConflictPolicy validates a conflict policy name; empty means ignore.
func ParseConflictPolicy(raw string) (ConflictPolicy, error) {
	switch ConflictPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ConflictIgnore:
		return ConflictIgnore, nil
	case ConflictReplace:
		return ConflictReplace, nil
	default:
		return "", fmt.Errorf("model: unsupported conflict policy %q", raw)
	}
}

// NewConn opens a go-zero SQL connection for the dialect. For SQLite the dsn is a file path.
func NewConn(d Dialect, dsn string) sqlx.SqlConn {
	switch d {
	case DialectPostgres:
		return sqlx.NewSqlConn("pgx", dsn)
	default:
		return sqlx.NewSqlConn("sqlite", sqliteDSN(dsn))
	}
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)"
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
