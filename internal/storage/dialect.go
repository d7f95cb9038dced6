package storage

import "strings"

type Dialect string

const (
	DialectSQLite Dialect = "sqlite3"
	DialectMySQL  Dialect = "mysql"
)

// Normalize maps a driver name onto a Dialect.
func Normalize(driver string) Dialect {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return DialectSQLite
	case "mysql":
		return DialectMySQL
	default:
		return Dialect(strings.ToLower(driver))
	}
}

// InsertIgnore returns the dialect's insert-or-ignore prefix. Rows that would
// violate a unique key are dropped silently instead of failing.
func (d Dialect) InsertIgnore() string {
	if d == DialectMySQL {
		return "INSERT IGNORE INTO"
	}
	return "INSERT OR IGNORE INTO"
}
