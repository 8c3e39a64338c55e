package db

import (
	"strconv"

	// Registered drivers: sqlite3, postgres, pgx.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

// Dialect covers the SQL differences between the supported drivers.
type Dialect struct {
	Name string
	// BlobType is the column type for raw bytes.
	BlobType string
	// numbered reports $1-style placeholders instead of ?.
	numbered bool
}

var (
	sqliteDialect   = Dialect{Name: "sqlite", BlobType: "BLOB"}
	postgresDialect = Dialect{Name: "postgres", BlobType: "BYTEA", numbered: true}
)

// DialectFor returns the dialect for a registered driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverSQLite:
		return sqliteDialect, nil
	case DriverPostgres, DriverPgx:
		return postgresDialect, nil
	default:
		return Dialect{}, &Error{Code: CodeInvalidConfig, Message: "unsupported driver " + strconv.Quote(driver)}
	}
}

// Placeholder returns the bind parameter for the n-th argument, 1-based.
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Placeholders returns count comma-separated placeholders starting at 1.
func (d Dialect) Placeholders(count int) string {
	buf := make([]byte, 0, count*4)
	for i := 1; i <= count; i++ {
		if i > 1 {
			buf = append(buf, ", "...)
		}
		buf = append(buf, d.Placeholder(i)...)
	}
	return string(buf)
}
