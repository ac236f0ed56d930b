package database

import (
	"fmt"
	"strings"
)

// Supported driver names, as registered with database/sql.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite3"
)

// NormalizeDriver maps driver aliases to a registered driver name.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg", "pgsql":
		return DriverPostgres, nil
	case "mysql", "mariadb":
		return DriverMySQL, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

// Dialect holds the DDL differences between the supported databases.
type Dialect struct {
	Driver    string
	Timestamp string
	// PartialIndexes reports support for CREATE INDEX ... WHERE.
	PartialIndexes bool
}

// DialectFor returns the dialect of a normalized driver name.
func DialectFor(driver string) (Dialect, error) {
	name, err := NormalizeDriver(driver)
	if err != nil {
		return Dialect{}, err
	}
	switch name {
	case DriverPostgres:
		return Dialect{Driver: name, Timestamp: "TIMESTAMPTZ", PartialIndexes: true}, nil
	case DriverMySQL:
		return Dialect{Driver: name, Timestamp: "DATETIME(6)"}, nil
	default:
		return Dialect{Driver: name, Timestamp: "DATETIME", PartialIndexes: true}, nil
	}
}

// IsMySQL reports whether the dialect is MySQL or MariaDB.
func (d Dialect) IsMySQL() bool { return d.Driver == DriverMySQL }

// IsPostgreSQL reports whether the dialect is PostgreSQL.
func (d Dialect) IsPostgreSQL() bool { return d.Driver == DriverPostgres }

// Render expands the {{TS}} column type placeholder in DDL.
func (d Dialect) Render(ddl string) string {
	return strings.ReplaceAll(ddl, "{{TS}}", d.Timestamp)
}

// QuoteIdentifier quotes a table or column name for the dialect.
func (d Dialect) QuoteIdentifier(name string) string {
	if d.IsMySQL() {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}
