package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite = "sqlite3"
	DriverDuckDB = "duckdb"
)

// dialect captures the per-driver differences of the gateway
type dialect struct {
	driver string

	// column type names by value class
	integerType   string
	realType      string
	textType      string
	timestampType string

	tableExistsSQL string
}

var (
	sqliteDialect = dialect{
		driver:         DriverSQLite,
		integerType:    "INTEGER",
		realType:       "REAL",
		textType:       "TEXT",
		timestampType:  "TIMESTAMP",
		tableExistsSQL: "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
	}

	duckdbDialect = dialect{
		driver:         DriverDuckDB,
		integerType:    "BIGINT",
		realType:       "DOUBLE",
		textType:       "VARCHAR",
		timestampType:  "TIMESTAMP",
		tableExistsSQL: "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?",
	}
)

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "", DriverSQLite, "sqlite":
		return sqliteDialect, nil
	case DriverDuckDB:
		return duckdbDialect, nil
	}
	return dialect{}, fmt.Errorf("unsupported database driver %q (valid: sqlite3, duckdb)", driver)
}

// duckdbSettings are applied with SET after connecting rather than through the DSN
var duckdbSettings = map[string]bool{
	"memory_limit": true,
	"threads":      true,
}

// dsn builds the connection string. SQLite flags become query parameters;
// DuckDB flags other than session settings are passed the same way.
func (d dialect) dsn(path string, flags map[string]string) string {
	keys := make([]string, 0, len(flags))
	for k := range flags {
		if d.driver == DriverDuckDB && duckdbSettings[k] {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return path
	}
	sort.Strings(keys)

	params := make([]string, 0, len(keys))
	for _, k := range keys {
		params = append(params, url.QueryEscape(k)+"="+url.QueryEscape(flags[k]))
	}
	return path + "?" + strings.Join(params, "&")
}

// configure applies session settings after a connection is opened
func (d dialect) configure(db *sql.DB, flags map[string]string) error {
	if d.driver != DriverDuckDB {
		return nil
	}
	// Set memory limit to bound per-operation memory
	if limit := flags["memory_limit"]; limit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", escapeSQLString(limit))); err != nil {
			return fmt.Errorf("failed to set memory_limit: %w", err)
		}
	}
	if threads := flags["threads"]; threads != "" {
		n, err := strconv.Atoi(threads)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid threads setting %q", threads)
		}
		if _, err := db.Exec(fmt.Sprintf("SET threads=%d", n)); err != nil {
			return fmt.Errorf("failed to set threads: %w", err)
		}
	}
	return nil
}

// describeSQL lists a table's columns as (cid, name, type, notnull, dflt_value, pk)
func (d dialect) describeSQL(table string) string {
	return fmt.Sprintf("PRAGMA table_info(%s)", quoteLiteral(table))
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func quoteLiteral(s string) string {
	return "'" + escapeSQLString(s) + "'"
}

// QuoteIdent quotes an identifier for both SQLite and DuckDB
func QuoteIdent(name string) string { return quoteIdent(name) }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
