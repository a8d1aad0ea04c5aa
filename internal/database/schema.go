package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/basekick-labs/monitorframe/pkg/models"
)

// GenerateSchema renders a CREATE TABLE statement for t using SQLite column types.
// Each column is declared on its own line as `"name" TYPE`.
func GenerateSchema(t *models.Table, table string) string {
	return sqliteDialect.schema(t, table, false)
}

// InjectPrimaryKey marks key as the primary key in a statement produced by GenerateSchema.
// The marker is appended to the key column's declaration, before the next field separator.
func InjectPrimaryKey(stmt, key string) (string, error) {
	decl := "\n  " + quoteIdent(key) + " "
	loc := strings.Index(stmt, decl)
	if loc < 0 {
		return "", fmt.Errorf("%w: %q", ErrPrimaryKeyNotFound, key)
	}

	start := loc + 1
	rest := stmt[start:]
	end := strings.IndexAny(rest, ",\n")
	if end < 0 {
		end = len(rest)
	}
	return stmt[:start] + rest[:end] + " PRIMARY KEY" + rest[end:], nil
}

func (d dialect) schema(t *models.Table, table string, ifNotExists bool) string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if ifNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(quoteIdent(table))
	sb.WriteString(" (")

	for i, name := range t.Columns() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("\n  ")
		sb.WriteString(quoteIdent(name))
		sb.WriteByte(' ')
		values, _ := t.Column(name)
		sb.WriteString(d.columnType(values))
	}
	sb.WriteString("\n)")
	return sb.String()
}

// columnType picks the declared type from the first non-null value
func (d dialect) columnType(values []interface{}) string {
	for _, v := range values {
		switch v.(type) {
		case nil:
			continue
		case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return d.integerType
		case float32, float64:
			return d.realType
		case time.Time:
			return d.timestampType
		default:
			return d.textType
		}
	}
	return d.textType
}
