package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/basekick-labs/monitorframe/internal/metrics"
	"github.com/basekick-labs/monitorframe/pkg/models"
)

// Column describes one reflected table column
type Column struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
	Position   int
}

// TableHandle is the reflected description of an existing table
type TableHandle struct {
	Name    string
	Columns []Column
}

// ColumnNames returns the column names in table order
func (h *TableHandle) ColumnNames() []string {
	names := make([]string, len(h.Columns))
	for i, c := range h.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether the table has the named column
func (h *TableHandle) HasColumn(name string) bool {
	for _, c := range h.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// PrimaryKey returns the primary key column name, or "" when there is none
func (h *TableHandle) PrimaryKey() string {
	for _, c := range h.Columns {
		if c.PrimaryKey {
			return c.Name
		}
	}
	return ""
}

// Query selects rows from a reflected table.
// Where is a raw SQL predicate using ? placeholders bound from Args.
type Query struct {
	Columns []string // empty selects every column
	Where   string
	Args    []interface{}
	OrderBy []string // column names, optionally suffixed with " DESC"
	Limit   int
}

func (h *TableHandle) buildSelect(q Query) (string, []string, error) {
	columns := q.Columns
	if len(columns) == 0 {
		columns = h.ColumnNames()
	}

	quoted := make([]string, len(columns))
	for i, name := range columns {
		if !h.HasColumn(name) {
			return "", nil, fmt.Errorf("column %q not found in table %s", name, h.Name)
		}
		quoted[i] = quoteIdent(name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(quoted, ", "), quoteIdent(h.Name))
	if q.Where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(q.Where)
	}
	if len(q.OrderBy) > 0 {
		terms := make([]string, len(q.OrderBy))
		for i, term := range q.OrderBy {
			name, dir := term, ""
			if upper := strings.ToUpper(term); strings.HasSuffix(upper, " DESC") || strings.HasSuffix(upper, " ASC") {
				idx := strings.LastIndex(term, " ")
				name, dir = strings.TrimSpace(term[:idx]), strings.ToUpper(term[idx:])
			}
			if !h.HasColumn(name) {
				return "", nil, fmt.Errorf("order column %q not found in table %s", name, h.Name)
			}
			terms[i] = quoteIdent(name) + dir
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(terms, ", "))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	return sb.String(), columns, nil
}

// Select runs q against the table and returns the rows with columns in query order.
// Text cells are returned as strings.
func (h *TableHandle) Select(ctx context.Context, s *Store, q Query) (*models.Table, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("cannot query %s: persistence disabled", h.Name)
	}

	query, columns, err := h.buildSelect(q)
	if err != nil {
		return nil, err
	}

	m := metrics.Get()
	m.IncQueryRequests()
	start := time.Now()

	data := make([][]interface{}, len(columns))
	err = s.withDB(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, q.Args...)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		defer rows.Close()

		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		for rows.Next() {
			if err := rows.Scan(ptrs...); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}
			for i, v := range values {
				if b, ok := v.([]byte); ok {
					v = string(b)
				}
				data[i] = append(data[i], v)
			}
		}
		return rows.Err()
	})
	elapsed := time.Since(start)
	m.RecordQueryLatency(elapsed.Microseconds())
	if err != nil {
		m.IncQueryErrors()
		s.logger.Error().Err(err).Str("query", query).Dur("elapsed", elapsed).Msg("Query failed")
		return nil, err
	}

	cols := make(models.Columns, len(columns))
	for i, name := range columns {
		if data[i] == nil {
			data[i] = []interface{}{}
		}
		cols[i] = models.Column{Name: name, Values: data[i]}
	}
	t, err := models.FromColumns(cols)
	if err != nil {
		return nil, err
	}

	m.IncQueryRows(int64(t.Len()))
	s.logger.Debug().Str("query", query).Int("rows", t.Len()).Dur("elapsed", elapsed).Msg("Query executed")
	return t, nil
}

// Drop removes the table if it exists
func (h *TableHandle) Drop(ctx context.Context, s *Store) error {
	if !s.Enabled() {
		return nil
	}
	return s.withDB(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(h.Name)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", h.Name, err)
		}
		s.logger.Info().Str("table", h.Name).Msg("Dropped table")
		return nil
	})
}
