package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// ErrMalformedInput is matched by every MalformedInputError
var ErrMalformedInput = errors.New("malformed tabular input")

// MalformedInputError describes why raw input could not be coerced into a Table
type MalformedInputError struct {
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed tabular input: %s", e.Reason)
}

// Is reports whether target is ErrMalformedInput
func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput
}

func malformed(format string, args ...interface{}) error {
	return &MalformedInputError{Reason: fmt.Sprintf(format, args...)}
}

// Column is a named sequence of values
type Column struct {
	Name   string
	Values []interface{}
}

// Columns is column-oriented input whose order is preserved by Build
type Columns []Column

// Table is an immutable two-dimensional batch of records.
// Column order is fixed at construction and every column has the same length.
type Table struct {
	names []string
	index map[string]int
	data  [][]interface{}
	rows  int
}

// Build coerces raw input into a Table.
//
// Accepted inputs:
//   - *Table (returned as is)
//   - []map[string]interface{} rows; columns are the sorted keys of the first row
//   - map[string][]interface{} columns; columns are sorted by name
//   - Columns; order is preserved
//   - any map keyed by string whose values are slices or arrays
//   - any slice of maps keyed by string
//   - nil (empty table)
func Build(raw interface{}) (*Table, error) {
	switch v := raw.(type) {
	case nil:
		return &Table{index: map[string]int{}}, nil
	case *Table:
		if v == nil {
			return &Table{index: map[string]int{}}, nil
		}
		return v, nil
	case Table:
		return &v, nil
	case []map[string]interface{}:
		return FromRows(v)
	case map[string][]interface{}:
		return FromColumnMap(v)
	case Columns:
		return FromColumns(v)
	case []Column:
		return FromColumns(v)
	}
	return buildReflect(raw)
}

// FromRows builds a table from row mappings that all share the same key set
func FromRows(rows []map[string]interface{}) (*Table, error) {
	if len(rows) == 0 {
		return &Table{index: map[string]int{}}, nil
	}

	names := make([]string, 0, len(rows[0]))
	for name := range rows[0] {
		names = append(names, name)
	}
	sort.Strings(names)

	t := newTable(names, len(rows))
	for i, row := range rows {
		if len(row) != len(names) {
			return nil, malformed("row %d has %d keys, expected %d", i, len(row), len(names))
		}
		for c, name := range names {
			v, ok := row[name]
			if !ok {
				return nil, malformed("row %d is missing key %q", i, name)
			}
			t.data[c][i] = v
		}
	}
	return t, nil
}

// FromColumnMap builds a table from a column mapping; columns are sorted by name
func FromColumnMap(cols map[string][]interface{}) (*Table, error) {
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	ordered := make(Columns, 0, len(names))
	for _, name := range names {
		ordered = append(ordered, Column{Name: name, Values: cols[name]})
	}
	return FromColumns(ordered)
}

// FromColumns builds a table from ordered columns of equal length
func FromColumns(cols []Column) (*Table, error) {
	if len(cols) == 0 {
		return &Table{index: map[string]int{}}, nil
	}

	rows := len(cols[0].Values)
	names := make([]string, len(cols))
	for i, col := range cols {
		if col.Name == "" {
			return nil, malformed("column %d has no name", i)
		}
		if len(col.Values) != rows {
			return nil, malformed("column %q has %d values, expected %d", col.Name, len(col.Values), rows)
		}
		names[i] = col.Name
	}

	t := newTable(names, rows)
	if len(t.index) != len(names) {
		return nil, malformed("duplicate column names in %v", names)
	}
	for i, col := range cols {
		copy(t.data[i], col.Values)
	}
	return t, nil
}

func buildReflect(raw interface{}) (*Table, error) {
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, malformed("map keys must be strings, got %s", rv.Type().Key())
		}
		cols := make(map[string][]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			values, ok := sliceValues(iter.Value())
			if !ok {
				return nil, malformed("column %q is not a sequence", iter.Key().String())
			}
			cols[iter.Key().String()] = values
		}
		return FromColumnMap(cols)
	case reflect.Slice, reflect.Array:
		rows := make([]map[string]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem := rv.Index(i)
			for elem.Kind() == reflect.Interface || elem.Kind() == reflect.Pointer {
				if elem.IsNil() {
					return nil, malformed("row %d is nil", i)
				}
				elem = elem.Elem()
			}
			if elem.Kind() != reflect.Map || elem.Type().Key().Kind() != reflect.String {
				return nil, malformed("row %d is %s, expected a string-keyed map", i, elem.Type())
			}
			row := make(map[string]interface{}, elem.Len())
			iter := elem.MapRange()
			for iter.Next() {
				row[iter.Key().String()] = iter.Value().Interface()
			}
			rows[i] = row
		}
		return FromRows(rows)
	}
	return nil, malformed("unsupported input type %T", raw)
}

func sliceValues(v reflect.Value) ([]interface{}, bool) {
	for v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out, true
}

func newTable(names []string, rows int) *Table {
	t := &Table{
		names: append([]string(nil), names...),
		index: make(map[string]int, len(names)),
		data:  make([][]interface{}, len(names)),
		rows:  rows,
	}
	for i, name := range names {
		t.index[name] = i
		t.data[i] = make([]interface{}, rows)
	}
	return t
}

// Len returns the number of rows
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return t.rows
}

// Width returns the number of columns
func (t *Table) Width() int {
	if t == nil {
		return 0
	}
	return len(t.names)
}

// Empty reports whether the table has no rows
func (t *Table) Empty() bool { return t.Len() == 0 }

// Columns returns the column names in order
func (t *Table) Columns() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.names...)
}

// HasColumn reports whether the named column exists
func (t *Table) HasColumn(name string) bool {
	if t == nil {
		return false
	}
	_, ok := t.index[name]
	return ok
}

// Column returns a copy of the named column's values
func (t *Table) Column(name string) ([]interface{}, bool) {
	if t == nil {
		return nil, false
	}
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return append([]interface{}(nil), t.data[i]...), true
}

// Value returns the cell at row for the named column, or nil if either is out of range
func (t *Table) Value(row int, name string) interface{} {
	if t == nil || row < 0 || row >= t.rows {
		return nil
	}
	i, ok := t.index[name]
	if !ok {
		return nil
	}
	return t.data[i][row]
}

// Row returns row i as a mapping
func (t *Table) Row(i int) map[string]interface{} {
	if t == nil || i < 0 || i >= t.rows {
		return nil
	}
	row := make(map[string]interface{}, len(t.names))
	for c, name := range t.names {
		row[name] = t.data[c][i]
	}
	return row
}

// Rows returns every row as a mapping
func (t *Table) Rows() []map[string]interface{} {
	out := make([]map[string]interface{}, t.Len())
	for i := range out {
		out[i] = t.Row(i)
	}
	return out
}

// WithColumn returns a new table with the named column replaced, or appended when absent
func (t *Table) WithColumn(name string, values []interface{}) (*Table, error) {
	if name == "" {
		return nil, malformed("column name is empty")
	}
	if t.Width() > 0 && len(values) != t.rows {
		return nil, malformed("column %q has %d values, expected %d", name, len(values), t.rows)
	}

	cols := make(Columns, 0, t.Width()+1)
	replaced := false
	for _, existing := range t.Columns() {
		if existing == name {
			cols = append(cols, Column{Name: name, Values: values})
			replaced = true
			continue
		}
		cols = append(cols, Column{Name: existing, Values: t.data[t.index[existing]]})
	}
	if !replaced {
		cols = append(cols, Column{Name: name, Values: values})
	}
	return FromColumns(cols)
}

// Select returns a new table holding only the named columns, in the given order
func (t *Table) Select(names ...string) (*Table, error) {
	cols := make(Columns, 0, len(names))
	for _, name := range names {
		values, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("column %q not found", name)
		}
		cols = append(cols, Column{Name: name, Values: values})
	}
	return FromColumns(cols)
}

// Filter returns the rows whose mask entry is true
func (t *Table) Filter(mask []bool) (*Table, error) {
	if len(mask) != t.Len() {
		return nil, fmt.Errorf("mask has %d entries, table has %d rows", len(mask), t.Len())
	}
	cols := make(Columns, 0, t.Width())
	for c, name := range t.Columns() {
		values := make([]interface{}, 0, len(mask))
		for i, keep := range mask {
			if keep {
				values = append(values, t.data[c][i])
			}
		}
		cols = append(cols, Column{Name: name, Values: values})
	}
	return FromColumns(cols)
}

// Float64s returns the named column converted to float64
func (t *Table) Float64s(name string) ([]float64, error) {
	values, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	out := make([]float64, len(values))
	for i, v := range values {
		f, ok := ToFloat64(v)
		if !ok {
			return nil, fmt.Errorf("column %q row %d: %T is not numeric", name, i, v)
		}
		out[i] = f
	}
	return out, nil
}

// MarshalJSON renders the table as a column mapping
func (t *Table) MarshalJSON() ([]byte, error) {
	cols := make(map[string][]interface{}, t.Width())
	for _, name := range t.Columns() {
		cols[name] = t.data[t.index[name]]
	}
	return json.Marshal(cols)
}

// ToFloat64 converts any numeric value to float64
func ToFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
