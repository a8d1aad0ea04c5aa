package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/basekick-labs/monitorframe/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{
		Driver: DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "test.db"),
		Flags:  map[string]string{"_busy_timeout": "5000"},
	}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func buildTable(t *testing.T, cols models.Columns) *models.Table {
	t.Helper()
	table, err := models.Build(cols)
	require.NoError(t, err)
	return table
}

func keyedTable(t *testing.T, keys ...int) *models.Table {
	t.Helper()
	values := make([]interface{}, len(keys))
	names := make([]interface{}, len(keys))
	for i, k := range keys {
		values[i] = k
		names[i] = "row"
	}
	return buildTable(t, models.Columns{
		{Name: "a", Values: values},
		{Name: "name", Values: names},
	})
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	handle, err := s.Reflect(context.Background(), table)
	require.NoError(t, err)
	require.NotNil(t, handle)
	rows, err := handle.Select(context.Background(), s, Query{})
	require.NoError(t, err)
	return rows.Len()
}

func TestGenerateSchema(t *testing.T) {
	table := buildTable(t, models.Columns{
		{Name: "a", Values: []interface{}{1}},
		{Name: "b", Values: []interface{}{2.5}},
		{Name: "flag", Values: []interface{}{true}},
		{Name: "when", Values: []interface{}{time.Unix(0, 0)}},
		{Name: "s", Values: []interface{}{"x"}},
		{Name: "empty", Values: []interface{}{nil}},
	})

	want := "CREATE TABLE \"t\" (\n" +
		"  \"a\" INTEGER,\n" +
		"  \"b\" REAL,\n" +
		"  \"flag\" INTEGER,\n" +
		"  \"when\" TIMESTAMP,\n" +
		"  \"s\" TEXT,\n" +
		"  \"empty\" TEXT\n" +
		")"
	assert.Equal(t, want, GenerateSchema(table, "t"))
}

func TestInjectPrimaryKey(t *testing.T) {
	table := buildTable(t, models.Columns{
		{Name: "ab", Values: []interface{}{1}},
		{Name: "a", Values: []interface{}{2}},
		{Name: "s", Values: []interface{}{"x"}},
	})
	stmt := GenerateSchema(table, "t")

	tests := []struct {
		name string
		key  string
		want string
	}{
		{"first column", "ab", "\n  \"ab\" INTEGER PRIMARY KEY,\n  \"a\" INTEGER,"},
		{"prefix of another column", "a", "\n  \"a\" INTEGER PRIMARY KEY,\n"},
		{"last column", "s", "\n  \"s\" TEXT PRIMARY KEY\n)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InjectPrimaryKey(stmt, tt.key)
			require.NoError(t, err)
			assert.Contains(t, got, tt.want)
			assert.Equal(t, len(stmt)+len(" PRIMARY KEY"), len(got))
		})
	}

	_, err := InjectPrimaryKey(stmt, "missing")
	assert.ErrorIs(t, err, ErrPrimaryKeyNotFound)
}

func TestStore_PrimaryKeyEnforced(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := keyedTable(t, 1, 2, 3)
	require.NoError(t, s.PrepareSchema(ctx, first, "keyed", "a"))
	require.NoError(t, s.Insert(ctx, first, "keyed"))
	assert.True(t, s.IsClosed())

	err := s.Insert(ctx, keyedTable(t, 2), "keyed")
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.True(t, s.IsClosed())

	require.NoError(t, s.Insert(ctx, keyedTable(t, 4), "keyed"))
	assert.Equal(t, 4, countRows(t, s, "keyed"))
}

func TestStore_InsertIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := keyedTable(t, 1, 2)
	require.NoError(t, s.PrepareSchema(ctx, first, "keyed", "a"))
	require.NoError(t, s.Insert(ctx, first, "keyed"))

	err := s.Insert(ctx, keyedTable(t, 5, 1), "keyed")
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.Equal(t, 2, countRows(t, s, "keyed"))
}

func TestStore_AppendWithoutPrimaryKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	table := keyedTable(t, 1, 2, 3)
	require.NoError(t, s.Insert(ctx, table, "plain"))
	require.NoError(t, s.Insert(ctx, table, "plain"))

	assert.Equal(t, 6, countRows(t, s, "plain"))
	assert.True(t, s.IsClosed())
}

func TestStore_UnknownPrimaryKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.PrepareSchema(ctx, keyedTable(t, 1), "keyed", "nope")
	assert.ErrorIs(t, err, ErrPrimaryKeyNotFound)

	exists, err := s.TableExists(ctx, "keyed")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_Reflect(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	handle, err := s.Reflect(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, handle)

	table := keyedTable(t, 1)
	require.NoError(t, s.PrepareSchema(ctx, table, "keyed", "a"))

	handle, err = s.Reflect(ctx, "keyed")
	require.NoError(t, err)
	require.NotNil(t, handle)

	assert.Equal(t, "keyed", handle.Name)
	assert.Equal(t, []string{"a", "name"}, handle.ColumnNames())
	assert.Equal(t, "a", handle.PrimaryKey())
	assert.Equal(t, "INTEGER", handle.Columns[0].Type)
	assert.Equal(t, 1, handle.Columns[1].Position)
	assert.True(t, s.IsClosed())
}

func TestTableHandle_Select(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	table := buildTable(t, models.Columns{
		{Name: "a", Values: []interface{}{1, 2, 3}},
		{Name: "v", Values: []interface{}{0.5, 1.5, 2.5}},
		{Name: "s", Values: []interface{}{"x", "y", "z"}},
	})
	require.NoError(t, s.Insert(ctx, table, "data"))

	handle, err := s.Reflect(ctx, "data")
	require.NoError(t, err)

	rows, err := handle.Select(ctx, s, Query{
		Columns: []string{"s", "a"},
		Where:   "a >= ?",
		Args:    []interface{}{2},
		OrderBy: []string{"a DESC"},
		Limit:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"s", "a"}, rows.Columns())
	assert.Equal(t, map[string]interface{}{"s": "z", "a": int64(3)}, rows.Row(0))
	assert.Equal(t, 1, rows.Len())

	empty, err := handle.Select(ctx, s, Query{Where: "a > ?", Args: []interface{}{10}})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, []string{"a", "v", "s"}, empty.Columns())

	_, err = handle.Select(ctx, s, Query{Columns: []string{"nope"}})
	assert.Error(t, err)

	_, err = handle.Select(ctx, s, Query{OrderBy: []string{"nope"}})
	assert.Error(t, err)
	assert.True(t, s.IsClosed())
}

func TestTableHandle_Drop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Insert(ctx, keyedTable(t, 1), "gone"))
	handle, err := s.Reflect(ctx, "gone")
	require.NoError(t, err)

	require.NoError(t, handle.Drop(ctx, s))
	exists, err := s.TableExists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_Disabled(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, s.Enabled())

	table := keyedTable(t, 1)
	require.NoError(t, s.Insert(ctx, table, "t"))
	require.NoError(t, s.PrepareSchema(ctx, table, "t", "a"))
	assert.ErrorIs(t, s.PrepareSchema(ctx, table, "t", "nope"), ErrPrimaryKeyNotFound)

	exists, err := s.TableExists(ctx, "t")
	require.NoError(t, err)
	assert.False(t, exists)

	handle, err := s.Reflect(ctx, "t")
	require.NoError(t, err)
	assert.Nil(t, handle)
	assert.True(t, s.IsClosed())
}

func TestStore_UnsupportedDriver(t *testing.T) {
	_, err := New(Config{Driver: "oracle", Path: "x"}, zerolog.Nop())
	assert.Error(t, err)
}
