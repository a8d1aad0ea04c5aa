package datamodel

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/basekick-labs/monitorframe/internal/database"
	"github.com/basekick-labs/monitorframe/internal/ingest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testModel struct {
	data interface{}
	err  error
}

func (m *testModel) GetNewData(ctx context.Context) (interface{}, error) {
	return m.data, m.err
}

func sampleData() map[string][]interface{} {
	return map[string][]interface{}{
		"a": {1, 2, 3},
		"b": {4, 5, 6},
		"c": {[]int{7, 8, 9}, []int{10, 11, 12}, []int{13, 14, 15}},
	}
}

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	s, err := database.New(database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "test.db"),
	}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func newModel(t *testing.T, store *database.Store, data interface{}, opts Options) *Model {
	t.Helper()
	m, err := New(context.Background(), &testModel{data: data}, store, opts, zerolog.Nop())
	require.NoError(t, err)
	return m
}

func TestNew_Defaults(t *testing.T) {
	store := newTestStore(t)
	m := newModel(t, store, sampleData(), Options{})

	assert.Equal(t, "testModel", m.Name())
	assert.Empty(t, m.PrimaryKey())
	assert.Nil(t, m.Handle())
	assert.Equal(t, 3, m.NewData().Len())
	assert.Equal(t, []string{"c"}, m.ArrayColumns())
}

func TestNew_SkipFetch(t *testing.T) {
	m := newModel(t, newTestStore(t), sampleData(), Options{SkipFetch: true})
	assert.Nil(t, m.NewData())
	assert.Empty(t, m.ArrayColumns())

	formatted, err := m.Formatted()
	require.NoError(t, err)
	assert.Nil(t, formatted)
	require.NoError(t, m.Ingest(context.Background()))
}

func TestNew_Errors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := New(ctx, nil, store, Options{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotDefined)

	sourceErr := errors.New("archive offline")
	_, err = New(ctx, &testModel{err: sourceErr}, store, Options{}, zerolog.Nop())
	assert.ErrorIs(t, err, sourceErr)

	_, err = New(ctx, &testModel{data: 42}, store, Options{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestModel_Formatted(t *testing.T) {
	m := newModel(t, newTestStore(t), sampleData(), Options{})

	formatted, err := m.Formatted()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "c_dtype"}, formatted.Columns())
	c, _ := formatted.Column("c")
	assert.Equal(t, []interface{}{"[7, 8, 9]", "[10, 11, 12]", "[13, 14, 15]"}, c)
}

func TestModel_IngestAndQuery(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	m := newModel(t, store, sampleData(), Options{Name: "Sample", PrimaryKey: "a"})

	require.NoError(t, m.Ingest(ctx))
	assert.True(t, store.IsClosed())
	require.NotNil(t, m.Handle())
	assert.Equal(t, []string{"a", "b", "c", "c_dtype"}, m.Handle().ColumnNames())
	assert.Equal(t, "a", m.Handle().PrimaryKey())

	got, err := m.QueryToTable(ctx, database.Query{Columns: []string{"c"}, OrderBy: []string{"a"}}, []string{"c"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 8, 9}, got.Value(0, "c"))
	assert.Equal(t, []float64{13, 14, 15}, got.Value(2, "c"))
	assert.True(t, store.IsClosed())
}

func TestModel_QueryUsesStoredDType(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	m := newModel(t, store, sampleData(), Options{Name: "Sample"})
	require.NoError(t, m.Ingest(ctx))

	// a fresh model with no held data falls back to the _dtype siblings
	fresh := newModel(t, store, nil, Options{Name: "Sample", SkipFetch: true})
	require.NotNil(t, fresh.Handle())

	got, err := fresh.QueryToTable(ctx, database.Query{OrderBy: []string{"a"}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11, 12}, got.Value(1, "c"))

	got, err = fresh.QueryToTable(ctx, database.Query{OrderBy: []string{"a"}}, []string{"c"}, []ingest.DType{ingest.DTypeFloat64})
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 11, 12}, got.Value(1, "c"))
}

func TestModel_AppendWithoutPrimaryKey(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	m := newModel(t, store, sampleData(), Options{Name: "Sample"})

	require.NoError(t, m.Ingest(ctx))
	require.NoError(t, m.Ingest(ctx))

	got, err := m.QueryToTable(ctx, database.Query{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Len())
}

func TestModel_PrimaryKeyViolation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := newModel(t, store, map[string][]interface{}{"a": {1, 2, 3}}, Options{Name: "Keyed", PrimaryKey: "a"})
	require.NoError(t, first.Ingest(ctx))

	dup := newModel(t, store, map[string][]interface{}{"a": {2}}, Options{Name: "Keyed", PrimaryKey: "a"})
	assert.ErrorIs(t, dup.Ingest(ctx), database.ErrIntegrity)

	next := newModel(t, store, map[string][]interface{}{"a": {4}}, Options{Name: "Keyed", PrimaryKey: "a"})
	require.NoError(t, next.Ingest(ctx))

	got, err := next.QueryToTable(ctx, database.Query{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Len())
}

func TestModel_UnknownPrimaryKey(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	m := newModel(t, store, sampleData(), Options{Name: "Sample", PrimaryKey: "nope"})

	assert.ErrorIs(t, m.Ingest(ctx), database.ErrPrimaryKeyNotFound)

	exists, err := store.TableExists(ctx, "Sample")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = m.QueryToTable(ctx, database.Query{}, nil, nil)
	assert.ErrorIs(t, err, ErrNoTable)
}

func TestModel_DisabledStore(t *testing.T) {
	ctx := context.Background()
	store, err := database.New(database.Config{}, zerolog.Nop())
	require.NoError(t, err)

	m := newModel(t, store, sampleData(), Options{Name: "Sample", PrimaryKey: "a"})
	require.NoError(t, m.Ingest(ctx))
	assert.Nil(t, m.Handle())
}

func TestRetrieverFunc(t *testing.T) {
	m, err := New(context.Background(), RetrieverFunc(func(ctx context.Context) (interface{}, error) {
		return []map[string]interface{}{{"x": 1.5}}, nil
	}), newTestStore(t), Options{Name: "Func"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1.5, m.NewData().Value(0, "x"))
}

func TestModel_ScalarRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	m := newModel(t, store, []map[string]interface{}{
		{"ROOTNAME": "la1", "EXPSTART": 58000.5, "PROPOSID": 12345},
		{"ROOTNAME": "la2", "EXPSTART": 58001.25, "PROPOSID": 23456},
	}, Options{Name: "Scalars", PrimaryKey: "ROOTNAME"})
	require.NoError(t, m.Ingest(ctx))
	assert.Empty(t, m.ArrayColumns())

	got, err := m.QueryToTable(ctx, database.Query{OrderBy: []string{"ROOTNAME"}}, nil, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, m.NewData().Columns(), got.Columns())

	roots, _ := got.Column("ROOTNAME")
	assert.Equal(t, []interface{}{"la1", "la2"}, roots)
	starts, _ := got.Column("EXPSTART")
	assert.Equal(t, []interface{}{58000.5, 58001.25}, starts)

	// INTEGER columns read back as int64 whatever Go integer type was ingested
	proposals, _ := got.Column("PROPOSID")
	assert.Equal(t, []interface{}{int64(12345), int64(23456)}, proposals)
}
