package datamodel

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/basekick-labs/monitorframe/internal/database"
	"github.com/basekick-labs/monitorframe/internal/ingest"
	"github.com/basekick-labs/monitorframe/pkg/models"
	"github.com/rs/zerolog"
)

var (
	// ErrNotDefined is returned when a model is constructed without a data source
	ErrNotDefined = errors.New("data model source not defined")

	// ErrNoTable is returned when querying a model whose table does not exist
	ErrNoTable = errors.New("data model table does not exist")
)

// Retriever produces new data for a model in any form models.Build accepts
type Retriever interface {
	GetNewData(ctx context.Context) (interface{}, error)
}

// RetrieverFunc adapts a function to Retriever
type RetrieverFunc func(ctx context.Context) (interface{}, error)

// GetNewData calls f
func (f RetrieverFunc) GetNewData(ctx context.Context) (interface{}, error) { return f(ctx) }

// Options configure a Model
type Options struct {
	// Name is the table name. Defaults to the retriever's type name.
	Name string

	// PrimaryKey, when set, is declared as the table's primary key on first ingest
	PrimaryKey string

	// SkipFetch defers GetNewData until Refresh is called
	SkipFetch bool
}

// Model binds a data source to a table in the persistence store
type Model struct {
	name       string
	primaryKey string
	source     Retriever
	store      *database.Store
	logger     zerolog.Logger

	newData      *models.Table
	arrayColumns []string
	handle       *database.TableHandle
}

// New creates a model. The table is reflected when it already exists and,
// unless opts.SkipFetch is set, new data is retrieved immediately.
func New(ctx context.Context, source Retriever, store *database.Store, opts Options, logger zerolog.Logger) (*Model, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: GetNewData must be provided", ErrNotDefined)
	}
	if store == nil {
		return nil, fmt.Errorf("data model requires a store")
	}

	name := opts.Name
	if name == "" {
		name = TypeName(source)
	}
	if name == "" {
		return nil, fmt.Errorf("data model table name could not be derived from %T", source)
	}

	m := &Model{
		name:       name,
		primaryKey: opts.PrimaryKey,
		source:     source,
		store:      store,
		logger:     logger.With().Str("component", "datamodel").Str("model", name).Logger(),
	}

	if err := m.reflect(ctx); err != nil {
		return nil, err
	}

	if !opts.SkipFetch {
		if err := m.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// TypeName returns the name of v's underlying type
func TypeName(v interface{}) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// Name returns the table name
func (m *Model) Name() string { return m.name }

// PrimaryKey returns the configured primary key, or ""
func (m *Model) PrimaryKey() string { return m.primaryKey }

// Store returns the backing store
func (m *Model) Store() *database.Store { return m.store }

// NewData returns the most recently retrieved data, or nil
func (m *Model) NewData() *models.Table { return m.newData }

// Handle returns the reflected table, or nil when the table does not exist yet
func (m *Model) Handle() *database.TableHandle { return m.handle }

// GetNewData calls the source and coerces its output into a table
func (m *Model) GetNewData(ctx context.Context) (*models.Table, error) {
	raw, err := m.source.GetNewData(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get new data for %s: %w", m.name, err)
	}
	table, err := models.Build(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to build table for %s: %w", m.name, err)
	}
	return table, nil
}

// Refresh replaces the held data with fresh data from the source
func (m *Model) Refresh(ctx context.Context) error {
	table, err := m.GetNewData(ctx)
	if err != nil {
		return err
	}
	m.newData = table
	m.arrayColumns = ingest.Classify(table)

	m.logger.Debug().
		Int("rows", table.Len()).
		Strs("array_columns", m.arrayColumns).
		Msg("Retrieved new data")
	return nil
}

// SetNewData replaces the held data, e.g. with a filtered copy of NewData
func (m *Model) SetNewData(t *models.Table) {
	m.newData = t
	m.arrayColumns = ingest.Classify(t)
}

// ArrayColumns returns the array-like columns of the held data
func (m *Model) ArrayColumns() []string {
	return append([]string(nil), m.arrayColumns...)
}

// Formatted returns the held data with array columns rendered for storage,
// or nil when there is no data.
func (m *Model) Formatted() (*models.Table, error) {
	if m.newData.Empty() {
		return nil, nil
	}
	return ingest.Format(m.newData, m.arrayColumns)
}

// Ingest writes the held data to the model's table.
// With a primary key the table is created with that constraint first;
// otherwise rows are appended to a table created on demand.
func (m *Model) Ingest(ctx context.Context) error {
	formatted, err := m.Formatted()
	if err != nil {
		return err
	}
	if formatted == nil {
		m.logger.Info().Msg("No new data to ingest")
		return nil
	}

	if m.primaryKey != "" {
		exists, err := m.store.TableExists(ctx, m.name)
		if err != nil {
			return err
		}
		if !exists {
			if err := m.store.PrepareSchema(ctx, formatted, m.name, m.primaryKey); err != nil {
				return fmt.Errorf("failed to prepare schema for %s: %w", m.name, err)
			}
		}
	}

	if err := m.store.Insert(ctx, formatted, m.name); err != nil {
		return fmt.Errorf("failed to ingest %s: %w", m.name, err)
	}

	if err := m.reflect(ctx); err != nil {
		return err
	}

	m.logger.Info().
		Int("rows", formatted.Len()).
		Str("primary_key", m.primaryKey).
		Msg("Ingested new data")
	return nil
}

func (m *Model) reflect(ctx context.Context) error {
	handle, err := m.store.Reflect(ctx, m.name)
	if err != nil {
		return fmt.Errorf("failed to reflect table %s: %w", m.name, err)
	}
	m.handle = handle
	return nil
}

// QueryToTable runs q against the model's table and parses array columns back into slices.
//
// When arrayColumns is nil, the held data's array columns are used, falling back to
// every column that has a stored "<column>_dtype" sibling. dtypes[i], when given,
// overrides the element type of arrayColumns[i]. Scalar cells come back as the
// driver returns them: integers of any Go type are read as int64.
func (m *Model) QueryToTable(ctx context.Context, q database.Query, arrayColumns []string, dtypes []ingest.DType) (*models.Table, error) {
	if m.handle == nil {
		if err := m.reflect(ctx); err != nil {
			return nil, err
		}
		if m.handle == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoTable, m.name)
		}
	}

	result, err := m.handle.Select(ctx, m.store, q)
	if err != nil {
		return nil, err
	}

	if arrayColumns == nil {
		arrayColumns = m.defaultArrayColumns(result)
	}
	return ingest.Rehydrate(result, arrayColumns, dtypes)
}

func (m *Model) defaultArrayColumns(result *models.Table) []string {
	var cols []string
	if len(m.arrayColumns) > 0 {
		for _, name := range m.arrayColumns {
			if result.HasColumn(name) {
				cols = append(cols, name)
			}
		}
		return cols
	}
	for _, name := range result.Columns() {
		if m.handle.HasColumn(name + ingest.DTypeSuffix) {
			cols = append(cols, name)
		}
	}
	return cols
}
