package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/basekick-labs/monitorframe/internal/metrics"
	"github.com/basekick-labs/monitorframe/pkg/models"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	// ErrPrimaryKeyNotFound is returned when a requested primary key is not a column of the data
	ErrPrimaryKeyNotFound = errors.New("primary key column not found in schema")

	// ErrIntegrity is returned when an insert violates a table constraint
	ErrIntegrity = errors.New("integrity constraint violated")
)

// Config holds database connection settings
type Config struct {
	Driver string            // sqlite3 or duckdb
	Path   string            // database file; empty disables persistence
	Flags  map[string]string // driver connection flags
}

// Store is the persistence gateway. It holds no connection between operations:
// every operation opens a connection and closes it before returning.
type Store struct {
	cfg     Config
	dialect dialect
	dsn     string
	open    atomic.Int32
	logger  zerolog.Logger
}

// New creates a Store. A Config with an empty Path yields a disabled store
// whose operations succeed without touching any database.
func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:     cfg,
		dialect: d,
		logger:  logger.With().Str("component", "database").Logger(),
	}
	if cfg.Path != "" {
		s.dsn = d.dsn(cfg.Path, cfg.Flags)
	}

	s.logger.Debug().
		Str("driver", d.driver).
		Str("path", cfg.Path).
		Bool("enabled", s.Enabled()).
		Msg("Database store configured")
	return s, nil
}

// Enabled reports whether a database is configured
func (s *Store) Enabled() bool {
	return s != nil && s.cfg.Path != ""
}

// Driver returns the configured driver name
func (s *Store) Driver() string {
	return s.dialect.driver
}

// IsClosed reports whether no connection is currently open
func (s *Store) IsClosed() bool {
	return s.open.Load() == 0
}

// Close is a no-op kept for shutdown registration; connections never outlive an operation
func (s *Store) Close() error {
	if !s.IsClosed() {
		s.logger.Warn().Int32("open", s.open.Load()).Msg("Database connections still open at shutdown")
	}
	return nil
}

// withDB opens a connection, runs fn and closes the connection
func (s *Store) withDB(ctx context.Context, fn func(db *sql.DB) error) error {
	db, err := sql.Open(s.dialect.driver, s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open %s database: %w", s.dialect.driver, err)
	}
	s.open.Add(1)
	metrics.Get().IncDBConnectionsOpened()
	defer func() {
		if err := db.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to close database")
		}
		s.open.Add(-1)
		metrics.Get().DecDBConnectionsOpen()
	}()

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping %s database: %w", s.dialect.driver, err)
	}
	if err := s.dialect.configure(db, s.cfg.Flags); err != nil {
		return err
	}
	return fn(db)
}

// Tx runs fn inside a single transaction on a fresh connection.
// The transaction is rolled back when fn returns an error.
func (s *Store) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if !s.Enabled() {
		return nil
	}
	return s.withDB(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error().Err(rbErr).Msg("Failed to rollback transaction")
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

// TableExists reports whether table exists. A disabled store has no tables.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}

	var exists bool
	err := s.withDB(ctx, func(db *sql.DB) error {
		var err error
		exists, err = s.tableExists(ctx, db, table)
		return err
	})
	return exists, err
}

func (s *Store) tableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var count int
	if err := db.QueryRowContext(ctx, s.dialect.tableExistsSQL, table).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return count > 0, nil
}

// Schema renders the CREATE TABLE statement for t in this store's dialect
func (s *Store) Schema(t *models.Table, table string) string {
	return s.dialect.schema(t, table, false)
}

// PrepareSchema creates table from t's columns with key as primary key.
// The key is validated before any connection is opened.
func (s *Store) PrepareSchema(ctx context.Context, t *models.Table, table, key string) error {
	stmt, err := InjectPrimaryKey(s.Schema(t, table), key)
	if err != nil {
		return err
	}
	if !s.Enabled() {
		return nil
	}

	err = s.withDB(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("table", table).
		Str("primary_key", key).
		Msg("Created table with primary key")
	return nil
}

// Insert appends the rows of t to table, creating the table without constraints when absent.
// All rows are written in one transaction; a constraint violation returns ErrIntegrity
// and leaves the table unchanged.
func (s *Store) Insert(ctx context.Context, t *models.Table, table string) error {
	if !s.Enabled() {
		s.logger.Debug().Str("table", table).Msg("Persistence disabled, skipping insert")
		return nil
	}
	if t.Empty() {
		return nil
	}

	start := time.Now()
	columns := t.Columns()
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, name := range columns {
		quoted[i] = quoteIdent(name)
		placeholders[i] = "?"
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	err := s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.dialect.schema(t, table, true)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}

		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		args := make([]interface{}, len(columns))
		for i := 0; i < t.Len(); i++ {
			for c, name := range columns {
				args[c] = driverValue(t.Value(i, name))
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				if isConstraintError(err) {
					return fmt.Errorf("%w: table %s row %d: %v", ErrIntegrity, table, i, err)
				}
				return fmt.Errorf("failed to insert into %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		metrics.Get().IncIngestErrors()
		if errors.Is(err, ErrIntegrity) {
			metrics.Get().IncIntegrityErrors()
		}
		return err
	}

	metrics.Get().IncIngestBatches()
	metrics.Get().IncIngestRows(int64(t.Len()))
	s.logger.Debug().
		Str("table", table).
		Int("rows", t.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("Inserted rows")
	return nil
}

// Reflect describes an existing table. It returns nil when the table does not exist.
func (s *Store) Reflect(ctx context.Context, table string) (*TableHandle, error) {
	if !s.Enabled() {
		return nil, nil
	}

	var handle *TableHandle
	err := s.withDB(ctx, func(db *sql.DB) error {
		exists, err := s.tableExists(ctx, db, table)
		if err != nil || !exists {
			return err
		}

		rows, err := db.QueryContext(ctx, s.dialect.describeSQL(table))
		if err != nil {
			return fmt.Errorf("failed to describe table %s: %w", table, err)
		}
		defer rows.Close()

		handle = &TableHandle{Name: table}
		for rows.Next() {
			var (
				cid, notNull, pk interface{}
				name, colType    string
				dflt             interface{}
			)
			if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
				return fmt.Errorf("failed to scan column info: %w", err)
			}
			handle.Columns = append(handle.Columns, Column{
				Name:       name,
				Type:       strings.ToUpper(colType),
				NotNull:    truthy(notNull),
				PrimaryKey: truthy(pk),
				Position:   len(handle.Columns),
			})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// isConstraintError checks if an error is a constraint violation
func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Constraint Error") ||
		strings.Contains(msg, "Duplicate key")
}

// driverValue widens values to the types database/sql drivers accept
func driverValue(v interface{}) interface{} {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC()
	case nil, int64, float64, bool, string, []byte:
		return v
	}
	return fmt.Sprint(v)
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case int32:
		return x != 0
	case int:
		return x != 0
	case []byte:
		return string(x) == "1" || strings.EqualFold(string(x), "true")
	case string:
		return x == "1" || strings.EqualFold(x, "true")
	}
	return false
}
