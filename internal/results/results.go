package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/basekick-labs/monitorframe/internal/database"
	"github.com/basekick-labs/monitorframe/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrUnserializable is returned when a monitor's results cannot be encoded as JSON
var ErrUnserializable = errors.New("results are not JSON serializable")

// Record is one stored monitor result
type Record struct {
	Datetime time.Time
	Result   json.RawMessage
}

// Store persists monitor results in per-monitor tables of (datetime PRIMARY KEY, result JSON)
type Store struct {
	db     *database.Store
	logger zerolog.Logger
}

// New creates a results store on db
func New(db *database.Store, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "results").Logger(),
	}
}

// Enabled reports whether results are persisted
func (s *Store) Enabled() bool {
	return s != nil && s.db.Enabled()
}

// Encode wraps results as {"results": ...} JSON
func Encode(results interface{}) ([]byte, error) {
	payload, err := json.Marshal(map[string]interface{}{"results": results})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnserializable, err)
	}
	return payload, nil
}

// Save stores results for table at the given time, creating the table when absent.
// Results that cannot be encoded return ErrUnserializable without touching the database.
func (s *Store) Save(ctx context.Context, table string, at time.Time, results interface{}) error {
	payload, err := Encode(results)
	if err != nil {
		return err
	}
	if !s.Enabled() {
		s.logger.Debug().Str("table", table).Msg("Results persistence disabled, skipping save")
		return nil
	}

	err = s.db.Tx(ctx, func(tx *sql.Tx) error {
		createSQL := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (\n  \"datetime\" TIMESTAMP PRIMARY KEY,\n  \"result\" TEXT NOT NULL\n)",
			database.QuoteIdent(table))
		if _, err := tx.ExecContext(ctx, createSQL); err != nil {
			return fmt.Errorf("failed to create results table %s: %w", table, err)
		}

		insertSQL := fmt.Sprintf("INSERT INTO %s (\"datetime\", \"result\") VALUES (?, ?)", database.QuoteIdent(table))
		if _, err := tx.ExecContext(ctx, insertSQL, at.UTC(), string(payload)); err != nil {
			return fmt.Errorf("failed to store results in %s: %w", table, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.Get().IncResultsStored()
	s.logger.Info().
		Str("table", table).
		Time("datetime", at).
		Int("bytes", len(payload)).
		Msg("Stored monitor results")
	return nil
}

// Exists reports whether results have been stored for table
func (s *Store) Exists(ctx context.Context, table string) (bool, error) {
	return s.db.TableExists(ctx, table)
}

// List returns every stored result for table ordered by time, or nil when the table is absent
func (s *Store) List(ctx context.Context, table string) ([]Record, error) {
	handle, err := s.db.Reflect(ctx, table)
	if err != nil || handle == nil {
		return nil, err
	}

	rows, err := handle.Select(ctx, s.db, database.Query{OrderBy: []string{"datetime"}})
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, rows.Len())
	for i := 0; i < rows.Len(); i++ {
		at, err := asTime(rows.Value(i, "datetime"))
		if err != nil {
			return nil, fmt.Errorf("results table %s row %d: %w", table, i, err)
		}
		text, _ := rows.Value(i, "result").(string)
		records = append(records, Record{Datetime: at, Result: json.RawMessage(text)})
	}
	return records, nil
}

// Drop removes the results table for table
func (s *Store) Drop(ctx context.Context, table string) error {
	handle := &database.TableHandle{Name: table}
	return handle.Drop(ctx, s.db)
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

func asTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised datetime %q", t)
	}
	return time.Time{}, fmt.Errorf("unexpected datetime type %T", v)
}
