package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeSQLString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no quotes",
			input:    "2GB",
			expected: "2GB",
		},
		{
			name:     "single quote",
			input:    "value'with'quotes",
			expected: "value''with''quotes",
		},
		{
			name:     "injection attempt",
			input:    "1GB'; DROP TABLE acqs; --",
			expected: "1GB''; DROP TABLE acqs; --",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := escapeSQLString(tt.input)
			if result != tt.expected {
				t.Errorf("escapeSQLString(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"a"`, quoteIdent("a"))
	assert.Equal(t, `"we""ird"`, quoteIdent(`we"ird`))
}

func TestDialectFor(t *testing.T) {
	for _, driver := range []string{"", "sqlite", "sqlite3", "SQLite3"} {
		d, err := dialectFor(driver)
		require.NoError(t, err, driver)
		assert.Equal(t, DriverSQLite, d.driver)
	}

	d, err := dialectFor("duckdb")
	require.NoError(t, err)
	assert.Equal(t, "DOUBLE", d.realType)

	_, err = dialectFor("postgres")
	assert.Error(t, err)
}

func TestDialect_DSN(t *testing.T) {
	flags := map[string]string{
		"_busy_timeout": "5000",
		"_journal_mode": "WAL",
	}
	assert.Equal(t, "/data/cosmo.db?_busy_timeout=5000&_journal_mode=WAL", sqliteDialect.dsn("/data/cosmo.db", flags))
	assert.Equal(t, "/data/cosmo.db", sqliteDialect.dsn("/data/cosmo.db", nil))

	// session settings are applied with SET, not in the DSN
	duck := map[string]string{"memory_limit": "1GB", "threads": "2", "access_mode": "READ_WRITE"}
	assert.Equal(t, "/data/cosmo.duckdb?access_mode=READ_WRITE", duckdbDialect.dsn("/data/cosmo.duckdb", duck))
}
