// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global logger on stderr so report paths and
// listings printed to stdout can be piped.
func Setup(level, format string) {
	SetupWriter(level, format, os.Stderr)
}

// SetupWriter configures the global logger on out. format "console"
// gives human-readable lines, anything else JSON.
func SetupWriter(level, format string, out io.Writer) {
	lvl := ParseLevel(level)
	zerolog.SetGlobalLevel(lvl)

	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	lc := zerolog.New(out).With().Timestamp()
	if lvl <= zerolog.DebugLevel {
		lc = lc.Caller()
	}
	log.Logger = lc.Logger()
}

// ParseLevel maps a settings-file level name to a zerolog level.
// "warning" is accepted for warn; unknown or empty names mean info.
func ParseLevel(level string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Get returns the global logger tagged with component
func Get(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForModel returns a component logger that also carries a data model name
func ForModel(component, model string) zerolog.Logger {
	return log.With().Str("component", component).Str("model", model).Logger()
}
