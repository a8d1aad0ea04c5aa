package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Backend stores monitor reports and discovery cache snapshots. Keys are
// slash-separated and relative to the backend root or bucket prefix.
type Backend interface {
	// Write replaces the object at key
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	// Exists reports false, not an error, for a missing object
	Exists(ctx context.Context, key string) (bool, error)
	// Delete succeeds for a missing object
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)

	// Location is where a user can find key: a file path or s3:// URL
	Location(key string) string

	Close() error
	// Type is "local" or "s3"
	Type() string
}

// Config selects and configures a backend
type Config struct {
	Backend   string // local or s3
	LocalPath string
	S3        S3Config
}

// New creates the backend named by cfg.Backend
func New(cfg Config, logger zerolog.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalBackend(cfg.LocalPath, logger)
	case "s3", "minio":
		return NewS3Backend(&cfg.S3, logger)
	}
	return nil, fmt.Errorf("unsupported storage backend %q (valid: local, s3)", cfg.Backend)
}
