package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/basekick-labs/monitorframe/internal/metrics"
	"github.com/rs/zerolog"
)

// reportMode is applied to written files so reports can be served as-is
const reportMode os.FileMode = 0644

// LocalBackend keeps reports and cache snapshots as files under a root directory
type LocalBackend struct {
	root   string
	logger zerolog.Logger
}

// NewLocalBackend creates the root directory if needed. An empty root is
// the working directory.
func NewLocalBackend(root string, logger zerolog.Logger) (*LocalBackend, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", abs, err)
	}
	return &LocalBackend{
		root:   abs,
		logger: logger.With().Str("component", "local-storage").Logger(),
	}, nil
}

// resolve maps an object key to a path under root. Keys are treated as
// rooted, so "..", leading slashes and NUL bytes cannot leave the root.
func (b *LocalBackend) resolve(key string) string {
	key = strings.ReplaceAll(key, "\x00", "")
	clean := filepath.Clean(string(filepath.Separator) + filepath.FromSlash(key))
	return filepath.Join(b.root, clean)
}

// Write replaces the object at key. Content lands in a hidden temp file
// first so a reader never sees a half-written report.
func (b *LocalBackend) Write(ctx context.Context, key string, data []byte) error {
	dst := b.resolve(key)
	if err := b.replace(dst, data); err != nil {
		metrics.Get().IncStorageErrors()
		return err
	}

	metrics.Get().IncStorageWrites()
	metrics.Get().IncStorageWriteBytes(int64(len(data)))
	b.logger.Debug().Str("path", dst).Int("bytes", len(data)).Msg("Stored object")
	return nil
}

func (b *LocalBackend) replace(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".monitorframe-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", dst, err)
	}
	if err := os.Chmod(tmpName, reportMode); err != nil {
		return fmt.Errorf("failed to set mode on %s: %w", dst, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", dst, err)
	}
	committed = true
	return nil
}

// Read returns the object at key
func (b *LocalBackend) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.resolve(key))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("object not found: %s", key)
	case err != nil:
		metrics.Get().IncStorageErrors()
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	metrics.Get().IncStorageReads()
	return data, nil
}

// Exists reports whether an object is stored at key
func (b *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(b.resolve(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

// Delete removes the object at key. Deleting a missing object succeeds.
func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	err := os.Remove(b.resolve(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// List returns root-relative keys of every object under prefix. Hidden
// files, including in-progress temp files, are left out.
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, rel)
		return ctx.Err()
	}
	if err := filepath.WalkDir(b.resolve(prefix), walk); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	return keys, nil
}

// Location returns the absolute file path for key
func (b *LocalBackend) Location(key string) string {
	return b.resolve(key)
}

// BasePath returns the root directory
func (b *LocalBackend) BasePath() string {
	return b.root
}

// Close has nothing to release
func (b *LocalBackend) Close() error {
	return nil
}

// Type returns "local"
func (b *LocalBackend) Type() string {
	return "local"
}
