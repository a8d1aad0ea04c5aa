package monitoring

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/basekick-labs/monitorframe/internal/fits"
	"github.com/basekick-labs/monitorframe/internal/ingest"
	"github.com/basekick-labs/monitorframe/internal/metrics"
	"github.com/basekick-labs/monitorframe/internal/storage"
	"github.com/basekick-labs/monitorframe/pkg/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultSource is the COS data archive root
const DefaultSource = "/grp/hst/cos2/cosmo"

var programDir = regexp.MustCompile(`^\d{5}`)

// errFiltered marks files rejected by the exposure type filter
var errFiltered = errors.New("exposure type does not match")

// Keyword names a header keyword and the HDU it is read from
type Keyword struct {
	Name string
	HDU  int
}

// Keywords pairs names with HDU indices
func Keywords(names []string, hdus []int) ([]Keyword, error) {
	if len(names) != len(hdus) {
		return nil, fmt.Errorf("keywords and extensions must be the same length (%d != %d)", len(names), len(hdus))
	}
	out := make([]Keyword, len(names))
	for i := range names {
		out[i] = Keyword{Name: names[i], HDU: hdus[i]}
	}
	return out, nil
}

// FinderConfig configures a FileFinder
type FinderConfig struct {
	SourceDir string
	Pattern   string // glob matched within each program directory, e.g. "*rawacq*"

	Keywords    []Keyword
	SPTKeywords []Keyword // read from the <rootname>_spt.fits.gz companion
	ExpType     string    // keep only files whose EXPTYPE (or OPMODE) matches

	Workers int

	// Cache, when set, stores the scanned batch under CacheKey as MessagePack
	Cache    storage.Backend
	CacheKey string

	Logger zerolog.Logger
}

// FileFinder scans program directories for files and collects header keywords from them
type FileFinder struct {
	cfg    FinderConfig
	codec  *ingest.TableCodec
	logger zerolog.Logger
}

// NewFileFinder validates cfg and creates a finder
func NewFileFinder(cfg FinderConfig) (*FileFinder, error) {
	if cfg.SourceDir == "" {
		cfg.SourceDir = DefaultSource
	}
	if cfg.Pattern == "" {
		cfg.Pattern = "*"
	}
	if _, err := filepath.Match(cfg.Pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid file pattern %q: %w", cfg.Pattern, err)
	}
	if len(cfg.Keywords) == 0 {
		return nil, fmt.Errorf("file finder requires at least one keyword")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Cache != nil && cfg.CacheKey == "" {
		return nil, fmt.Errorf("file finder cache requires a cache key")
	}

	logger := cfg.Logger.With().Str("component", "file-finder").Str("pattern", cfg.Pattern).Logger()
	return &FileFinder{
		cfg:    cfg,
		codec:  ingest.NewTableCodec(logger),
		logger: logger,
	}, nil
}

// FindFiles lists files matching the pattern in every program directory, sorted by base name
func (f *FileFinder) FindFiles(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.cfg.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", f.cfg.SourceDir, err)
	}

	var programs []string
	for _, e := range entries {
		if e.IsDir() && programDir.MatchString(e.Name()) {
			programs = append(programs, filepath.Join(f.cfg.SourceDir, e.Name()))
		}
	}

	var (
		mu    sync.Mutex
		files []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Workers)
	for _, dir := range programs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			matches, err := filepath.Glob(filepath.Join(dir, f.cfg.Pattern))
			if err != nil {
				return err
			}
			mu.Lock()
			files = append(files, matches...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		bi, bj := filepath.Base(files[i]), filepath.Base(files[j])
		if bi != bj {
			return bi < bj
		}
		return files[i] < files[j]
	})

	f.logger.Debug().Int("programs", len(programs)).Int("files", len(files)).Msg("Found files")
	return files, nil
}

// SPTPath returns the support file that accompanies path: <rootname>_spt.fits.gz in the same directory
func SPTPath(path string) string {
	dir, name := filepath.Split(path)
	root, _, _ := strings.Cut(name, "_")
	return filepath.Join(dir, root+"_spt.fits.gz")
}

// DataFromFiles reads the configured keywords from every matching file.
// Files that fail the exposure filter are dropped; unreadable files are logged and skipped.
func (f *FileFinder) DataFromFiles(ctx context.Context) ([]map[string]interface{}, error) {
	start := time.Now()
	files, err := f.FindFiles(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]interface{}, len(files))
	var skipped, filtered int
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row, err := f.readFile(path)
			switch {
			case errors.Is(err, errFiltered):
				mu.Lock()
				filtered++
				mu.Unlock()
			case err != nil:
				metrics.Get().IncFileErrors()
				f.logger.Warn().Err(err).Str("file", path).Msg("Skipping unreadable file")
				mu.Lock()
				skipped++
				mu.Unlock()
			default:
				rows[i] = row
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	metrics.Get().IncFilesScanned(int64(len(files)))

	out := make([]map[string]interface{}, 0, len(rows))
	for _, r := range rows {
		if r != nil {
			out = append(out, r)
		}
	}

	f.logger.Info().
		Int("files", len(files)).
		Int("rows", len(out)).
		Int("filtered", filtered).
		Int("skipped", skipped).
		Dur("duration", time.Since(start)).
		Msg("Collected header keywords")

	if f.cfg.Cache != nil && len(out) > 0 {
		if err := f.writeCache(ctx, out); err != nil {
			f.logger.Warn().Err(err).Str("key", f.cfg.CacheKey).Msg("Failed to write discovery cache")
		}
	}
	return out, nil
}

func (f *FileFinder) readFile(path string) (map[string]interface{}, error) {
	headers, err := fits.ReadFile(path, maxHDU(f.cfg.Keywords))
	if err != nil {
		return nil, err
	}

	if f.cfg.ExpType != "" {
		exptype, err := headers[0].String("EXPTYPE")
		if errors.Is(err, fits.ErrKeywordNotFound) {
			exptype, err = headers[0].String("OPMODE")
		}
		if err != nil {
			return nil, err
		}
		if exptype != f.cfg.ExpType {
			return nil, errFiltered
		}
	}

	row := make(map[string]interface{}, len(f.cfg.Keywords)+len(f.cfg.SPTKeywords))
	if err := collect(row, headers, f.cfg.Keywords); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if len(f.cfg.SPTKeywords) > 0 {
		spt := SPTPath(path)
		sptHeaders, err := fits.ReadFile(spt, maxHDU(f.cfg.SPTKeywords))
		if err != nil {
			return nil, err
		}
		if err := collect(row, sptHeaders, f.cfg.SPTKeywords); err != nil {
			return nil, fmt.Errorf("%s: %w", spt, err)
		}
	}
	return row, nil
}

func collect(row map[string]interface{}, headers []*fits.Header, keywords []Keyword) error {
	for _, k := range keywords {
		if k.HDU >= len(headers) {
			return fmt.Errorf("HDU %d not present for %s", k.HDU, k.Name)
		}
		v, err := headers[k.HDU].Get(k.Name)
		if err != nil {
			return err
		}
		row[k.Name] = v
	}
	return nil
}

func maxHDU(keywords []Keyword) int {
	n := 0
	for _, k := range keywords {
		if k.HDU > n {
			n = k.HDU
		}
	}
	return n
}

func (f *FileFinder) writeCache(ctx context.Context, rows []map[string]interface{}) error {
	table, err := models.FromRows(rows)
	if err != nil {
		return err
	}
	data, err := f.codec.Encode(table)
	if err != nil {
		return err
	}
	if err := f.cfg.Cache.Write(ctx, f.cfg.CacheKey, data); err != nil {
		return err
	}
	metrics.Get().IncMsgPackRecords(int64(table.Len()))
	f.logger.Debug().Str("key", f.cfg.CacheKey).Int("rows", table.Len()).Msg("Wrote discovery cache")
	return nil
}

// CachedData returns the batch stored by the last scan, or nil when there is none
func (f *FileFinder) CachedData(ctx context.Context) (*models.Table, error) {
	if f.cfg.Cache == nil {
		return nil, nil
	}
	ok, err := f.cfg.Cache.Exists(ctx, f.cfg.CacheKey)
	if err != nil || !ok {
		return nil, err
	}
	data, err := f.cfg.Cache.Read(ctx, f.cfg.CacheKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery cache: %w", err)
	}
	return f.codec.Decode(data)
}
