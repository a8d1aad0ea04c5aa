// Package monitoring holds the COS target acquisition data models and monitors
package monitoring

import (
	"context"
	"math"

	"github.com/basekick-labs/monitorframe/internal/storage"
	"github.com/basekick-labs/monitorframe/pkg/models"
	"github.com/rs/zerolog"
)

const rawacqPattern = "*rawacq*"

var sptKeywords = []Keyword{{Name: "DGESTAR", HDU: 0}}

// Source locates the raw acquisition files shared by every acq model
type Source struct {
	Dir     string
	Workers int

	// Cache holds the last scan of each model; UseCache reads it instead of scanning
	Cache    storage.Backend
	UseCache bool

	Logger zerolog.Logger
}

func (s Source) acqData(ctx context.Context, name string, keywords []Keyword, exptype string) ([]map[string]interface{}, error) {
	finder, err := NewFileFinder(FinderConfig{
		SourceDir:   s.Dir,
		Pattern:     rawacqPattern,
		Keywords:    keywords,
		SPTKeywords: sptKeywords,
		ExpType:     exptype,
		Workers:     s.Workers,
		Cache:       s.Cache,
		CacheKey:    name + ".msgpack",
		Logger:      s.Logger,
	})
	if err != nil {
		return nil, err
	}

	var rows []map[string]interface{}
	if s.UseCache {
		cached, err := finder.CachedData(ctx)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			s.Logger.Info().Str("model", name).Int("rows", cached.Len()).Msg("Using cached file scan")
			rows = cached.Rows()
		}
	}
	if rows == nil {
		rows, err = finder.DataFromFiles(ctx)
		if err != nil {
			return nil, err
		}
	}

	dgestarToFGS(rows)
	return rows, nil
}

// dgestarToFGS sets dom_fgs, the dominant guide sensor, from the last two characters of DGESTAR
func dgestarToFGS(rows []map[string]interface{}) {
	for _, row := range rows {
		s, ok := row["DGESTAR"].(string)
		if !ok {
			continue
		}
		if len(s) > 2 {
			s = s[len(s)-2:]
		}
		row["dom_fgs"] = s
	}
}

// AcqPeakdModel collects ACQ/PEAKD acquisitions
type AcqPeakdModel struct{ Source }

// GetNewData scans the archive
func (m AcqPeakdModel) GetNewData(ctx context.Context) (interface{}, error) {
	keywords, err := Keywords(
		[]string{"ACQSLEWX", "EXPSTART", "LIFE_ADJ", "ROOTNAME", "PROPOSID"},
		[]int{0, 1, 0, 0, 0},
	)
	if err != nil {
		return nil, err
	}
	return m.acqData(ctx, "AcqPeakdModel", keywords, "ACQ/PEAKD")
}

// AcqPeakxdModel collects ACQ/PEAKXD acquisitions
type AcqPeakxdModel struct{ Source }

// GetNewData scans the archive
func (m AcqPeakxdModel) GetNewData(ctx context.Context) (interface{}, error) {
	keywords, err := Keywords(
		[]string{"ACQSLEWY", "EXPSTART", "LIFE_ADJ", "ROOTNAME", "PROPOSID"},
		[]int{0, 1, 0, 0, 0},
	)
	if err != nil {
		return nil, err
	}
	return m.acqData(ctx, "AcqPeakxdModel", keywords, "ACQ/PEAKXD")
}

// AcqImageModel collects ACQ/IMAGE acquisitions and adds the slews in V2/V3 coordinates
type AcqImageModel struct{ Source }

// GetNewData scans the archive
func (m AcqImageModel) GetNewData(ctx context.Context) (interface{}, error) {
	keywords, err := Keywords(
		[]string{
			"ACQSLEWX", "ACQSLEWY", "EXPSTART", "ROOTNAME", "PROPOSID", "OBSTYPE", "NEVENTS", "SHUTTER",
			"LAMPEVNT", "ACQSTAT", "EXTENDED", "LINENUM",
		},
		[]int{0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 0, 0},
	)
	if err != nil {
		return nil, err
	}

	rows, err := m.acqData(ctx, "AcqImageModel", keywords, "ACQ/IMAGE")
	if err != nil {
		return nil, err
	}

	out := rows[:0]
	for _, row := range rows {
		x, okx := models.ToFloat64(row["ACQSLEWX"])
		y, oky := models.ToFloat64(row["ACQSLEWY"])
		if !okx || !oky {
			m.Logger.Warn().Interface("rootname", row["ROOTNAME"]).Msg("Dropping acquisition with non-numeric slew")
			continue
		}
		row["V2SLEW"], row["V3SLEW"] = DetectorToV2V3(x, y)
		out = append(out, row)
	}
	return out, nil
}

// DetectorToV2V3 rotates detector slews by 45 degrees into V2/V3
func DetectorToV2V3(slewx, slewy float64) (v2, v3 float64) {
	angle := 45.0 * math.Pi / 180
	x := slewx * math.Cos(angle)
	y := slewy * math.Sin(angle)
	return x + y, x - y
}
