package monitoring

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/basekick-labs/monitorframe/internal/database"
	"github.com/basekick-labs/monitorframe/internal/monitor"
	"github.com/basekick-labs/monitorframe/internal/plot"
	"github.com/basekick-labs/monitorframe/pkg/models"
)

// Column names written by the acq models
const (
	colSlewX    = "ACQSLEWX"
	colSlewY    = "ACQSLEWY"
	colExpStart = "EXPSTART"
	colRootname = "ROOTNAME"
	colProposal = "PROPOSID"
)

// SlewThreshold is the total slew, in arcseconds, above which an AcqImage is an outlier
const SlewThreshold = 2.0

var acqLabels = []string{colRootname, colProposal}

// modelData returns the model's new data, or the stored table when nothing new was fetched
func modelData(ctx context.Context, m *monitor.Monitor) (*models.Table, error) {
	model := m.Model()
	if nd := model.NewData(); nd != nil {
		return nd, nil
	}
	return model.QueryToTable(ctx, database.Query{OrderBy: []string{colExpStart}}, nil, nil)
}

// AcqImageMonitor tracks the total slew of ACQ/IMAGE acquisitions
type AcqImageMonitor struct{}

// GetData loads the acquisitions
func (AcqImageMonitor) GetData(ctx context.Context, m *monitor.Monitor) (*models.Table, error) {
	return modelData(ctx, m)
}

// Track returns sqrt(slewx² + slewy²) for every acquisition
func (AcqImageMonitor) Track(ctx context.Context, m *monitor.Monitor) (interface{}, error) {
	x, err := m.Data().Float64s(colSlewX)
	if err != nil {
		return nil, err
	}
	y, err := m.Data().Float64s(colSlewY)
	if err != nil {
		return nil, err
	}

	total := make([]float64, len(x))
	for i := range x {
		total[i] = math.Hypot(x[i], y[i])
	}
	return total, nil
}

// FindOutliers marks acquisitions whose total slew reaches the threshold
func (AcqImageMonitor) FindOutliers(ctx context.Context, m *monitor.Monitor) ([]bool, error) {
	total, ok := m.Results().([]float64)
	if !ok {
		return nil, fmt.Errorf("unexpected results type %T", m.Results())
	}
	mask := make([]bool, len(total))
	for i, v := range total {
		mask[i] = v >= SlewThreshold
	}
	return mask, nil
}

// SetNotification reports the outlier count
func (AcqImageMonitor) SetNotification(ctx context.Context, m *monitor.Monitor) (string, error) {
	n := 0
	for _, o := range m.Outliers() {
		if o {
			n++
		}
	}
	return fmt.Sprintf("%d AcqImages were found to have a total slew of greater than 2 arcseconds", n), nil
}

// DefinePlot plots slew y against slew x colored by exposure start
func (AcqImageMonitor) DefinePlot(m *monitor.Monitor) error {
	m.SetAxes(colSlewX, colSlewY, colExpStart)
	return m.SetPlotType(monitor.PlotScatter)
}

// SlewFits holds the linear trends of the AcqImage slews over time
type SlewFits struct {
	X, Y         Line
	XLine, YLine []float64
}

// AcqImageSlewMonitor fits the AcqImage slews in x and y against exposure start
type AcqImageSlewMonitor struct{}

// GetData loads the acquisitions
func (AcqImageSlewMonitor) GetData(ctx context.Context, m *monitor.Monitor) (*models.Table, error) {
	return modelData(ctx, m)
}

// Track fits both slews
func (AcqImageSlewMonitor) Track(ctx context.Context, m *monitor.Monitor) (interface{}, error) {
	t, err := m.Data().Float64s(colExpStart)
	if err != nil {
		return nil, err
	}
	x, err := m.Data().Float64s(colSlewX)
	if err != nil {
		return nil, err
	}
	y, err := m.Data().Float64s(colSlewY)
	if err != nil {
		return nil, err
	}

	xfit, err := LinearFit(t, x)
	if err != nil {
		return nil, fmt.Errorf("slew x: %w", err)
	}
	yfit, err := LinearFit(t, y)
	if err != nil {
		return nil, fmt.Errorf("slew y: %w", err)
	}
	return SlewFits{X: xfit, Y: yfit, XLine: xfit.EvalAll(t), YLine: yfit.EvalAll(t)}, nil
}

// FormatResults stores only the fit coefficients
func (AcqImageSlewMonitor) FormatResults(ctx context.Context, m *monitor.Monitor) (interface{}, error) {
	fits, ok := m.Results().(SlewFits)
	if !ok {
		return nil, fmt.Errorf("unexpected results type %T", m.Results())
	}
	return map[string]Line{"slew_x": fits.X, "slew_y": fits.Y}, nil
}

// Plot draws slew x on the top panel and slew y on the bottom, each with its fit
func (AcqImageSlewMonitor) Plot(ctx context.Context, m *monitor.Monitor) error {
	fits, ok := m.Results().(SlewFits)
	if !ok {
		return fmt.Errorf("unexpected results type %T", m.Results())
	}
	data := m.Data()
	t, _ := data.Column(colExpStart)
	x, _ := data.Column(colSlewX)
	y, _ := data.Column(colSlewY)

	traces := []plot.Trace{
		{Type: "scatter", Mode: "markers", Name: "Slew X", X: t, Y: x, Text: m.HoverText()},
		{Type: "scatter", Mode: "markers", Name: "Slew Y", X: t, Y: y, Text: m.HoverText()},
		{Type: "scatter", Mode: "lines", Name: fitName(fits.X), X: t, Y: floats(fits.XLine)},
		{Type: "scatter", Mode: "lines", Name: fitName(fits.Y), X: t, Y: floats(fits.YLine)},
	}
	for i, row := range []int{1, 2, 1, 2} {
		if err := m.Figure().AddTraceAt(traces[i], row, 1); err != nil {
			return err
		}
	}

	fig := m.Figure()
	fig.UpdateLayout(plot.Layout{Title: m.Name(), HoverMode: "closest"})
	fig.SetAxisTitle("xaxis", colExpStart)
	fig.SetAxisTitle("yaxis", colSlewX)
	fig.SetAxisTitle("xaxis2", colExpStart)
	fig.SetAxisTitle("yaxis2", colSlewY)
	return nil
}

func fitName(l Line) string {
	return fmt.Sprintf("Fit:\nslope: %.5f\nintercept: %.3f", l.Slope, l.Intercept)
}

func floats(v []float64) []interface{} {
	out := make([]interface{}, len(v))
	for i, f := range v {
		out[i] = f
	}
	return out
}

// slewTrend plots one peakup slew against time and fits its drift
type slewTrend struct {
	column string
}

// GetData loads the acquisitions ordered by exposure start
func (s slewTrend) GetData(ctx context.Context, m *monitor.Monitor) (*models.Table, error) {
	data, err := modelData(ctx, m)
	if err != nil {
		return nil, err
	}
	return sortBy(data, colExpStart)
}

// Track fits the slew against exposure start; fewer than two points give a flat zero line
func (s slewTrend) Track(ctx context.Context, m *monitor.Monitor) (interface{}, error) {
	t, err := m.Data().Float64s(colExpStart)
	if err != nil {
		return nil, err
	}
	slew, err := m.Data().Float64s(s.column)
	if err != nil {
		return nil, err
	}
	fit, err := LinearFit(t, slew)
	if err != nil {
		logger := m.Logger()
		logger.Warn().Err(err).Str("column", s.column).Msg("Not enough acquisitions to fit")
		return Line{}, nil
	}
	return fit, nil
}

// DefinePlot draws the slew over time
func (s slewTrend) DefinePlot(m *monitor.Monitor) error {
	m.SetAxes(colExpStart, s.column, "")
	return m.SetPlotType(monitor.PlotLine)
}

// AcqPeakdMonitor follows the dispersion-direction peakup slews
type AcqPeakdMonitor struct{ slewTrend }

// AcqPeakxdMonitor follows the cross-dispersion peakup slews
type AcqPeakxdMonitor struct{ slewTrend }

// NewAcqPeakdMonitor creates the ACQ/PEAKD monitor
func NewAcqPeakdMonitor() AcqPeakdMonitor {
	return AcqPeakdMonitor{slewTrend{column: colSlewX}}
}

// NewAcqPeakxdMonitor creates the ACQ/PEAKXD monitor
func NewAcqPeakxdMonitor() AcqPeakxdMonitor {
	return AcqPeakxdMonitor{slewTrend{column: colSlewY}}
}

// sortBy returns t ordered by the numeric column name; ties keep their order
func sortBy(t *models.Table, name string) (*models.Table, error) {
	if t.Empty() {
		return t, nil
	}
	keys, err := t.Float64s(name)
	if err != nil {
		return nil, err
	}
	idx := make([]int, len(keys))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return keys[idx[a]] < keys[idx[b]] })

	cols := make(models.Columns, 0, t.Width())
	for _, col := range t.Columns() {
		values, _ := t.Column(col)
		sorted := make([]interface{}, len(values))
		for i, j := range idx {
			sorted[i] = values[j]
		}
		cols = append(cols, models.Column{Name: col, Values: sorted})
	}
	return models.FromColumns(cols)
}
