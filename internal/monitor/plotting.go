package monitor

import (
	"fmt"
	"math"
	"sort"

	"github.com/basekick-labs/monitorframe/internal/plot"
	"github.com/basekick-labs/monitorframe/pkg/models"
)

const colorscale = "Viridis"

// BasicLayout titles the figure with the monitor name and the axes with the x and y columns
func (m *Monitor) BasicLayout() plot.Layout {
	l := plot.Layout{Title: m.name, HoverMode: "closest"}
	if m.x != "" || m.y != "" {
		l.Axes = map[string]plot.Axis{
			"xaxis": {Title: m.x},
			"yaxis": {Title: m.y},
		}
	}
	return l
}

// BasicScatter adds a marker plot of y against x, colored by z when set
func (m *Monitor) BasicScatter() error { return m.basicScatter("markers") }

// BasicLine adds a line plot of y against x
func (m *Monitor) BasicLine() error { return m.basicScatter("lines") }

func (m *Monitor) basicScatter(mode string) error {
	x, y, err := m.xy()
	if err != nil {
		return err
	}

	trace := plot.Trace{
		Type: "scatter",
		Mode: mode,
		Name: "Monitor",
		X:    x,
		Y:    y,
		Text: m.HoverText(),
	}
	if m.z != "" {
		z, err := m.column(m.z)
		if err != nil {
			return err
		}
		trace.Marker = &plot.Marker{
			Color:      z,
			Colorscale: colorscale,
			ShowScale:  true,
			ColorBar:   &plot.ColorBar{Title: m.z},
		}
	}
	m.figure.AddTrace(trace)

	if m.outliers == nil {
		return nil
	}

	outliers, err := m.data.Filter(m.outliers)
	if err != nil {
		return fmt.Errorf("failed to select outliers: %w", err)
	}
	ox, _ := outliers.Column(m.x)
	oy, _ := outliers.Column(m.y)
	m.figure.AddTrace(plot.Trace{
		Type:   "scatter",
		Mode:   "markers",
		Name:   "Outliers",
		X:      ox,
		Y:      oy,
		Text:   stringColumn(outliers, HoverTextColumn),
		Marker: &plot.Marker{Color: "red"},
	})
	return nil
}

// BasicImage adds a heatmap of z over x and y scaled from 0 to the median of z
func (m *Monitor) BasicImage() error {
	x, y, err := m.xy()
	if err != nil {
		return err
	}
	if m.z == "" {
		return fmt.Errorf("%w: image plots need a z column", ErrNotDefined)
	}
	z, err := m.column(m.z)
	if err != nil {
		return err
	}

	zs, err := m.data.Float64s(m.z)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", m.z, err)
	}
	zmin, zmax := 0.0, median(zs)

	m.figure.AddTrace(plot.Trace{
		Type:       "heatmap",
		X:          x,
		Y:          y,
		Z:          z,
		Colorscale: colorscale,
		ZMin:       &zmin,
		ZMax:       &zmax,
		ZSmooth:    "best",
	})
	return nil
}

func (m *Monitor) xy() ([]interface{}, []interface{}, error) {
	if m.x == "" || m.y == "" {
		return nil, nil, fmt.Errorf("%w: x and y must be set before plotting", ErrNotDefined)
	}
	x, err := m.column(m.x)
	if err != nil {
		return nil, nil, err
	}
	y, err := m.column(m.y)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func (m *Monitor) column(name string) ([]interface{}, error) {
	values, ok := m.data.Column(name)
	if !ok {
		return nil, fmt.Errorf("plot column %q not found", name)
	}
	return values, nil
}

// HoverText returns the hover labels of the data rows, or nil when no labels are set
func (m *Monitor) HoverText() []string {
	return stringColumn(m.data, HoverTextColumn)
}

func stringColumn(t *models.Table, name string) []string {
	values, ok := t.Column(name)
	if !ok {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		if v != nil {
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}

// median ignores NaN values; an empty input gives 0
func median(values []float64) float64 {
	vals := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0
	}
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}
