package plot

import (
	"encoding/json"
	"fmt"
)

// Marker styles scatter points
type Marker struct {
	Color      interface{} `json:"color,omitempty"`
	Colorscale string      `json:"colorscale,omitempty"`
	ShowScale  bool        `json:"showscale,omitempty"`
	Size       int         `json:"size,omitempty"`
	ColorBar   *ColorBar   `json:"colorbar,omitempty"`
}

// ColorBar labels a color scale
type ColorBar struct {
	Title string `json:"title,omitempty"`
}

// Line styles line traces
type Line struct {
	Color string `json:"color,omitempty"`
	Dash  string `json:"dash,omitempty"`
}

// Trace is one plotly.js trace
type Trace struct {
	Type       string        `json:"type"`
	Mode       string        `json:"mode,omitempty"`
	Name       string        `json:"name,omitempty"`
	X          []interface{} `json:"x,omitempty"`
	Y          []interface{} `json:"y,omitempty"`
	Z          interface{}   `json:"z,omitempty"`
	Text       []string      `json:"text,omitempty"`
	HoverInfo  string        `json:"hoverinfo,omitempty"`
	Marker     *Marker       `json:"marker,omitempty"`
	Line       *Line         `json:"line,omitempty"`
	Colorscale string        `json:"colorscale,omitempty"`
	ZMin       *float64      `json:"zmin,omitempty"`
	ZMax       *float64      `json:"zmax,omitempty"`
	ZSmooth    string        `json:"zsmooth,omitempty"`
	XAxis      string        `json:"xaxis,omitempty"`
	YAxis      string        `json:"yaxis,omitempty"`
}

// Axis configures one layout axis
type Axis struct {
	Title  string    `json:"title,omitempty"`
	Anchor string    `json:"anchor,omitempty"`
	Domain []float64 `json:"domain,omitempty"`
}

// Grid arranges subplots
type Grid struct {
	Rows    int    `json:"rows"`
	Columns int    `json:"columns"`
	Pattern string `json:"pattern"`
}

// Layout is the plotly.js layout; axes are keyed "xaxis", "yaxis2" and so on
type Layout struct {
	Title     string
	HoverMode string
	Width     int
	Height    int
	Grid      *Grid
	Axes      map[string]Axis
}

// MarshalJSON flattens the axis map into top-level layout keys
func (l Layout) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(l.Axes)+5)
	if l.Title != "" {
		out["title"] = map[string]string{"text": l.Title}
	}
	if l.HoverMode != "" {
		out["hovermode"] = l.HoverMode
	}
	if l.Width > 0 {
		out["width"] = l.Width
	}
	if l.Height > 0 {
		out["height"] = l.Height
	}
	if l.Grid != nil {
		out["grid"] = l.Grid
	}
	for name, axis := range l.Axes {
		out[name] = axis
	}
	return json.Marshal(out)
}

// Figure is a set of traces and a layout
type Figure struct {
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`

	rows, cols int
}

// NewFigure creates a single-panel figure
func NewFigure() *Figure {
	return &Figure{
		Layout: Layout{Axes: map[string]Axis{"xaxis": {}, "yaxis": {}}},
		rows:   1,
		cols:   1,
	}
}

// NewSubplots creates a figure with a rows x cols grid of independent panels
func NewSubplots(rows, cols int) (*Figure, error) {
	if rows < 1 || cols < 1 {
		return nil, fmt.Errorf("invalid subplot layout %dx%d", rows, cols)
	}

	f := &Figure{
		Layout: Layout{
			Grid: &Grid{Rows: rows, Columns: cols, Pattern: "independent"},
			Axes: make(map[string]Axis, 2*rows*cols),
		},
		rows: rows,
		cols: cols,
	}
	for n := 1; n <= rows*cols; n++ {
		x, y := axisKeys(n)
		f.Layout.Axes[x] = Axis{Anchor: axisRef("y", n)}
		f.Layout.Axes[y] = Axis{Anchor: axisRef("x", n)}
	}
	return f, nil
}

// Shape returns the subplot grid size
func (f *Figure) Shape() (rows, cols int) { return f.rows, f.cols }

// AddTrace adds a trace to the first panel
func (f *Figure) AddTrace(t Trace) {
	f.Data = append(f.Data, t)
}

// AddTraceAt adds a trace to the panel at row, col (1-based)
func (f *Figure) AddTraceAt(t Trace, row, col int) error {
	if row < 1 || row > f.rows || col < 1 || col > f.cols {
		return fmt.Errorf("subplot (%d, %d) outside %dx%d grid", row, col, f.rows, f.cols)
	}
	n := (row-1)*f.cols + col
	t.XAxis = axisRef("x", n)
	t.YAxis = axisRef("y", n)
	f.Data = append(f.Data, t)
	return nil
}

// HasAxis reports whether the layout defines the named axis, e.g. "xaxis2"
func (f *Figure) HasAxis(name string) bool {
	_, ok := f.Layout.Axes[name]
	return ok
}

// SetAxisTitle titles the named axis
func (f *Figure) SetAxisTitle(name, title string) {
	if f.Layout.Axes == nil {
		f.Layout.Axes = make(map[string]Axis)
	}
	axis := f.Layout.Axes[name]
	axis.Title = title
	f.Layout.Axes[name] = axis
}

// UpdateLayout copies the non-zero fields of l into the figure's layout
func (f *Figure) UpdateLayout(l Layout) {
	if l.Title != "" {
		f.Layout.Title = l.Title
	}
	if l.HoverMode != "" {
		f.Layout.HoverMode = l.HoverMode
	}
	if l.Width > 0 {
		f.Layout.Width = l.Width
	}
	if l.Height > 0 {
		f.Layout.Height = l.Height
	}
	if l.Grid != nil {
		f.Layout.Grid = l.Grid
	}
	for name, axis := range l.Axes {
		if f.Layout.Axes == nil {
			f.Layout.Axes = make(map[string]Axis)
		}
		f.Layout.Axes[name] = axis
	}
}

func axisKeys(n int) (string, string) {
	if n == 1 {
		return "xaxis", "yaxis"
	}
	return fmt.Sprintf("xaxis%d", n), fmt.Sprintf("yaxis%d", n)
}

func axisRef(prefix string, n int) string {
	if n == 1 {
		return prefix
	}
	return fmt.Sprintf("%s%d", prefix, n)
}
