package monitoring

import (
	"errors"
	"fmt"
)

// ErrDegenerateFit is returned when x has no spread
var ErrDegenerateFit = errors.New("linear fit requires at least two distinct x values")

// Line is y = Slope*x + Intercept
type Line struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// Eval returns the line at x
func (l Line) Eval(x float64) float64 { return l.Slope*x + l.Intercept }

// EvalAll returns the line at every x
func (l Line) EvalAll(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = l.Eval(x)
	}
	return out
}

// LinearFit returns the least squares line through (x, y)
func LinearFit(x, y []float64) (Line, error) {
	if len(x) != len(y) {
		return Line{}, fmt.Errorf("linear fit: x has %d values, y has %d", len(x), len(y))
	}
	n := float64(len(x))
	if n < 2 {
		return Line{}, ErrDegenerateFit
	}

	var mx, my float64
	for i := range x {
		mx += x[i]
		my += y[i]
	}
	mx /= n
	my /= n

	// centered sums keep precision for large x such as MJD dates
	var sxx, sxy float64
	for i := range x {
		dx := x[i] - mx
		sxx += dx * dx
		sxy += dx * (y[i] - my)
	}
	if sxx == 0 {
		return Line{}, ErrDegenerateFit
	}

	slope := sxy / sxx
	return Line{Slope: slope, Intercept: my - slope*mx}, nil
}
