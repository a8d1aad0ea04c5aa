package plot

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSubplots(t *testing.T) {
	f, err := NewSubplots(2, 1)
	require.NoError(t, err)

	assert.True(t, f.HasAxis("xaxis"))
	assert.True(t, f.HasAxis("xaxis2"))
	assert.True(t, f.HasAxis("yaxis2"))
	assert.False(t, f.HasAxis("xaxis3"))

	require.NoError(t, f.AddTraceAt(Trace{Type: "scatter"}, 2, 1))
	assert.Equal(t, "x2", f.Data[0].XAxis)
	assert.Equal(t, "y2", f.Data[0].YAxis)

	assert.Error(t, f.AddTraceAt(Trace{Type: "scatter"}, 3, 1))

	_, err = NewSubplots(0, 1)
	assert.Error(t, err)
}

func TestLayout_MarshalJSON(t *testing.T) {
	f := NewFigure()
	f.UpdateLayout(Layout{Title: "AcqImage", HoverMode: "closest"})
	f.SetAxisTitle("xaxis", "ACQSLEWX")

	data, err := json.Marshal(f.Layout)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "closest", decoded["hovermode"])
	assert.Equal(t, map[string]interface{}{"text": "AcqImage"}, decoded["title"])
	assert.Equal(t, map[string]interface{}{"title": "ACQSLEWX"}, decoded["xaxis"])
}

func TestFigure_HTML(t *testing.T) {
	f := NewFigure()
	f.AddTrace(Trace{
		Type: "scatter",
		Mode: "markers",
		X:    []interface{}{1, 2},
		Y:    []interface{}{3, 4},
		Text: []string{"ROOTNAME    la1<br>", "ROOTNAME    la2"},
	})

	page, err := f.HTML("AcqImageMonitor: 2026-10-17")
	require.NoError(t, err)

	html := string(page)
	assert.Contains(t, html, PlotlyJS)
	assert.Contains(t, html, "<title>AcqImageMonitor: 2026-10-17</title>")
	assert.Contains(t, html, `"mode":"markers"`)
	assert.True(t, strings.Contains(html, `Plotly.newPlot("figure"`))
}
