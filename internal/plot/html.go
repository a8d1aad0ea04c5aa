package plot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
)

// PlotlyJS is the plotly.js bundle referenced by rendered pages
const PlotlyJS = "https://cdn.plot.ly/plotly-2.35.2.min.js"

var pageTemplate = template.Must(template.New("figure").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="{{.Script}}"></script>
</head>
<body>
<div id="figure" style="width:100%;height:100%;"></div>
<script>
Plotly.newPlot("figure", {{.Data}}, {{.Layout}}, {responsive: true});
</script>
</body>
</html>
`))

type page struct {
	Title  string
	Script string
	Data   template.JS
	Layout template.JS
}

// HTML renders the figure as a standalone page
func (f *Figure) HTML(title string) ([]byte, error) {
	data := f.Data
	if data == nil {
		data = []Trace{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode traces: %w", err)
	}
	layoutJSON, err := json.Marshal(f.Layout)
	if err != nil {
		return nil, fmt.Errorf("failed to encode layout: %w", err)
	}

	var buf bytes.Buffer
	err = pageTemplate.Execute(&buf, page{
		Title:  title,
		Script: PlotlyJS,
		Data:   template.JS(dataJSON),
		Layout: template.JS(layoutJSON),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render figure: %w", err)
	}
	return buf.Bytes(), nil
}
