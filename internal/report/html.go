package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/peakfinder/internal/bragg"
	"github.com/banshee-data/peakfinder/internal/spectrum"
)

// AssetsHost is where the rendered pages load echarts from. Empty uses
// the go-echarts default CDN.
var AssetsHost = ""

func initOpts(title string) opts.Initialization {
	return opts.Initialization{PageTitle: title, Width: "1200px", Height: "600px", AssetsHost: AssetsHost}
}

// RenderFitHTML writes an interactive line chart of a 1D result: the raw
// signal, baseline and model with the fitted centres marked.
func RenderFitHTML(w io.Writer, title string, res *spectrum.Result) error {
	s := newFitSeries(res)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(title)),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("peaks=%d refit=%d chi2=%.4g", len(res.Peaks), len(res.Refit), res.Cost.Chi2),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "x", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Counts"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	noSymbol := charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})
	line.AddSeries("data", lineData(s.x, s.data), noSymbol)
	if len(s.baseline) > 0 {
		line.AddSeries("baseline", lineData(s.x, s.baseline), noSymbol)
	}
	if len(s.model) > 0 {
		line.AddSeries("model", lineData(s.x, s.model), noSymbol)
	}

	if len(s.peakX) > 0 {
		marks := charts.NewScatter()
		pts := make([]opts.ScatterData, len(s.peakX))
		for i := range s.peakX {
			pts[i] = opts.ScatterData{Value: []interface{}{s.peakX[i], s.peakY[i]}, Symbol: "triangle", SymbolSize: 10}
		}
		marks.AddSeries("peaks", pts)
		line.Overlap(marks)
	}
	return line.Render(w)
}

// RenderBraggHTML writes a scatter of 3D peaks in (TOF bin, intensity),
// one series per bank, coloured by ratio.
func RenderBraggHTML(w io.Writer, title string, peaks []bragg.Peak) error {
	byBank := groupByBank(peaks)
	banks := make([]string, 0, len(byBank))
	maxRatio := 0.0
	for name, bp := range byBank {
		banks = append(banks, name)
		for _, p := range bp {
			maxRatio = max(maxRatio, p.Ratio)
		}
	}
	sort.Strings(banks)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(title)),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("banks=%d peaks=%d", len(banks), len(peaks))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "TOF bin", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Intensity"}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Dimension:  "2",
			Min:        0,
			Max:        float32(max(maxRatio, 1)),
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#31688e", "#35b779", "#fde725"}},
		}),
	)
	for _, name := range banks {
		bp := byBank[name]
		pts := make([]opts.ScatterData, len(bp))
		for i, p := range bp {
			pts[i] = opts.ScatterData{Value: []interface{}{p.TOFBin, p.Intensity, p.Ratio, p.Row, p.Col}}
		}
		scatter.AddSeries(name, pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	}
	return scatter.Render(w)
}

func lineData(x, y []float64) []opts.LineData {
	out := make([]opts.LineData, 0, len(x))
	for i := range x {
		if finite(x[i]) && finite(y[i]) {
			out = append(out, opts.LineData{Value: []interface{}{x[i], y[i]}})
		}
	}
	return out
}
