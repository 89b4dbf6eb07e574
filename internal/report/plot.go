package report

import (
	"fmt"
	"image/color"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/peakfinder/internal/bragg"
	"github.com/banshee-data/peakfinder/internal/spectrum"
)

var (
	dataColor     = color.RGBA{R: 90, G: 90, B: 90, A: 255}
	baselineColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	modelColor    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	peakColor     = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// SaveFitPlot writes the raw signal, baseline and fitted model of a 1D
// result to path. The image format follows the file extension.
func SaveFitPlot(path, title string, res *spectrum.Result) error {
	s := newFitSeries(res)
	if len(s.x) == 0 {
		return fmt.Errorf("nothing to plot: empty signal")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x"
	p.Y.Label.Text = "Counts"

	curves := []struct {
		name  string
		y     []float64
		color color.Color
	}{
		{"data", s.data, dataColor},
		{"baseline", s.baseline, baselineColor},
		{"model", s.model, modelColor},
	}
	for _, c := range curves {
		if len(c.y) == 0 {
			continue
		}
		line, err := plotter.NewLine(xys(s.x, c.y))
		if err != nil {
			return err
		}
		line.Color = c.color
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(c.name, line)
	}

	if len(s.peakX) > 0 {
		marks, err := plotter.NewScatter(xys(s.peakX, s.peakY))
		if err != nil {
			return err
		}
		marks.GlyphStyle.Color = peakColor
		marks.GlyphStyle.Shape = draw.TriangleGlyph{}
		marks.GlyphStyle.Radius = vg.Points(4)
		p.Add(marks)
		p.Legend.Add(fmt.Sprintf("peaks (%d)", len(s.peakX)), marks)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// SaveBraggPlot writes a TOF-bin versus intensity scatter of 3D peaks, one
// series per bank, to path.
func SaveBraggPlot(path, title string, peaks []bragg.Peak) error {
	if len(peaks) == 0 {
		return fmt.Errorf("nothing to plot: no peaks")
	}
	byBank := groupByBank(peaks)
	banks := make([]string, 0, len(byBank))
	for name := range byBank {
		banks = append(banks, name)
	}
	sort.Strings(banks)

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "TOF bin"
	p.Y.Label.Text = "Intensity"

	palette := bankColors(len(banks))
	for i, name := range banks {
		bp := byBank[name]
		pts := make(plotter.XYs, len(bp))
		for j, pk := range bp {
			pts[j] = plotter.XY{X: float64(pk.TOFBin), Y: pk.Intensity}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = palette[i]
		sc.GlyphStyle.Radius = vg.Points(3)
		p.Add(sc)
		p.Legend.Add(name, sc)
	}
	p.Legend.Top = true

	if err := p.Save(10*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// xys pairs x and y, dropping non-finite points.
func xys(x, y []float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(x))
	for i := range x {
		if finite(x[i]) && finite(y[i]) {
			pts = append(pts, plotter.XY{X: x[i], Y: y[i]})
		}
	}
	return pts
}

func groupByBank(peaks []bragg.Peak) map[string][]bragg.Peak {
	out := make(map[string][]bragg.Peak)
	for _, p := range peaks {
		out[p.Bank] = append(out[p.Bank], p)
	}
	return out
}

// bankColors spreads n hues around the colour wheel.
func bankColors(n int) []color.Color {
	out := make([]color.Color, n)
	for i := range out {
		h := float64(i) / float64(max(n, 1))
		out[i] = hsv(h, 0.7, 0.85)
	}
	return out
}

func hsv(h, s, v float64) color.Color {
	i := int(h * 6)
	f := h*6 - float64(i)
	p, q, t := v*(1-s), v*(1-f*s), v*(1-(1-f)*s)
	var r, g, b float64
	switch i % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 255}
}
