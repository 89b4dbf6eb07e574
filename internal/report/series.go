package report

import (
	"math"

	"github.com/banshee-data/peakfinder/internal/gaussfit"
	"github.com/banshee-data/peakfinder/internal/spectrum"
)

// fitSeries holds the curves drawn for a 1D result. Model is the fitted
// Gaussians added back onto the baseline, so it overlays the raw data.
type fitSeries struct {
	x, data, baseline, model []float64
	// peakX and peakY mark each fitted centre at baseline plus height.
	peakX, peakY []float64
}

func newFitSeries(res *spectrum.Result) fitSeries {
	s := fitSeries{x: res.Signal.X, data: res.Signal.Y}
	n := len(s.x)
	if len(res.Baseline) == n {
		s.baseline = res.Baseline
		if len(res.Model) == n {
			s.model = make([]float64, n)
			for i := range s.model {
				s.model[i] = res.Baseline[i] + res.Model[i]
			}
		}
	}
	for _, table := range []gaussfit.Table{res.Peaks, res.Refit} {
		for _, p := range table {
			if !finite(p.Centre) || !finite(p.Height) {
				continue
			}
			s.peakX = append(s.peakX, p.Centre)
			s.peakY = append(s.peakY, s.baselineAt(p.Centre)+p.Height)
		}
	}
	return s
}

// baselineAt returns the baseline at the sample nearest to x, or 0 when
// there is no baseline.
func (s fitSeries) baselineAt(x float64) float64 {
	if len(s.baseline) == 0 {
		return 0
	}
	best := 0
	for i, xi := range s.x {
		if math.Abs(xi-x) < math.Abs(s.x[best]-x) {
			best = i
		}
	}
	return s.baseline[best]
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
