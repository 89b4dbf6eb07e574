package gaussfit

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	// estimateHalfWindow is the number of samples taken either side of a
	// candidate for its local single-peak fit.
	estimateHalfWindow = 3
	// estimateMinWindow is the minimum local window length.
	estimateMinWindow = 5
)

// localWindow returns [lo, hi) around idx covering ±estimateHalfWindow
// samples, widened towards the interior to at least estimateMinWindow
// samples when the array allows it.
func localWindow(n, idx int) (lo, hi int) {
	lo = max(0, idx-estimateHalfWindow)
	hi = min(n, idx+estimateHalfWindow+1)
	if hi-lo >= estimateMinWindow {
		return lo, hi
	}
	if lo == 0 {
		hi = min(n, estimateMinWindow)
	} else {
		lo = max(0, hi-estimateMinWindow)
	}
	return lo, hi
}

// EstimateSingle fits A0 + A1·x + h·exp(-(x-c)²/(2σ²)) to a small window
// around idx without constraints and returns the peak with the local
// background folded into its height (h + A0 + A1·c).
//
// The fit is seeded with (mean of the window, 0, x[idx], y[idx], sigma).
// If the local fit cannot be evaluated or produces a non-finite peak, the
// seed (y[idx], x[idx], sigma) is returned unchanged.
func EstimateSingle(x, y []float64, idx int, sigma float64) Gaussian {
	seed := Gaussian{Height: y[idx], Centre: x[idx], Sigma: sigma}
	lo, hi := localWindow(len(x), idx)
	if hi-lo < estimateMinWindow {
		return seed
	}

	wx := x[lo:hi]
	wy := y[lo:hi]
	c := composite{x: wx, y: wy, w: weights(nil, len(wx)), npeaks: 1}
	start := make([]float64, numParams(1))
	putLine(start, Line{Intercept: stat.Mean(wy, nil)})
	putGaussian(start, 0, seed)

	sol, err := LevenbergMarquardt(c.problem(start, nil), DefaultSettings())
	if err != nil {
		tracef("estimate idx=%d: %v; using seed", idx, err)
		return seed
	}
	bg := lineOf(sol.Params)
	g := gaussianOf(sol.Params, 0)
	g.Sigma = math.Abs(g.Sigma)
	g.Height += bg.Eval(g.Centre)
	if !finite(g.Height) || !finite(g.Centre) || !finite(g.Sigma) || g.Sigma == 0 {
		return seed
	}
	return g
}
