package spectrum

import (
	"gonum.org/v1/gonum/floats"
)

// slidingExtreme returns, for each i, the extreme of y over the window
// [i-w, i+w] clipped to the array. keep(a, b) reports whether a newer
// sample a dominates an older sample b. A monotonic deque of indices gives
// the same result as scanning every window.
func slidingExtreme(y []float64, w int, keep func(a, b float64) bool) []float64 {
	n := len(y)
	out := make([]float64, n)
	if w <= 0 {
		copy(out, y)
		return out
	}
	dq := make([]int, 0, 2*w+1)
	next := 0
	for i := 0; i < n; i++ {
		hi := min(n-1, i+w)
		for ; next <= hi; next++ {
			for len(dq) > 0 && keep(y[next], y[dq[len(dq)-1]]) {
				dq = dq[:len(dq)-1]
			}
			dq = append(dq, next)
		}
		for dq[0] < i-w {
			dq = dq[1:]
		}
		out[i] = y[dq[0]]
	}
	return out
}

// Erosion returns the running minimum of y over a window of half-width w.
// The window is clipped at the array bounds; w == 0 copies y.
func Erosion(y []float64, w int) []float64 {
	return slidingExtreme(y, w, func(a, b float64) bool { return a <= b })
}

// Dilation returns the running maximum of y over a window of half-width w.
func Dilation(y []float64, w int) []float64 {
	return slidingExtreme(y, w, func(a, b float64) bool { return a >= b })
}

// Opening is Dilation(Erosion(y, w), w).
func Opening(y []float64, w int) []float64 {
	return Dilation(Erosion(y, w), w)
}

// Average is the mean of the dilation and erosion of the opening of y.
func Average(y []float64, w int) []float64 {
	open := Opening(y, w)
	out := Dilation(open, w)
	floats.Add(out, Erosion(open, w))
	floats.Scale(0.5, out)
	return out
}

// Baseline estimates a smooth background under y in two passes:
//
//	rough    = Average(y, w)
//	baseline = rough + Average(y - rough, w)
//
// and returns the baseline with the flattened signal y - baseline.
func Baseline(y []float64, w int) (baseline, flat []float64) {
	rough := Average(y, w)
	resid := floats.SubTo(make([]float64, len(y)), y, rough)
	baseline = Average(resid, w)
	floats.Add(baseline, rough)
	flat = floats.SubTo(make([]float64, len(y)), y, baseline)
	return baseline, flat
}
