package spectrum

import (
	"sort"
)

// Candidate is a putative peak: a sample index and its prominence in the
// flattened signal.
type Candidate struct {
	Index      int     `json:"index"`
	Prominence float64 `json:"prominence"`
}

// LocalMaxima returns the indices of the local maxima of y in ascending
// order. A flat top counts once, at its midpoint (rounded down). The first
// and last samples are never maxima.
func LocalMaxima(y []float64) []int {
	var peaks []int
	last := len(y) - 1
	for i := 1; i < last; i++ {
		if !(y[i-1] < y[i]) {
			continue
		}
		ahead := i + 1
		for ahead < last && y[ahead] == y[i] {
			ahead++
		}
		if y[ahead] < y[i] {
			peaks = append(peaks, (i+ahead-1)/2)
			i = ahead
		}
	}
	return peaks
}

// Prominences returns the prominence of each peak: its height above the
// higher of the two lowest points reached on either side before the
// signal rises above the peak or the array ends.
func Prominences(y []float64, peaks []int) []float64 {
	out := make([]float64, len(peaks))
	for k, p := range peaks {
		top := y[p]

		leftMin := top
		for i := p; i >= 0 && y[i] <= top; i-- {
			if y[i] < leftMin {
				leftMin = y[i]
			}
		}
		rightMin := top
		for i := p; i < len(y) && y[i] <= top; i++ {
			if y[i] < rightMin {
				rightMin = y[i]
			}
		}
		out[k] = top - max(leftMin, rightMin)
	}
	return out
}

// FindCandidates returns the local maxima of flat ordered by descending
// prominence. Unless fitToBaseline is set, a flat maximum is kept only if
// it is also a local maximum of raw. Equal prominences keep ascending index
// order.
func FindCandidates(raw, flat []float64, fitToBaseline bool) []Candidate {
	peaks := LocalMaxima(flat)
	if !fitToBaseline {
		rawMax := make(map[int]struct{})
		for _, i := range LocalMaxima(raw) {
			rawMax[i] = struct{}{}
		}
		kept := peaks[:0]
		for _, i := range peaks {
			if _, ok := rawMax[i]; ok {
				kept = append(kept, i)
			}
		}
		peaks = kept
	}

	prom := Prominences(flat, peaks)
	out := make([]Candidate, len(peaks))
	for k, i := range peaks {
		out[k] = Candidate{Index: i, Prominence: prom[k]}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Prominence > out[b].Prominence
	})
	return out
}
