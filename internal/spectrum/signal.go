package spectrum

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrLengthMismatch indicates x, y and e of different lengths.
	ErrLengthMismatch = errors.New("spectrum: length mismatch")
	// ErrNotIncreasing indicates an x axis that is not strictly increasing.
	ErrNotIncreasing = errors.New("spectrum: x not strictly increasing")
	// ErrInvalidConfig indicates a configuration rejected by Validate.
	ErrInvalidConfig = errors.New("spectrum: invalid config")
)

// Signal is a 1D spectrum of (x, y, e) samples. E may be nil, in which
// case every point is weighted equally.
type Signal struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
	E []float64 `json:"e,omitempty"`
}

// Len returns the number of samples.
func (s Signal) Len() int { return len(s.X) }

// Validate checks that the arrays agree in length and x is strictly
// increasing.
func (s Signal) Validate() error {
	n := len(s.X)
	if len(s.Y) != n || (s.E != nil && len(s.E) != n) {
		return fmt.Errorf("%w: x=%d y=%d e=%d", ErrLengthMismatch, n, len(s.Y), len(s.E))
	}
	for i := 1; i < n; i++ {
		if !(s.X[i] > s.X[i-1]) {
			return fmt.Errorf("%w: x[%d]=%g after x[%d]=%g", ErrNotIncreasing, i, s.X[i], i-1, s.X[i-1])
		}
	}
	return nil
}

// Crop returns a copy of the samples with start <= x <= end. When start and
// end are both zero the whole signal is copied.
func (s Signal) Crop(start, end float64) Signal {
	lo, hi := 0, len(s.X)
	if start != 0 || end != 0 {
		lo = sort.SearchFloat64s(s.X, start)
		hi = sort.Search(len(s.X), func(i int) bool { return s.X[i] > end })
		if hi < lo {
			hi = lo
		}
	}
	out := Signal{
		X: append([]float64(nil), s.X[lo:hi]...),
		Y: append([]float64(nil), s.Y[lo:hi]...),
	}
	if s.E != nil {
		out.E = append([]float64(nil), s.E[lo:hi]...)
	}
	return out
}
