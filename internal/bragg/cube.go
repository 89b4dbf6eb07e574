package bragg

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch indicates cubes or axes whose dimensions disagree.
	ErrShapeMismatch = errors.New("bragg: shape mismatch")
	// ErrInvalidConfig indicates a configuration rejected by Validate.
	ErrInvalidConfig = errors.New("bragg: invalid config")
)

// Shape is the extent of a (row, col, tof) volume.
type Shape struct {
	NRows int `json:"n_rows"`
	NCols int `json:"n_cols"`
	NBins int `json:"n_bins"`
}

// Len returns the number of voxels.
func (s Shape) Len() int { return s.NRows * s.NCols * s.NBins }

// Empty reports whether any dimension is non-positive.
func (s Shape) Empty() bool { return s.NRows <= 0 || s.NCols <= 0 || s.NBins <= 0 }

// Index returns the flat offset of voxel (r, c, t). TOF varies fastest.
func (s Shape) Index(r, c, t int) int { return (r*s.NCols+c)*s.NBins + t }

// Coords inverts Index.
func (s Shape) Coords(i int) (r, c, t int) {
	t = i % s.NBins
	i /= s.NBins
	return i / s.NCols, i % s.NCols, t
}

// Contains reports whether (r, c, t) lies inside the volume.
func (s Shape) Contains(r, c, t int) bool {
	return r >= 0 && r < s.NRows && c >= 0 && c < s.NCols && t >= 0 && t < s.NBins
}

// Cube is a dense (row, col, tof) array of float64 values.
type Cube struct {
	Shape
	Data []float64 `json:"data"`
}

// NewCube returns a zero cube of the given extent.
func NewCube(nr, nc, nb int) *Cube {
	s := Shape{NRows: nr, NCols: nc, NBins: nb}
	n := 0
	if !s.Empty() {
		n = s.Len()
	}
	return &Cube{Shape: s, Data: make([]float64, n)}
}

// At returns the value at (r, c, t).
func (c *Cube) At(r, col, t int) float64 { return c.Data[c.Index(r, col, t)] }

// Set stores v at (r, c, t).
func (c *Cube) Set(r, col, t int, v float64) { c.Data[c.Index(r, col, t)] = v }

// Validate checks that Data matches Shape.
func (c *Cube) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil cube", ErrShapeMismatch)
	}
	if c.Empty() {
		return fmt.Errorf("%w: empty shape %dx%dx%d", ErrShapeMismatch, c.NRows, c.NCols, c.NBins)
	}
	if len(c.Data) != c.Len() {
		return fmt.Errorf("%w: %d values for shape %dx%dx%d", ErrShapeMismatch, len(c.Data), c.NRows, c.NCols, c.NBins)
	}
	return nil
}

// Mask is a boolean volume.
type Mask struct {
	Shape
	Data []bool
}

// NewMask returns an all-false mask.
func NewMask(s Shape) *Mask {
	return &Mask{Shape: s, Data: make([]bool, s.Len())}
}

// Count returns the number of set voxels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// prefixSum holds inclusive 3D running sums with a zero border so that any
// axis-aligned box sum takes eight lookups.
type prefixSum struct {
	shape Shape // padded by one in every dimension
	s     []float64
}

func newPrefixSum(c *Cube, f func(float64) float64) *prefixSum {
	ps := &prefixSum{shape: Shape{NRows: c.NRows + 1, NCols: c.NCols + 1, NBins: c.NBins + 1}}
	ps.s = make([]float64, ps.shape.Len())
	at := func(r, col, t int) float64 { return ps.s[ps.shape.Index(r, col, t)] }
	for r := 1; r <= c.NRows; r++ {
		for col := 1; col <= c.NCols; col++ {
			for t := 1; t <= c.NBins; t++ {
				v := c.At(r-1, col-1, t-1)
				if f != nil {
					v = f(v)
				}
				v += at(r-1, col, t) + at(r, col-1, t) + at(r, col, t-1) -
					at(r-1, col-1, t) - at(r-1, col, t-1) - at(r, col-1, t-1) +
					at(r-1, col-1, t-1)
				ps.s[ps.shape.Index(r, col, t)] = v
			}
		}
	}
	return ps
}

// box returns the sum over [r0, r1) x [c0, c1) x [t0, t1).
func (ps *prefixSum) box(r0, r1, c0, c1, t0, t1 int) float64 {
	at := func(r, col, t int) float64 { return ps.s[ps.shape.Index(r, col, t)] }
	return at(r1, c1, t1) -
		at(r0, c1, t1) - at(r1, c0, t1) - at(r1, c1, t0) +
		at(r0, c0, t1) + at(r0, c1, t0) + at(r1, c0, t0) -
		at(r0, c0, t0)
}
