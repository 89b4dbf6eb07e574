package gaussfit

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

var sqrt2Pi = math.Sqrt(2 * math.Pi)

// Gaussian is one peak h·exp(-(x-c)²/(2σ²)) in named form.
type Gaussian struct {
	Height float64
	Centre float64
	Sigma  float64
}

// Eval returns the peak value at x.
func (g Gaussian) Eval(x float64) float64 {
	d := (x - g.Centre) / g.Sigma
	return g.Height * math.Exp(-0.5*d*d)
}

// Area returns the integral √(2π)·σ·h.
func (g Gaussian) Area() float64 {
	return sqrt2Pi * g.Sigma * g.Height
}

// Line is the linear background intercept + slope·x.
type Line struct {
	Intercept float64
	Slope     float64
}

// Eval returns the background value at x.
func (l Line) Eval(x float64) float64 {
	return l.Intercept + l.Slope*x
}

// Composite parameter layout:
//
//	[intercept, slope, h0, c0, σ0, h1, c1, σ1, ...]
//
// Only the accessors below know this ordering.
const (
	bgParams   = 2
	peakParams = 3
)

func numParams(npeaks int) int { return bgParams + npeaks*peakParams }

func peakOffset(k int) int { return bgParams + k*peakParams }

func lineOf(p []float64) Line {
	return Line{Intercept: p[0], Slope: p[1]}
}

func gaussianOf(p []float64, k int) Gaussian {
	o := peakOffset(k)
	return Gaussian{Height: p[o], Centre: p[o+1], Sigma: p[o+2]}
}

func putLine(p []float64, l Line) {
	p[0], p[1] = l.Intercept, l.Slope
}

func putGaussian(p []float64, k int, g Gaussian) {
	o := peakOffset(k)
	p[o], p[o+1], p[o+2] = g.Height, g.Centre, g.Sigma
}

// peakBounds is the per-peak constraint triple.
type peakBounds struct {
	Height, Centre, Sigma Bound
}

func putBounds(b []Bound, k int, pb peakBounds) {
	o := peakOffset(k)
	b[o], b[o+1], b[o+2] = pb.Height, pb.Centre, pb.Sigma
}

// composite is a linear background plus npeaks Gaussians evaluated on x
// with residual weights w.
type composite struct {
	x, y, w []float64
	npeaks  int
}

func (c composite) eval(p []float64, x float64) float64 {
	v := lineOf(p).Eval(x)
	for k := 0; k < c.npeaks; k++ {
		v += gaussianOf(p, k).Eval(x)
	}
	return v
}

func (c composite) residuals(dst, p []float64) {
	for i, xi := range c.x {
		dst[i] = (c.eval(p, xi) - c.y[i]) * c.w[i]
	}
}

func (c composite) jacobian(dst *mat.Dense, p []float64) {
	for i, xi := range c.x {
		w := c.w[i]
		dst.Set(i, 0, w)
		dst.Set(i, 1, xi*w)
		for k := 0; k < c.npeaks; k++ {
			g := gaussianOf(p, k)
			o := peakOffset(k)
			d := xi - g.Centre
			s2 := g.Sigma * g.Sigma
			e := math.Exp(-0.5 * d * d / s2)
			dst.Set(i, o, e*w)
			dst.Set(i, o+1, g.Height*e*d/s2*w)
			dst.Set(i, o+2, g.Height*e*d*d/(s2*g.Sigma)*w)
		}
	}
}

func (c composite) problem(start []float64, bounds []Bound) Problem {
	return Problem{
		NumResiduals: len(c.x),
		Residuals:    c.residuals,
		Jacobian:     c.jacobian,
		Start:        start,
		Bounds:       bounds,
	}
}

// weights converts per-point errors into residual weights 1/e. Points with
// a non-positive or non-finite error, or a nil error slice, get weight 1.
func weights(e []float64, n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
		if e != nil && e[i] > 0 && finite(e[i]) {
			w[i] = 1 / e[i]
		}
	}
	return w
}

// Model evaluates the sum of the Gaussians in the given tables at each x.
// The background is not included.
func Model(x []float64, tables ...Table) []float64 {
	out := make([]float64, len(x))
	for _, t := range tables {
		for _, p := range t {
			g := p.Gaussian()
			for i, xi := range x {
				out[i] += g.Eval(xi)
			}
		}
	}
	return out
}
