package gaussfit

import (
	"errors"
	"fmt"
	"math"
)

// ErrIndexRange indicates a candidate index outside the signal.
var ErrIndexRange = errors.New("gaussfit: candidate index out of range")

// Options configures FitPeaks.
type Options struct {
	// EstimateSigma seeds σ for the local single-peak estimate (x units).
	EstimateSigma float64
	// MinSigma and MaxSigma bound every fitted σ.
	MinSigma float64
	MaxSigma float64
	// GeneralTolerance is the relative half-width of the first-pass centre
	// and height bounds around the candidate sample.
	GeneralTolerance float64
	// RefitTolerance is the relative half-width used when refitting peaks
	// around their first-pass values.
	RefitTolerance float64
	// Solver controls the Levenberg-Marquardt iteration.
	Solver Settings
}

// DefaultOptions returns the fitting defaults.
func DefaultOptions() Options {
	return Options{
		EstimateSigma:    3,
		MinSigma:         0.5,
		MaxSigma:         30,
		GeneralTolerance: 0.1,
		RefitTolerance:   0.001,
		Solver:           DefaultSettings(),
	}
}

// Validate checks the options for internal consistency.
func (o Options) Validate() error {
	if !(o.MinSigma > 0) {
		return fmt.Errorf("MinSigma must be positive, got %g", o.MinSigma)
	}
	if o.MinSigma > o.MaxSigma {
		return fmt.Errorf("MinSigma (%g) must not exceed MaxSigma (%g)", o.MinSigma, o.MaxSigma)
	}
	if !(o.EstimateSigma > 0) {
		return fmt.Errorf("EstimateSigma must be positive, got %g", o.EstimateSigma)
	}
	if o.GeneralTolerance < 0 || !finite(o.GeneralTolerance) {
		return fmt.Errorf("GeneralTolerance must be non-negative, got %g", o.GeneralTolerance)
	}
	if o.RefitTolerance < 0 || !finite(o.RefitTolerance) {
		return fmt.Errorf("RefitTolerance must be non-negative, got %g", o.RefitTolerance)
	}
	return nil
}

// Peak is one row of a peak table.
type Peak struct {
	Centre    float64 `json:"centre"`
	CentreErr float64 `json:"centre_err"`
	Height    float64 `json:"height"`
	HeightErr float64 `json:"height_err"`
	Sigma     float64 `json:"sigma"`
	SigmaErr  float64 `json:"sigma_err"`
	Area      float64 `json:"area"`
	AreaErr   float64 `json:"area_err"`
}

// Gaussian returns the peak shape described by the row.
func (p Peak) Gaussian() Gaussian {
	return Gaussian{Height: p.Height, Centre: p.Centre, Sigma: p.Sigma}
}

// Table is an ordered list of peak rows.
type Table []Peak

// Guess is one candidate handed to FitPeaks: its sample index and the x
// value at that index.
type Guess struct {
	Index  int     `json:"index"`
	Centre float64 `json:"centre"`
}

// Guesses pairs each index with x[index].
func Guesses(x []float64, indices []int) []Guess {
	out := make([]Guess, len(indices))
	for i, idx := range indices {
		out[i] = Guess{Index: idx, Centre: x[idx]}
	}
	return out
}

// newPeak builds a row from a fitted shape and its standard errors. The
// area error combines the relative σ and height errors in quadrature and
// ignores their covariance.
func newPeak(g Gaussian, heightErr, centreErr, sigmaErr float64) Peak {
	area := g.Area()
	rel := math.Hypot(sigmaErr/g.Sigma, heightErr/g.Height)
	return Peak{
		Centre:    g.Centre,
		CentreErr: centreErr,
		Height:    g.Height,
		HeightErr: heightErr,
		Sigma:     g.Sigma,
		SigmaErr:  sigmaErr,
		Area:      area,
		AreaErr:   math.Abs(area * rel),
	}
}

// needsRefit reports whether any of centre, height or σ is unusable: a
// zero value, a NaN error, or a relative error above 100%.
func needsRefit(p Peak) bool {
	pairs := [3][2]float64{
		{p.Centre, p.CentreErr},
		{p.Height, p.HeightErr},
		{p.Sigma, p.SigmaErr},
	}
	for _, vp := range pairs {
		v, e := vp[0], vp[1]
		if v == 0 || math.IsNaN(e) || e/math.Abs(v) > 1 {
			return true
		}
	}
	return false
}

// Fit is the outcome of FitPeaks.
type Fit struct {
	// Peaks holds the first-pass peaks that passed the refit check, in
	// candidate order.
	Peaks Table
	// Refit holds peaks that failed the first-pass check, refitted once
	// with tighter bounds. They are not checked again.
	Refit Table
	// Background is the first-pass linear background.
	Background Line
	// Model is the sum of Peaks and Refit Gaussians at each x.
	Model []float64
}

// FitPeaks fits a linear background plus one Gaussian per candidate index.
//
// Per candidate the start values come from EstimateSingle; the bounds are
// x[idx]·(1±GeneralTolerance) for the centre, y[idx]·(1±GeneralTolerance)
// for the height and [MinSigma, MaxSigma] for σ. Peaks whose first-pass
// row needs a refit are fitted again, together, against the data minus the
// accepted peaks, with centre and height bounded to ±RefitTolerance of
// their first-pass values.
//
// An empty index list is valid and yields a zero model with no rows. e may
// be nil for an unweighted fit. Inputs are not modified.
func FitPeaks(x, y, e []float64, indices []int, opts Options) (*Fit, error) {
	n := len(x)
	if len(y) != n || (e != nil && len(e) != n) {
		return nil, fmt.Errorf("%w: x=%d y=%d e=%d", ErrInvalidProblem, n, len(y), len(e))
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProblem, err)
	}
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexRange, idx, n)
		}
	}
	if len(indices) == 0 {
		return &Fit{Model: make([]float64, n)}, nil
	}

	w := weights(e, n)
	npk := len(indices)
	start := make([]float64, numParams(npk))
	bounds := make([]Bound, numParams(npk))
	bounds[0], bounds[1] = Unbounded, Unbounded
	sigmaBound := NewBound(opts.MinSigma, opts.MaxSigma)
	for k, idx := range indices {
		putGaussian(start, k, EstimateSingle(x, y, idx, opts.EstimateSigma))
		putBounds(bounds, k, peakBounds{
			Height: RelativeBound(y[idx], opts.GeneralTolerance),
			Centre: RelativeBound(x[idx], opts.GeneralTolerance),
			Sigma:  sigmaBound,
		})
	}

	c := composite{x: x, y: y, w: w, npeaks: npk}
	sol, err := LevenbergMarquardt(c.problem(start, bounds), opts.Solver)
	if err != nil {
		opsf("composite fit of %d peaks failed: %v", npk, err)
		return nil, fmt.Errorf("fit %d peaks: %w", npk, err)
	}

	fit := &Fit{Background: lineOf(sol.Params)}
	var bad []Peak
	for k := 0; k < npk; k++ {
		row := rowOf(sol, k)
		if needsRefit(row) {
			bad = append(bad, row)
			continue
		}
		fit.Peaks = append(fit.Peaks, row)
	}

	if len(bad) > 0 {
		diagf("refitting %d of %d peaks", len(bad), npk)
		refit, err := refitPeaks(x, y, w, fit.Peaks, bad, opts)
		if err != nil {
			opsf("refit of %d peaks failed: %v", len(bad), err)
			return nil, fmt.Errorf("refit %d peaks: %w", len(bad), err)
		}
		fit.Refit = refit
	}

	fit.Model = Model(x, fit.Peaks, fit.Refit)
	tracef("fit %d peaks: cost=%.6g iterations=%d refit=%d", npk, sol.Cost, sol.Iterations, len(fit.Refit))
	return fit, nil
}

// refitPeaks fits the bad peaks on the data with the good peaks removed.
func refitPeaks(x, y, w []float64, good, bad Table, opts Options) (Table, error) {
	resid := make([]float64, len(y))
	copy(resid, y)
	goodModel := Model(x, good)
	for i := range resid {
		resid[i] -= goodModel[i]
	}

	npk := len(bad)
	start := make([]float64, numParams(npk))
	bounds := make([]Bound, numParams(npk))
	bounds[0], bounds[1] = Unbounded, Unbounded
	sigmaBound := NewBound(opts.MinSigma, opts.MaxSigma)
	for k, p := range bad {
		putGaussian(start, k, p.Gaussian())
		putBounds(bounds, k, peakBounds{
			Height: RelativeBound(p.Height, opts.RefitTolerance),
			Centre: RelativeBound(p.Centre, opts.RefitTolerance),
			Sigma:  sigmaBound,
		})
	}

	c := composite{x: x, y: resid, w: w, npeaks: npk}
	sol, err := LevenbergMarquardt(c.problem(start, bounds), opts.Solver)
	if err != nil {
		return nil, err
	}
	out := make(Table, npk)
	for k := range out {
		out[k] = rowOf(sol, k)
	}
	return out, nil
}

func rowOf(sol *Solution, k int) Peak {
	o := peakOffset(k)
	return newPeak(gaussianOf(sol.Params, k), sol.Errors[o], sol.Errors[o+1], sol.Errors[o+2])
}
