package spectrum

import (
	"fmt"
	"math"

	"github.com/banshee-data/peakfinder/internal/gaussfit"
)

// Config holds the parameters of one FindPeaks run. It is passed by value
// and never modified.
type Config struct {
	// StartX and EndX crop the signal before processing. Both zero keeps
	// the whole signal.
	StartX float64 `json:"start_x"`
	EndX   float64 `json:"end_x"`

	// AcceptanceThreshold is the relative chi2 improvement a candidate
	// must bring, or the likelihood ratio it must exceed in Poisson mode.
	AcceptanceThreshold float64 `json:"acceptance_threshold"`
	// SmoothWindow is the half-width of the morphological baseline filter.
	SmoothWindow int `json:"smooth_window"`
	// BadPeaksToConsider is the number of consecutive rejections tolerated
	// before the scan stops.
	BadPeaksToConsider int          `json:"bad_peaks_to_consider"`
	CostFunction       CostFunction `json:"cost_function"`
	// FitToBaseline keeps candidates that are maxima of the flattened
	// signal only, without requiring a maximum in the raw signal.
	FitToBaseline bool `json:"fit_to_baseline"`

	EstimateSigma    float64 `json:"estimate_sigma"`
	MinSigma         float64 `json:"min_sigma"`
	MaxSigma         float64 `json:"max_sigma"`
	GeneralTolerance float64 `json:"general_tolerance"`
	RefitTolerance   float64 `json:"refit_tolerance"`
}

// DefaultConfig returns the default pipeline parameters.
func DefaultConfig() Config {
	o := gaussfit.DefaultOptions()
	return Config{
		AcceptanceThreshold: 0.2,
		SmoothWindow:        5,
		BadPeaksToConsider:  20,
		CostFunction:        CostChi2,
		EstimateSigma:       o.EstimateSigma,
		MinSigma:            o.MinSigma,
		MaxSigma:            o.MaxSigma,
		GeneralTolerance:    o.GeneralTolerance,
		RefitTolerance:      o.RefitTolerance,
	}
}

// FitOptions returns the fitter options derived from the config.
func (c Config) FitOptions() gaussfit.Options {
	o := gaussfit.DefaultOptions()
	o.EstimateSigma = c.EstimateSigma
	o.MinSigma = c.MinSigma
	o.MaxSigma = c.MaxSigma
	o.GeneralTolerance = c.GeneralTolerance
	o.RefitTolerance = c.RefitTolerance
	return o
}

// Validate reports the first invalid parameter.
func (c Config) Validate() error {
	if c.StartX > c.EndX && !(c.StartX == 0 && c.EndX == 0) {
		return fmt.Errorf("%w: start_x (%g) must not exceed end_x (%g)", ErrInvalidConfig, c.StartX, c.EndX)
	}
	if math.IsNaN(c.AcceptanceThreshold) || c.AcceptanceThreshold < 0 {
		return fmt.Errorf("%w: acceptance_threshold must be non-negative, got %g", ErrInvalidConfig, c.AcceptanceThreshold)
	}
	if c.CostFunction == CostPoisson && c.AcceptanceThreshold == 0 {
		return fmt.Errorf("%w: acceptance_threshold must be positive for the poisson cost", ErrInvalidConfig)
	}
	if c.CostFunction != CostChi2 && c.CostFunction != CostPoisson {
		return fmt.Errorf("%w: unknown cost function %v", ErrInvalidConfig, c.CostFunction)
	}
	if c.SmoothWindow < 0 {
		return fmt.Errorf("%w: smooth_window must be non-negative, got %d", ErrInvalidConfig, c.SmoothWindow)
	}
	if c.BadPeaksToConsider < 0 {
		return fmt.Errorf("%w: bad_peaks_to_consider must be non-negative, got %d", ErrInvalidConfig, c.BadPeaksToConsider)
	}
	if err := c.FitOptions().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Result is the output of FindPeaks. Besides the peak tables it carries the
// intermediate arrays for plotting.
type Result struct {
	// Signal is the cropped input.
	Signal   Signal    `json:"-"`
	Baseline []float64 `json:"-"`
	Flat     []float64 `json:"-"`

	Candidates []Candidate      `json:"candidates"`
	Accepted   []gaussfit.Guess `json:"accepted"`

	Peaks      gaussfit.Table `json:"peaks"`
	Refit      gaussfit.Table `json:"refit"`
	Background gaussfit.Line  `json:"background"`
	// Model is the sum of the fitted Gaussians on the flattened signal.
	Model []float64 `json:"-"`
	Cost  FitCost   `json:"cost"`
}

// NumPeaks returns the total number of rows in Peaks and Refit.
func (r *Result) NumPeaks() int { return len(r.Peaks) + len(r.Refit) }

// FindPeaks runs the automatic 1D pipeline: crop, baseline subtraction,
// candidate detection, greedy selection and a final fit over the accepted
// candidates. Finding nothing is not an error.
func FindPeaks(sig Signal, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := sig.Validate(); err != nil {
		return nil, err
	}

	s := sig.Crop(cfg.StartX, cfg.EndX)
	res := &Result{Signal: s}
	if s.Len() == 0 {
		diagf("empty signal after crop [%g, %g]", cfg.StartX, cfg.EndX)
		res.Cost = FitCost{Chi2: math.NaN(), Poisson: math.Inf(-1)}
		return res, nil
	}

	res.Baseline, res.Flat = Baseline(s.Y, cfg.SmoothWindow)
	res.Candidates = FindCandidates(s.Y, res.Flat, cfg.FitToBaseline)
	diagf("%d candidates in %d samples", len(res.Candidates), s.Len())

	accepted, err := SelectPeaks(s.X, res.Flat, s.E, res.Baseline, res.Candidates, cfg)
	if err != nil {
		return nil, err
	}
	res.Accepted = gaussfit.Guesses(s.X, accepted)

	p := problem{x: s.X, flat: res.Flat, e: s.E, baseline: res.Baseline, opts: cfg.FitOptions()}
	fit, cost, err := p.fit(accepted)
	if err != nil {
		opsf("final fit of %d peaks failed: %v", len(accepted), err)
		return nil, fmt.Errorf("final fit: %w", err)
	}
	res.Peaks = fit.Peaks
	res.Refit = fit.Refit
	res.Background = fit.Background
	res.Model = fit.Model
	res.Cost = cost
	diagf("accepted %d of %d candidates (%d refit), chi2=%.6g poisson=%.6g",
		len(accepted), len(res.Candidates), len(fit.Refit), cost.Chi2, cost.Poisson)
	return res, nil
}
