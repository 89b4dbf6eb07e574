package spectrum

import (
	"fmt"

	"github.com/banshee-data/peakfinder/internal/gaussfit"
)

// problem is the flattened data the selector fits against.
type problem struct {
	x, flat, e, baseline []float64
	opts                 gaussfit.Options
}

func (p problem) fit(idx []int) (*gaussfit.Fit, FitCost, error) {
	fit, err := gaussfit.FitPeaks(p.x, p.flat, p.e, idx, p.opts)
	if err != nil {
		return nil, FitCost{}, err
	}
	return fit, EvaluateCost(p.flat, p.baseline, fit.Model), nil
}

// SelectPeaks scans candidates in order and greedily grows the accepted
// set. Each candidate is fitted together with the peaks accepted so far;
// it is kept when the cost moves enough in the right direction (see
// CostFunction). The scan stops once more than cfg.BadPeaksToConsider
// candidates in a row have been rejected.
//
// The starting cost is that of an empty model. A fit error ends the run.
func SelectPeaks(x, flat, e, baseline []float64, candidates []Candidate, cfg Config) ([]int, error) {
	p := problem{x: x, flat: flat, e: e, baseline: baseline, opts: cfg.FitOptions()}
	_, cost, err := p.fit(nil)
	if err != nil {
		return nil, err
	}
	oldCost := cfg.CostFunction.value(cost)

	var accepted []int
	skipped := 0
	for _, c := range candidates {
		if skipped > cfg.BadPeaksToConsider {
			tracef("stopping after %d consecutive rejections", skipped)
			break
		}
		trial := append(accepted[:len(accepted):len(accepted)], c.Index)
		_, cost, err := p.fit(trial)
		if err != nil {
			opsf("fit with candidate %d failed: %v", c.Index, err)
			return nil, fmt.Errorf("fit candidate %d: %w", c.Index, err)
		}
		newCost := cfg.CostFunction.value(cost)
		if cfg.CostFunction.accepts(oldCost, newCost, cfg.AcceptanceThreshold) {
			tracef("accept idx=%d x=%g cost %.6g -> %.6g", c.Index, x[c.Index], oldCost, newCost)
			accepted = trial
			oldCost = newCost
			skipped = 0
			continue
		}
		tracef("reject idx=%d x=%g cost %.6g -> %.6g", c.Index, x[c.Index], oldCost, newCost)
		skipped++
	}
	return accepted, nil
}
