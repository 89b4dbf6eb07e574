package spectrum

import (
	"fmt"
	"math"
	"strings"
)

// CostFunction selects the goodness-of-fit measure used by the selector.
type CostFunction int

const (
	// CostChi2 is the mean squared residual; lower is better.
	CostChi2 CostFunction = iota
	// CostPoisson is the Poisson log-likelihood; higher is better.
	CostPoisson
)

func (c CostFunction) String() string {
	switch c {
	case CostChi2:
		return "chi2"
	case CostPoisson:
		return "poisson"
	default:
		return fmt.Sprintf("CostFunction(%d)", int(c))
	}
}

// ParseCostFunction maps "chi2" or "poisson" (any case) to a CostFunction.
func ParseCostFunction(s string) (CostFunction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chi2", "chisq", "":
		return CostChi2, nil
	case "poisson":
		return CostPoisson, nil
	}
	return 0, fmt.Errorf("%w: unknown cost function %q", ErrInvalidConfig, s)
}

// MarshalText implements encoding.TextMarshaler.
func (c CostFunction) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CostFunction) UnmarshalText(b []byte) error {
	v, err := ParseCostFunction(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// FitCost summarises how well a peak model explains a signal.
type FitCost struct {
	Chi2    float64 `json:"chi2"`
	Poisson float64 `json:"poisson"`
}

// Chi2Cost returns mean((data - model)²), without a degrees-of-freedom
// correction. An empty signal yields NaN.
func Chi2Cost(data, model []float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}
	var sum float64
	for i, d := range data {
		r := d - model[i]
		sum += r * r
	}
	return sum / float64(len(data))
}

// PoissonCost returns Σ(-m + d·ln m) with d = data + offset and
// m = model + offset. offset may be nil. Points where m <= 0 or d == 0 are
// skipped; if none remain the result is -Inf.
func PoissonCost(data, model, offset []float64) float64 {
	var sum float64
	used := 0
	for i := range data {
		d, m := data[i], model[i]
		if offset != nil {
			d += offset[i]
			m += offset[i]
		}
		if m <= 0 || d == 0 {
			continue
		}
		sum += -m + d*math.Log(m)
		used++
	}
	if used == 0 {
		return math.Inf(-1)
	}
	return sum
}

// EvaluateCost computes both costs of a peak model against the flattened
// signal. The Poisson cost adds the baseline back to data and model.
func EvaluateCost(flat, baseline, model []float64) FitCost {
	return FitCost{
		Chi2:    Chi2Cost(flat, model),
		Poisson: PoissonCost(flat, model, baseline),
	}
}

// value picks the cost the function selects.
func (c CostFunction) value(fc FitCost) float64 {
	if c == CostPoisson {
		return fc.Poisson
	}
	return fc.Chi2
}

// accepts reports whether moving from oldCost to newCost passes the
// acceptance test for the cost function.
func (c CostFunction) accepts(oldCost, newCost, threshold float64) bool {
	switch c {
	case CostPoisson:
		return newCost-oldCost > math.Log(threshold)
	default:
		return newCost <= oldCost && math.Abs(newCost-oldCost)/newCost > threshold
	}
}
