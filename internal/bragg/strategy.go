package bragg

import (
	"fmt"
	"math"
	"strings"
)

// Strategy selects the per-voxel significance statistic.
type Strategy int

const (
	// IntensityOverSigma is the background-subtracted kernel intensity
	// divided by its propagated error.
	IntensityOverSigma Strategy = iota
	// VarianceOverMean is the local variance-to-mean ratio of the counts,
	// near 1 for pure Poisson background.
	VarianceOverMean
)

func (s Strategy) String() string {
	switch s {
	case IntensityOverSigma:
		return "IOverSigma"
	case VarianceOverMean:
		return "VarianceOverMean"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy maps "IOverSigma" or "VarianceOverMean" (any case) to a
// Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ioversigma", "intensityoversigma", "":
		return IntensityOverSigma, nil
	case "varianceovermean":
		return VarianceOverMean, nil
	}
	return 0, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// rawCounts recovers counts from normalised data as y·(y/esq). A
// non-finite scale is replaced by 1.
func rawCounts(y, esq *Cube) *Cube {
	out := NewCube(y.NRows, y.NCols, y.NBins)
	for i, v := range y.Data {
		scale := v / esq.Data[i]
		if math.IsNaN(scale) || math.IsInf(scale, 0) {
			scale = 1
		}
		out.Data[i] = v * scale
	}
	return out
}

// ratio computes the strategy statistic on the valid region. yconv and
// econv are passed in since both strategies report intensities from them.
func (s Strategy) ratio(sb shoebox, y, esq, yconv, econv *Cube) *Cube {
	out := NewCube(sb.valid.NRows, sb.valid.NCols, sb.valid.NBins)
	switch s {
	case VarianceOverMean:
		counts := rawCounts(y, esq)
		mean := sb.mean(counts, nil)
		meanSq := sb.mean(counts, func(v float64) float64 { return v * v })
		for i, m := range mean.Data {
			out.Data[i] = (meanSq.Data[i] - m*m) / m
		}
	default:
		for i, v := range yconv.Data {
			out.Data[i] = v / econv.Data[i]
		}
	}
	return out
}
