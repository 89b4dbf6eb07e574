package spectrum

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/peakfinder/internal/gaussfit"
)

// noisySignal returns bg + Σ peaks + N(0, noise) sampled at x = 0..n-1 with
// unit errors.
func noisySignal(n int, bg, noise float64, seed uint64, peaks ...gaussfit.Gaussian) Signal {
	normal := distuv.Normal{Mu: 0, Sigma: noise, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
	s := Signal{X: make([]float64, n), Y: make([]float64, n), E: make([]float64, n)}
	for i := range s.X {
		s.X[i] = float64(i)
		s.Y[i] = bg + normal.Rand()
		for _, g := range peaks {
			s.Y[i] += g.Eval(s.X[i])
		}
		s.E[i] = 1
	}
	return s
}

func allRows(res *Result) gaussfit.Table {
	return append(append(gaussfit.Table{}, res.Peaks...), res.Refit...)
}

func assertAreaConsistent(t *testing.T, rows gaussfit.Table) {
	t.Helper()
	for i, p := range rows {
		want := math.Sqrt(2*math.Pi) * p.Sigma * p.Height
		assert.InDelta(t, want, p.Area, 1e-9*math.Max(1, math.Abs(want)), "row %d", i)
	}
}

func TestFindPeaks_SinglePeakChi2(t *testing.T) {
	truth := gaussfit.Gaussian{Height: 1000, Centre: 200, Sigma: 3}
	sig := noisySignal(400, 10, 1, 42, truth)

	cfg := DefaultConfig()
	cfg.SmoothWindow = 20
	cfg.AcceptanceThreshold = 0.1
	cfg.MaxSigma = 10

	res, err := FindPeaks(sig, cfg)
	require.NoError(t, err)
	require.Equal(t, 1, res.NumPeaks(), "accepted %v", res.Accepted)
	require.Len(t, res.Accepted, 1)
	assert.InDelta(t, 200, res.Accepted[0].Index, 1)

	p := allRows(res)[0]
	assert.InDelta(t, truth.Centre, p.Centre, 1)
	assert.InDelta(t, truth.Sigma, p.Sigma, 0.1*truth.Sigma)
	assertAreaConsistent(t, allRows(res))

	assert.Len(t, res.Baseline, 400)
	assert.Len(t, res.Flat, 400)
	assert.Len(t, res.Model, 400)
	assert.Less(t, res.Cost.Chi2, 5.0)
}

func TestFindPeaks_NoiseOnlyStrictThreshold(t *testing.T) {
	sig := noisySignal(400, 10, 1, 7)

	cfg := DefaultConfig()
	cfg.SmoothWindow = 20
	// A chi2 candidate must improve the cost by this fraction; no single
	// noise spike can halve the mean squared residual.
	cfg.AcceptanceThreshold = 0.5

	res, err := FindPeaks(sig, cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Peaks)
	assert.Empty(t, res.Refit)
	assert.Empty(t, res.Accepted)
	assert.NotEmpty(t, res.Candidates)
	for _, m := range res.Model {
		assert.Equal(t, 0.0, m)
	}
}

func TestFindPeaks_TwoPeaksAreaConsistent(t *testing.T) {
	sig := noisySignal(500, 20, 1, 99,
		gaussfit.Gaussian{Height: 400, Centre: 150, Sigma: 4},
		gaussfit.Gaussian{Height: 250, Centre: 330, Sigma: 6},
	)
	cfg := DefaultConfig()
	cfg.SmoothWindow = 30
	cfg.AcceptanceThreshold = 0.1

	res, err := FindPeaks(sig, cfg)
	require.NoError(t, err)
	rows := allRows(res)
	require.Len(t, rows, 2)
	assertAreaConsistent(t, rows)

	found := map[int]bool{}
	for _, p := range rows {
		for _, c := range []float64{150, 330} {
			if math.Abs(p.Centre-c) <= 1 {
				found[int(c)] = true
			}
		}
	}
	assert.True(t, found[150] && found[330], "rows %+v", rows)
}

func TestFindPeaks_Poisson(t *testing.T) {
	const n = 300
	src := rand.NewPCG(5, 6)
	truth := gaussfit.Gaussian{Height: 500, Centre: 150, Sigma: 3}
	sig := Signal{X: make([]float64, n), Y: make([]float64, n), E: make([]float64, n)}
	for i := range sig.X {
		x := float64(i)
		sig.X[i] = x
		counts := distuv.Poisson{Lambda: 50 + truth.Eval(x), Src: src}.Rand()
		sig.Y[i] = counts
		sig.E[i] = math.Sqrt(math.Max(counts, 1))
	}

	cfg := DefaultConfig()
	cfg.CostFunction = CostPoisson
	cfg.AcceptanceThreshold = 10
	cfg.SmoothWindow = 20
	cfg.MaxSigma = 10

	res, err := FindPeaks(sig, cfg)
	require.NoError(t, err)
	require.NotZero(t, res.NumPeaks())

	best := allRows(res)[0]
	for _, p := range allRows(res) {
		if math.Abs(p.Centre-truth.Centre) < math.Abs(best.Centre-truth.Centre) {
			best = p
		}
	}
	assert.InDelta(t, truth.Centre, best.Centre, 1)
	assert.InDelta(t, truth.Sigma, best.Sigma, 0.2*truth.Sigma)
	assert.False(t, math.IsInf(res.Cost.Poisson, 0))
}

func TestFindPeaks_Crop(t *testing.T) {
	sig := noisySignal(400, 10, 1, 3,
		gaussfit.Gaussian{Height: 500, Centre: 100, Sigma: 3},
		gaussfit.Gaussian{Height: 500, Centre: 300, Sigma: 3},
	)
	cfg := DefaultConfig()
	cfg.SmoothWindow = 20
	cfg.AcceptanceThreshold = 0.1
	cfg.StartX = 200
	cfg.EndX = 399

	res, err := FindPeaks(sig, cfg)
	require.NoError(t, err)
	assert.Equal(t, 200, res.Signal.Len())
	assert.Equal(t, 200.0, res.Signal.X[0])
	require.Equal(t, 1, res.NumPeaks())
	assert.InDelta(t, 300, allRows(res)[0].Centre, 1)
}

func TestFindPeaks_EmptyCrop(t *testing.T) {
	sig := noisySignal(50, 10, 1, 1)
	cfg := DefaultConfig()
	cfg.StartX, cfg.EndX = 1000, 2000

	res, err := FindPeaks(sig, cfg)
	require.NoError(t, err)
	assert.Zero(t, res.NumPeaks())
	assert.Zero(t, res.Signal.Len())
}

func TestFindPeaks_DoesNotModifyInput(t *testing.T) {
	sig := noisySignal(200, 10, 1, 8, gaussfit.Gaussian{Height: 100, Centre: 90, Sigma: 2})
	y := append([]float64(nil), sig.Y...)
	e := append([]float64(nil), sig.E...)

	_, err := FindPeaks(sig, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, y, sig.Y)
	assert.Equal(t, e, sig.E)
}

func TestFindPeaks_InvalidInput(t *testing.T) {
	good := noisySignal(20, 0, 1, 1)

	cfg := DefaultConfig()
	cfg.MinSigma, cfg.MaxSigma = 5, 1
	_, err := FindPeaks(good, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = FindPeaks(Signal{X: []float64{0, 1}, Y: []float64{1}}, DefaultConfig())
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = FindPeaks(Signal{X: []float64{0, 2, 1}, Y: []float64{1, 2, 3}}, DefaultConfig())
	assert.ErrorIs(t, err, ErrNotIncreasing)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"negative threshold", func(c *Config) { c.AcceptanceThreshold = -1 }, false},
		{"poisson zero threshold", func(c *Config) { c.CostFunction, c.AcceptanceThreshold = CostPoisson, 0 }, false},
		{"negative window", func(c *Config) { c.SmoothWindow = -1 }, false},
		{"negative budget", func(c *Config) { c.BadPeaksToConsider = -1 }, false},
		{"unknown cost", func(c *Config) { c.CostFunction = CostFunction(9) }, false},
		{"inverted crop", func(c *Config) { c.StartX, c.EndX = 10, 5 }, false},
		{"zero min sigma", func(c *Config) { c.MinSigma = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestSignal_Crop(t *testing.T) {
	s := Signal{X: []float64{0, 1, 2, 3, 4}, Y: []float64{5, 6, 7, 8, 9}}
	c := s.Crop(1, 3)
	assert.Equal(t, []float64{1, 2, 3}, c.X)
	assert.Equal(t, []float64{6, 7, 8}, c.Y)
	assert.Nil(t, c.E)

	c.Y[0] = 100
	assert.Equal(t, 6.0, s.Y[1], "crop must copy")

	assert.Equal(t, s.X, s.Crop(0, 0).X)
}
