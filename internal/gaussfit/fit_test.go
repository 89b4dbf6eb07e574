package gaussfit

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSignal(n int, bg Line, peaks ...Gaussian) (x, y []float64) {
	x = make([]float64, n)
	y = make([]float64, n)
	for i := range x {
		x[i] = float64(i)
		y[i] = bg.Eval(x[i])
		for _, g := range peaks {
			y[i] += g.Eval(x[i])
		}
	}
	return x, y
}

func TestGaussian_Area(t *testing.T) {
	g := Gaussian{Height: 10, Centre: 3, Sigma: 2}
	assert.InDelta(t, math.Sqrt(2*math.Pi)*2*10, g.Area(), 1e-12)
	assert.Equal(t, 10.0, g.Eval(3))
}

func TestWeights(t *testing.T) {
	got := weights([]float64{2, 0, -1, math.NaN(), math.Inf(1), 0.5}, 6)
	want := []float64{0.5, 1, 1, 1, 1, 2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("weights mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []float64{1, 1, 1}, weights(nil, 3))
}

func TestLocalWindow(t *testing.T) {
	tests := []struct {
		n, idx, lo, hi int
	}{
		{100, 50, 47, 54},
		{100, 0, 0, 5},
		{100, 1, 0, 5},
		{100, 99, 95, 100},
		{4, 2, 0, 4},
	}
	for _, tt := range tests {
		lo, hi := localWindow(tt.n, tt.idx)
		if lo != tt.lo || hi != tt.hi {
			t.Errorf("localWindow(%d, %d) = [%d, %d), want [%d, %d)", tt.n, tt.idx, lo, hi, tt.lo, tt.hi)
		}
	}
}

func TestEstimateSingle_FoldsBackground(t *testing.T) {
	want := Gaussian{Height: 30, Centre: 50.3, Sigma: 2.5}
	x, y := sampleSignal(100, Line{Intercept: 5}, want)

	got := EstimateSingle(x, y, 50, 3)
	assert.InDelta(t, want.Centre, got.Centre, 1e-2)
	assert.InDelta(t, want.Sigma, got.Sigma, 1e-2)
	assert.InDelta(t, want.Height+5, got.Height, 1e-1)
}

func TestEstimateSingle_ShortSignalReturnsSeed(t *testing.T) {
	x := []float64{0, 1, 2}
	y := []float64{1, 5, 1}
	got := EstimateSingle(x, y, 1, 3)
	assert.Equal(t, Gaussian{Height: 5, Centre: 1, Sigma: 3}, got)
}

func TestNeedsRefit(t *testing.T) {
	good := Peak{Centre: 10, CentreErr: 0.1, Height: 5, HeightErr: 0.5, Sigma: 2, SigmaErr: 0.2}
	tests := []struct {
		name   string
		mutate func(*Peak)
		want   bool
	}{
		{"good", func(*Peak) {}, false},
		{"relative error at limit", func(p *Peak) { p.HeightErr = 5 }, false},
		{"height error too large", func(p *Peak) { p.HeightErr = 5.01 }, true},
		{"nan sigma error", func(p *Peak) { p.SigmaErr = math.NaN() }, true},
		{"zero centre", func(p *Peak) { p.Centre = 0 }, true},
		{"negative height large error", func(p *Peak) { p.Height, p.HeightErr = -1, 2 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := good
			tt.mutate(&p)
			assert.Equal(t, tt.want, needsRefit(p))
		})
	}
}

func TestFitPeaks_SinglePeak(t *testing.T) {
	want := Gaussian{Height: 50, Centre: 40, Sigma: 4}
	x, y := sampleSignal(100, Line{Intercept: 2, Slope: 0.01}, want)

	fit, err := FitPeaks(x, y, nil, []int{40}, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, fit.Peaks, 1)
	assert.Empty(t, fit.Refit)

	p := fit.Peaks[0]
	assert.InDelta(t, want.Centre, p.Centre, 1e-3)
	assert.InDelta(t, want.Height, p.Height, 1e-2)
	assert.InDelta(t, want.Sigma, p.Sigma, 1e-3)
	assert.InDelta(t, math.Sqrt(2*math.Pi)*p.Sigma*p.Height, p.Area, 1e-9)
	assert.InDelta(t, 2, fit.Background.Intercept, 1e-2)
	assert.InDelta(t, 0.01, fit.Background.Slope, 1e-4)

	require.Len(t, fit.Model, len(x))
	assert.InDelta(t, want.Height, fit.Model[40], 1e-2)
}

func TestFitPeaks_TwoPeaksInCandidateOrder(t *testing.T) {
	a := Gaussian{Height: 40, Centre: 30, Sigma: 3}
	b := Gaussian{Height: 20, Centre: 70, Sigma: 5}
	x, y := sampleSignal(120, Line{}, a, b)

	fit, err := FitPeaks(x, y, nil, []int{70, 30}, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, fit.Peaks, 2)

	got := []Gaussian{fit.Peaks[0].Gaussian(), fit.Peaks[1].Gaussian()}
	want := []Gaussian{b, a}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-2)); diff != "" {
		t.Errorf("peaks mismatch (-want +got):\n%s", diff)
	}
}

func TestFitPeaks_SigmaBounded(t *testing.T) {
	wide := Gaussian{Height: 20, Centre: 50, Sigma: 12}
	x, y := sampleSignal(100, Line{}, wide)
	opts := DefaultOptions()
	opts.MaxSigma = 5

	fit, err := FitPeaks(x, y, nil, []int{50}, opts)
	require.NoError(t, err)
	for _, tbl := range []Table{fit.Peaks, fit.Refit} {
		for _, p := range tbl {
			assert.LessOrEqual(t, p.Sigma, opts.MaxSigma)
			assert.GreaterOrEqual(t, p.Sigma, opts.MinSigma)
		}
	}
}

func TestFitPeaks_NoCandidates(t *testing.T) {
	x, y := sampleSignal(10, Line{Intercept: 1})
	fit, err := FitPeaks(x, y, nil, nil, DefaultOptions())
	require.NoError(t, err)
	assert.Nil(t, fit.Peaks)
	assert.Nil(t, fit.Refit)
	assert.Equal(t, make([]float64, 10), fit.Model)
}

func TestFitPeaks_UnidentifiablePeakKeepsGoodRow(t *testing.T) {
	x, y := sampleSignal(100, Line{}, Gaussian{Height: 100, Centre: 50, Sigma: 3})
	// A zero sample pins the second candidate's height bound to [0, 0],
	// which leaves its centre and σ with no influence on the residuals.
	y[80] = 0
	opts := DefaultOptions()

	fit, err := FitPeaks(x, y, nil, []int{50, 80}, opts)
	require.NoError(t, err)

	require.Len(t, fit.Peaks, 1, "identifiable peak must stay in the first-pass table")
	good := fit.Peaks[0]
	assert.InDelta(t, 50, good.Centre, 1e-3)
	assert.InDelta(t, 100, good.Height, 1e-3)
	assert.InDelta(t, 3, good.Sigma, 1e-3)
	for _, e := range []float64{good.CentreErr, good.HeightErr, good.SigmaErr} {
		assert.False(t, math.IsNaN(e))
	}

	require.Len(t, fit.Refit, 1)
	bad := fit.Refit[0]
	assert.Equal(t, 0.0, bad.Height)
	assert.InDelta(t, 80, bad.Centre, 80*opts.RefitTolerance)
	assert.True(t, math.IsNaN(bad.CentreErr))
	assert.True(t, math.IsNaN(bad.SigmaErr))
}

func TestRefitPeaks(t *testing.T) {
	goodShape := Gaussian{Height: 100, Centre: 20, Sigma: 3}
	badShape := Gaussian{Height: 50, Centre: 40, Sigma: 2}
	x, y := sampleSignal(100, Line{}, goodShape, badShape)
	good := Table{newPeak(goodShape, 1, 0.1, 0.1)}
	opts := DefaultOptions()

	tests := []struct {
		name  string
		bad   Table
		still []bool
	}{
		{
			name:  "offset start is held to the refit tolerance",
			bad:   Table{{Centre: 41, Height: 40, Sigma: 2.5}},
			still: []bool{false},
		},
		{
			name:  "zero height row is kept without a second check",
			bad:   Table{{Centre: 80, Height: 0, Sigma: 3}},
			still: []bool{true},
		},
		{
			name: "rows keep candidate order",
			bad: Table{
				{Centre: 80, Height: 0, Sigma: 3},
				{Centre: 40.02, Height: 49.98, Sigma: 2},
			},
			still: []bool{true, false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := refitPeaks(x, y, weights(nil, len(x)), good, tt.bad, opts)
			require.NoError(t, err)
			require.Len(t, out, len(tt.bad))
			for k, in := range tt.bad {
				got := out[k]
				assert.InDelta(t, in.Centre, got.Centre, math.Abs(in.Centre)*opts.RefitTolerance+1e-12, "row %d centre", k)
				assert.InDelta(t, in.Height, got.Height, math.Abs(in.Height)*opts.RefitTolerance+1e-12, "row %d height", k)
				assert.GreaterOrEqual(t, got.Sigma, opts.MinSigma)
				assert.LessOrEqual(t, got.Sigma, opts.MaxSigma)
				assert.Equal(t, tt.still[k], needsRefit(got), "row %d", k)
			}
		})
	}
}

func TestFitPeaks_Errors(t *testing.T) {
	x, y := sampleSignal(10, Line{})

	_, err := FitPeaks(x, y, nil, []int{10}, DefaultOptions())
	assert.ErrorIs(t, err, ErrIndexRange)

	_, err = FitPeaks(x, y[:5], nil, []int{1}, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidProblem)

	opts := DefaultOptions()
	opts.MinSigma = 40
	_, err = FitPeaks(x, y, nil, []int{1}, opts)
	assert.ErrorIs(t, err, ErrInvalidProblem)
}

func TestFitPeaks_DoesNotModifyInputs(t *testing.T) {
	x, y := sampleSignal(60, Line{Intercept: 1}, Gaussian{Height: 10, Centre: 30, Sigma: 2})
	e := make([]float64, len(y))
	for i := range e {
		e[i] = 1
	}
	yCopy := append([]float64(nil), y...)

	_, err := FitPeaks(x, y, e, []int{30}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, yCopy, y)
}

func TestModel_SumsTables(t *testing.T) {
	x := []float64{0, 1, 2}
	a := Table{{Height: 1, Centre: 0, Sigma: 1}}
	b := Table{{Height: 2, Centre: 2, Sigma: 1}}
	got := Model(x, a, b)
	for i, xi := range x {
		want := a[0].Gaussian().Eval(xi) + b[0].Gaussian().Eval(xi)
		assert.InDelta(t, want, got[i], 1e-12)
	}
}
