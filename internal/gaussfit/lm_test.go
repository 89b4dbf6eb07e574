package gaussfit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// lineProblem fits a + b·x to (x, y) with an analytic Jacobian.
func lineProblem(x, y []float64, start []float64, bounds []Bound) Problem {
	return Problem{
		NumResiduals: len(x),
		Residuals: func(dst, p []float64) {
			for i := range x {
				dst[i] = p[0] + p[1]*x[i] - y[i]
			}
		},
		Jacobian: func(dst *mat.Dense, p []float64) {
			for i := range x {
				dst.Set(i, 0, 1)
				dst.Set(i, 1, x[i])
			}
		},
		Start:  start,
		Bounds: bounds,
	}
}

func TestNewBound(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		want Bound
	}{
		{"ordered", 1, 5, Bound{Lo: 1, Hi: 5}},
		{"swapped", 5, 1, Bound{Lo: 1, Hi: 5}},
		{"pinned", 2, 2, Bound{Lo: 2, Hi: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewBound(tt.a, tt.b))
		})
	}
}

func TestRelativeBound_NegativeValue(t *testing.T) {
	b := RelativeBound(-10, 0.1)
	assert.InDelta(t, -11, b.Lo, 1e-12)
	assert.InDelta(t, -9, b.Hi, 1e-12)
	assert.True(t, RelativeBound(3, 0).Pinned())
}

func TestBound_Clamp(t *testing.T) {
	b := Bound{Lo: -1, Hi: 1}
	assert.Equal(t, -1.0, b.Clamp(-3))
	assert.Equal(t, 0.5, b.Clamp(0.5))
	assert.Equal(t, 1.0, b.Clamp(7))
	assert.Equal(t, 42.0, Unbounded.Clamp(42))
}

func TestLevenbergMarquardt_ExactLine(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4, 5}
	y := make([]float64, len(x))
	for i := range x {
		y[i] = 3 + 2*x[i]
	}
	sol, err := LevenbergMarquardt(lineProblem(x, y, []float64{0, 0}, nil), DefaultSettings())
	require.NoError(t, err)
	assert.InDelta(t, 3, sol.Params[0], 1e-6)
	assert.InDelta(t, 2, sol.Params[1], 1e-6)
	assert.True(t, sol.Converged)
	assert.Less(t, sol.Cost, 1e-10)
}

func TestLevenbergMarquardt_ErrorsMatchLeastSquares(t *testing.T) {
	x := make([]float64, 20)
	y := make([]float64, 20)
	for i := range x {
		x[i] = float64(i)
		noise := 0.1
		if i%2 == 1 {
			noise = -0.1
		}
		y[i] = 1 + 0.5*x[i] + noise
	}
	sol, err := LevenbergMarquardt(lineProblem(x, y, []float64{0, 0}, nil), DefaultSettings())
	require.NoError(t, err)

	// Ordinary least squares closed form.
	n := float64(len(x))
	mx := floats.Sum(x) / n
	var sxx float64
	for _, v := range x {
		sxx += (v - mx) * (v - mx)
	}
	s2 := sol.Cost / (n - 2)
	wantSlope := math.Sqrt(s2 / sxx)
	wantIntercept := math.Sqrt(s2 * (1/n + mx*mx/sxx))

	assert.InDelta(t, wantSlope, sol.Errors[1], 1e-6)
	assert.InDelta(t, wantIntercept, sol.Errors[0], 1e-6)
}

func TestLevenbergMarquardt_PinnedParameter(t *testing.T) {
	x := []float64{0, 1, 2, 3}
	y := []float64{1, 4, 7, 10} // 1 + 3x
	bounds := []Bound{Unbounded, {Lo: 2, Hi: 2}}
	sol, err := LevenbergMarquardt(lineProblem(x, y, []float64{0, 5}, bounds), DefaultSettings())
	require.NoError(t, err)

	assert.Equal(t, 2.0, sol.Params[1], "pinned slope must not move")
	// Best intercept with slope 2 is mean(y - 2x) = 2.5.
	assert.InDelta(t, 2.5, sol.Params[0], 1e-6)
	assert.Equal(t, 0.0, sol.Errors[1])
	assert.False(t, math.IsNaN(sol.Errors[0]))
}

func TestLevenbergMarquardt_BoundsRespected(t *testing.T) {
	x := []float64{0, 1, 2, 3}
	y := []float64{1, 4, 7, 10}
	bounds := []Bound{Unbounded, {Lo: 0, Hi: 2.5}}
	sol, err := LevenbergMarquardt(lineProblem(x, y, []float64{0, 1}, bounds), DefaultSettings())
	require.NoError(t, err)
	assert.LessOrEqual(t, sol.Params[1], 2.5)
	assert.InDelta(t, 2.5, sol.Params[1], 1e-6)
}

func TestLevenbergMarquardt_ZeroDegreesOfFreedom(t *testing.T) {
	x := []float64{0, 1}
	y := []float64{1, 3}
	sol, err := LevenbergMarquardt(lineProblem(x, y, []float64{0, 0}, nil), DefaultSettings())
	require.NoError(t, err)
	assert.True(t, math.IsNaN(sol.Errors[0]))
	assert.True(t, math.IsNaN(sol.Errors[1]))
}

func TestLevenbergMarquardt_InvalidProblems(t *testing.T) {
	x := []float64{0, 1, 2}
	y := []float64{0, 1, 2}

	_, err := LevenbergMarquardt(Problem{NumResiduals: 3}, DefaultSettings())
	assert.ErrorIs(t, err, ErrInvalidProblem)

	_, err = LevenbergMarquardt(lineProblem(x, y, []float64{0, 0}, []Bound{Unbounded}), DefaultSettings())
	assert.ErrorIs(t, err, ErrInvalidProblem)

	bad := []float64{0, math.NaN(), 2}
	_, err = LevenbergMarquardt(lineProblem(x, bad, []float64{0, 0}, nil), DefaultSettings())
	assert.ErrorIs(t, err, ErrFitFailed)
}

func TestLevenbergMarquardt_FiniteDifferenceJacobian(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4}
	y := []float64{2, 3, 4, 5, 6}
	prob := lineProblem(x, y, []float64{0, 0}, nil)
	prob.Jacobian = nil
	sol, err := LevenbergMarquardt(prob, DefaultSettings())
	require.NoError(t, err)
	assert.InDelta(t, 2, sol.Params[0], 1e-5)
	assert.InDelta(t, 1, sol.Params[1], 1e-5)
}

func TestLevenbergMarquardt_UnidentifiableParameters(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4, 5}
	y := []float64{1.1, 2.9, 5.2, 6.8, 9.1, 11}

	tests := []struct {
		name    string
		jac     func(dst *mat.Dense, i int, xi float64)
		resid   func(p []float64, xi float64) float64
		wantNaN []bool
	}{
		{
			name: "vanishing column",
			jac: func(dst *mat.Dense, i int, xi float64) {
				dst.Set(i, 0, 1)
				dst.Set(i, 1, xi)
				dst.Set(i, 2, 0)
			},
			resid:   func(p []float64, xi float64) float64 { return p[0] + p[1]*xi },
			wantNaN: []bool{false, false, true},
		},
		{
			name: "collinear columns",
			jac: func(dst *mat.Dense, i int, xi float64) {
				dst.Set(i, 0, 1)
				dst.Set(i, 1, xi)
				dst.Set(i, 2, xi)
			},
			resid:   func(p []float64, xi float64) float64 { return p[0] + (p[1]+p[2])*xi },
			wantNaN: []bool{false, true, true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prob := Problem{
				NumResiduals: len(x),
				Residuals: func(dst, p []float64) {
					for i := range x {
						dst[i] = tt.resid(p, x[i]) - y[i]
					}
				},
				Jacobian: func(dst *mat.Dense, p []float64) {
					for i := range x {
						tt.jac(dst, i, x[i])
					}
				},
				Start: []float64{0, 1, 1},
			}
			sol, err := LevenbergMarquardt(prob, DefaultSettings())
			require.NoError(t, err)
			for j, want := range tt.wantNaN {
				if want {
					assert.True(t, math.IsNaN(sol.Errors[j]), "param %d error = %v, want NaN", j, sol.Errors[j])
					continue
				}
				assert.False(t, math.IsNaN(sol.Errors[j]), "param %d error is NaN", j)
				assert.Greater(t, sol.Errors[j], 0.0, "param %d", j)
			}
		})
	}
}
