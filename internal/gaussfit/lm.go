package gaussfit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidProblem indicates a malformed least-squares problem
	// (no parameters, mismatched bound count, missing residual function).
	ErrInvalidProblem = errors.New("gaussfit: invalid problem")
	// ErrFitFailed indicates the solver could not evaluate the model at its
	// starting point, typically because the data contain NaN or Inf.
	ErrFitFailed = errors.New("gaussfit: fit failed")
)

// Bound is a closed interval constraint on a single parameter.
// Lo == Hi pins the parameter.
type Bound struct {
	Lo, Hi float64
}

// Unbounded leaves a parameter free.
var Unbounded = Bound{Lo: math.Inf(-1), Hi: math.Inf(1)}

// NewBound returns the interval spanned by a and b. The endpoints are
// swapped when a > b, so bounds built from negative seeds are accepted
// in either order.
func NewBound(a, b float64) Bound {
	if a > b {
		a, b = b, a
	}
	return Bound{Lo: a, Hi: b}
}

// RelativeBound returns the interval v·(1-tol) .. v·(1+tol).
func RelativeBound(v, tol float64) Bound {
	return NewBound(v*(1-tol), v*(1+tol))
}

// Clamp projects v into the interval.
func (b Bound) Clamp(v float64) float64 {
	if v < b.Lo {
		return b.Lo
	}
	if v > b.Hi {
		return b.Hi
	}
	return v
}

// Pinned reports whether the interval admits a single value.
func (b Bound) Pinned() bool { return b.Lo == b.Hi }

// Problem describes a bounded nonlinear least-squares problem
// minimising Σ r_i(p)².
type Problem struct {
	// NumResiduals is the length of the residual vector.
	NumResiduals int
	// Residuals writes r(p) into dst.
	Residuals func(dst, p []float64)
	// Jacobian writes ∂r/∂p into dst (NumResiduals × len(p)).
	// Nil selects forward differences.
	Jacobian func(dst *mat.Dense, p []float64)
	// Start is the initial parameter vector. It is clamped into Bounds.
	Start []float64
	// Bounds holds one interval per parameter; nil leaves all parameters free.
	Bounds []Bound
}

// Settings controls solver termination.
type Settings struct {
	MaxIterations int
	// Tolerance is the relative cost reduction below which an accepted
	// step ends the iteration.
	Tolerance float64
}

// DefaultSettings returns the solver settings used by FitPeaks.
func DefaultSettings() Settings {
	return Settings{MaxIterations: 200, Tolerance: 1e-10}
}

// Solution is the result of LevenbergMarquardt.
type Solution struct {
	Params []float64
	// Errors holds one standard error per parameter, taken from the
	// covariance (JᵀJ)⁻¹ scaled by the reduced chi-square. Pinned
	// parameters report 0. Parameters the data cannot identify, or any
	// free parameter when there are no degrees of freedom, report NaN.
	Errors     []float64
	Cost       float64
	Iterations int
	Converged  bool
}

// LevenbergMarquardt minimises the problem's sum of squared residuals.
// Each trial step is projected into the bounds before it is evaluated, so
// every iterate is feasible.
func LevenbergMarquardt(prob Problem, settings Settings) (*Solution, error) {
	n := len(prob.Start)
	m := prob.NumResiduals
	if n == 0 {
		return nil, fmt.Errorf("%w: no parameters", ErrInvalidProblem)
	}
	if m <= 0 || prob.Residuals == nil {
		return nil, fmt.Errorf("%w: no residuals", ErrInvalidProblem)
	}
	bounds := prob.Bounds
	if bounds == nil {
		bounds = make([]Bound, n)
		for j := range bounds {
			bounds[j] = Unbounded
		}
	}
	if len(bounds) != n {
		return nil, fmt.Errorf("%w: %d bounds for %d parameters", ErrInvalidProblem, len(bounds), n)
	}
	if settings.MaxIterations <= 0 {
		settings = DefaultSettings()
	}

	free := make([]bool, n)
	x := make([]float64, n)
	for j := range x {
		x[j] = bounds[j].Clamp(prob.Start[j])
		free[j] = !bounds[j].Pinned()
	}

	r := make([]float64, m)
	prob.Residuals(r, x)
	cost := floats.Dot(r, r)
	if !finite(cost) {
		return nil, fmt.Errorf("%w: non-finite residuals at start", ErrFitFailed)
	}

	jac := mat.NewDense(m, n, nil)
	evalJacobian := func() {
		if prob.Jacobian != nil {
			prob.Jacobian(jac, x)
		} else {
			forwardDifference(jac, prob.Residuals, x, r, bounds)
		}
		for j := 0; j < n; j++ {
			if free[j] {
				continue
			}
			for i := 0; i < m; i++ {
				jac.Set(i, j, 0)
			}
		}
	}
	evalJacobian()

	var (
		jtj    = mat.NewSymDense(n, nil)
		a      = mat.NewSymDense(n, nil)
		grad   = mat.NewVecDense(n, nil)
		rhs    = mat.NewVecDense(n, nil)
		dx     = mat.NewVecDense(n, nil)
		chol   mat.Cholesky
		xNew   = make([]float64, n)
		rNew   = make([]float64, m)
		lambda = 1e-3
		nu     = 2.0
	)

	sol := &Solution{}
	for sol.Iterations < settings.MaxIterations {
		sol.Iterations++
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(m, r))

		improved := false
		for tries := 0; tries < 40; tries++ {
			a.CopySym(jtj)
			for j := 0; j < n; j++ {
				if !free[j] {
					a.SetSym(j, j, 1)
					rhs.SetVec(j, 0)
					continue
				}
				d := jtj.At(j, j)
				a.SetSym(j, j, d+lambda*math.Max(d, 1e-12))
				rhs.SetVec(j, -grad.AtVec(j))
			}
			if ok := chol.Factorize(a); !ok {
				lambda *= nu
				nu *= 2
				continue
			}
			if err := chol.SolveVecTo(dx, rhs); err != nil {
				lambda *= nu
				nu *= 2
				continue
			}
			for j := 0; j < n; j++ {
				xNew[j] = bounds[j].Clamp(x[j] + dx.AtVec(j))
			}
			prob.Residuals(rNew, xNew)
			costNew := floats.Dot(rNew, rNew)
			if finite(costNew) && costNew < cost {
				rel := (cost - costNew) / math.Max(cost, math.SmallestNonzeroFloat64)
				copy(x, xNew)
				copy(r, rNew)
				cost = costNew
				lambda = math.Max(lambda/3, 1e-15)
				nu = 2
				improved = true
				if rel < settings.Tolerance {
					sol.Converged = true
				}
				break
			}
			lambda *= nu
			nu *= 2
			if lambda > 1e16 {
				break
			}
		}
		tracef("lm iter=%d cost=%.6g lambda=%.3g improved=%t", sol.Iterations, cost, lambda, improved)
		if !improved {
			// No descent direction left inside the bounds.
			sol.Converged = true
			break
		}
		evalJacobian()
		if sol.Converged {
			break
		}
	}

	sol.Params = x
	sol.Cost = cost
	sol.Errors = standardErrors(jac, free, cost, m)
	return sol, nil
}

// degenerateColumn is the squared-norm ratio, relative to the strongest
// free column, below which a Jacobian column carries no information.
const degenerateColumn = 1e-20

// maxCovarianceCond is the condition number of JᵀJ above which the
// Cholesky inverse is replaced by the SVD pseudo-inverse.
const maxCovarianceCond = 1e12

// standardErrors returns sqrt(diag(cov)) with cov = s²·(JᵀJ)⁻¹ restricted to
// the identifiable free parameters and s² = cost/(m-k).
//
// A free parameter whose Jacobian column vanishes, or which lies in the
// null space of the remaining columns, reports NaN. The other parameters
// keep finite errors.
func standardErrors(jac *mat.Dense, free []bool, cost float64, m int) []float64 {
	n := len(free)
	errs := make([]float64, n)
	var idx []int
	norms := make([]float64, n)
	var strongest float64
	for j, f := range free {
		if !f {
			continue
		}
		for i := 0; i < m; i++ {
			v := jac.At(i, j)
			norms[j] += v * v
		}
		strongest = math.Max(strongest, norms[j])
		idx = append(idx, j)
	}
	if len(idx) == 0 {
		return errs
	}

	var kept []int
	for _, j := range idx {
		if strongest == 0 || !finite(norms[j]) || norms[j] <= degenerateColumn*strongest {
			errs[j] = math.NaN()
			continue
		}
		kept = append(kept, j)
	}
	k := len(kept)
	if k == 0 {
		return errs
	}
	if m <= k {
		for _, j := range kept {
			errs[j] = math.NaN()
		}
		return errs
	}

	sub := mat.NewDense(m, k, nil)
	for c, j := range kept {
		for i := 0; i < m; i++ {
			sub.Set(i, c, jac.At(i, j))
		}
	}
	variance := covarianceDiag(sub)
	scale := cost / float64(m-k)
	for c, j := range kept {
		v := variance[c] * scale
		if v < 0 || !finite(v) {
			errs[j] = math.NaN()
			continue
		}
		errs[j] = math.Sqrt(v)
	}
	return errs
}

// covarianceDiag returns diag((JᵀJ)⁻¹) for the columns of j. A rank
// deficient JᵀJ falls back to the SVD pseudo-inverse, and columns with
// weight in the null space report NaN.
func covarianceDiag(j *mat.Dense) []float64 {
	m, k := j.Dims()
	out := make([]float64, k)

	jtj := mat.NewSymDense(k, nil)
	jtj.SymOuterK(1, j.T())
	var chol mat.Cholesky
	if chol.Factorize(jtj) && chol.Cond() < maxCovarianceCond {
		var cov mat.SymDense
		if err := chol.InverseTo(&cov); err == nil {
			for c := range out {
				out[c] = cov.At(c, c)
			}
			return out
		}
	}

	var svd mat.SVD
	if !svd.Factorize(j, mat.SVDThin) {
		for c := range out {
			out[c] = math.NaN()
		}
		return out
	}
	s := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)
	tol := s[0] * float64(max(m, k)) * 2.2e-16
	for c := range out {
		for i, si := range s {
			vi := v.At(c, i)
			if si > tol {
				out[c] += vi * vi / (si * si)
				continue
			}
			if math.Abs(vi) > 1e-8 {
				out[c] = math.NaN()
				break
			}
		}
	}
	return out
}

// forwardDifference fills dst with a one-sided finite-difference Jacobian.
// The step is taken away from a bound the parameter is sitting on.
func forwardDifference(dst *mat.Dense, residuals func(dst, p []float64), p, r0 []float64, bounds []Bound) {
	m := len(r0)
	pp := make([]float64, len(p))
	copy(pp, p)
	r1 := make([]float64, m)
	for j := range p {
		h := math.Sqrt(2.2e-16) * math.Max(math.Abs(p[j]), 1)
		if p[j]+h > bounds[j].Hi {
			h = -h
		}
		pp[j] = p[j] + h
		residuals(r1, pp)
		for i := 0; i < m; i++ {
			dst.Set(i, j, (r1[i]-r0[i])/h)
		}
		pp[j] = p[j]
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
