// Package synth generates Poisson-noised test data for both finders: 1D
// spectra of Gaussians on a linear background and 3D banks of Gaussian
// blobs on a flat background.
package synth

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/peakfinder/internal/bragg"
	"github.com/banshee-data/peakfinder/internal/gaussfit"
)

// SpectrumSpec describes a synthetic 1D signal on x = X0, X0+Step, ...
type SpectrumSpec struct {
	N        int
	X0, Step float64
	// Background is the noise-free linear background.
	Background gaussfit.Line
	Peaks      []gaussfit.Gaussian
	Seed       uint64
}

// DefaultSpectrum returns three well separated peaks on a sloped
// background.
func DefaultSpectrum(seed uint64) SpectrumSpec {
	return SpectrumSpec{
		N:          600,
		Step:       1,
		Background: gaussfit.Line{Intercept: 40, Slope: 0.02},
		Peaks: []gaussfit.Gaussian{
			{Height: 600, Centre: 120, Sigma: 4},
			{Height: 250, Centre: 300, Sigma: 6},
			{Height: 900, Centre: 470, Sigma: 3},
		},
		Seed: seed,
	}
}

// Spectrum draws Poisson counts around the expected signal. E is
// sqrt(max(y, 1)).
func Spectrum(spec SpectrumSpec) (x, y, e []float64) {
	src := rand.NewPCG(spec.Seed, spec.Seed^0x9e3779b97f4a7c15)
	x = make([]float64, spec.N)
	y = make([]float64, spec.N)
	e = make([]float64, spec.N)
	for i := range x {
		x[i] = spec.X0 + float64(i)*spec.Step
		lambda := spec.Background.Eval(x[i])
		for _, g := range spec.Peaks {
			lambda += g.Eval(x[i])
		}
		y[i] = poisson(lambda, src)
		e[i] = math.Sqrt(math.Max(y[i], 1))
	}
	return x, y, e
}

// Blob is a spherical Gaussian of total Intensity counts centred at
// (Row, Col, Bin).
type Blob struct {
	Row, Col, Bin float64
	Intensity     float64
	Sigma         float64
}

// BankSpec describes a synthetic detector bank.
type BankSpec struct {
	Name                string
	NRows, NCols, NBins int
	Background          float64
	Blobs               []Blob
	// TOF0 and TOFStep build a TOF axis when TOFStep is positive.
	TOF0, TOFStep float64
	Seed          uint64
}

// DefaultBank returns a 24x24x80 bank with three blobs of decreasing
// intensity.
func DefaultBank(name string, seed uint64) BankSpec {
	return BankSpec{
		Name:  name,
		NRows: 24, NCols: 24, NBins: 80,
		Background: 4,
		Blobs: []Blob{
			{Row: 6, Col: 6, Bin: 20, Intensity: 3000, Sigma: 1},
			{Row: 16, Col: 9, Bin: 45, Intensity: 1500, Sigma: 1.2},
			{Row: 10, Col: 18, Bin: 62, Intensity: 800, Sigma: 1},
		},
		TOF0: 2000, TOFStep: 8,
		Seed: seed,
	}
}

// Bank draws Poisson counts for the spec. ESq equals the counts, floored
// at 1.
func Bank(spec BankSpec) bragg.Bank {
	src := rand.NewPCG(spec.Seed, spec.Seed^0x9e3779b97f4a7c15)
	y := bragg.NewCube(spec.NRows, spec.NCols, spec.NBins)
	esq := bragg.NewCube(spec.NRows, spec.NCols, spec.NBins)

	expected := make([]float64, y.Len())
	for i := range expected {
		expected[i] = spec.Background
	}
	for _, b := range spec.Blobs {
		profile := make([]float64, y.Len())
		var norm float64
		for i := range profile {
			r, c, t := y.Coords(i)
			dr, dc, dt := float64(r)-b.Row, float64(c)-b.Col, float64(t)-b.Bin
			profile[i] = math.Exp(-(dr*dr + dc*dc + dt*dt) / (2 * b.Sigma * b.Sigma))
			norm += profile[i]
		}
		if norm == 0 {
			continue
		}
		for i := range profile {
			expected[i] += b.Intensity * profile[i] / norm
		}
	}
	for i, lambda := range expected {
		y.Data[i] = poisson(lambda, src)
		esq.Data[i] = math.Max(y.Data[i], 1)
	}

	bank := bragg.Bank{Name: spec.Name, Y: y, ESq: esq}
	if spec.TOFStep > 0 {
		bank.TOF = make([]float64, spec.NBins)
		for i := range bank.TOF {
			bank.TOF[i] = spec.TOF0 + float64(i)*spec.TOFStep
		}
	}
	return bank
}

func poisson(lambda float64, src rand.Source) float64 {
	if lambda <= 0 {
		return 0
	}
	return distuv.Poisson{Lambda: lambda, Src: src}.Rand()
}
