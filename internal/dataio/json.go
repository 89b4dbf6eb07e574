package dataio

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/banshee-data/peakfinder/internal/bragg"
	"github.com/banshee-data/peakfinder/internal/gaussfit"
	"github.com/banshee-data/peakfinder/internal/spectrum"
)

// Float marshals like float64 but writes null for NaN and ±Inf.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

// PeakRow is a JSON-safe gaussfit.Peak.
type PeakRow struct {
	Centre    Float `json:"centre"`
	CentreErr Float `json:"centre_err"`
	Height    Float `json:"height"`
	HeightErr Float `json:"height_err"`
	Sigma     Float `json:"sigma"`
	SigmaErr  Float `json:"sigma_err"`
	Area      Float `json:"area"`
	AreaErr   Float `json:"area_err"`
}

// LineRow is a JSON-safe gaussfit.Line.
type LineRow struct {
	Intercept Float `json:"intercept"`
	Slope     Float `json:"slope"`
}

// SpectrumReport is the JSON document written for a 1D run.
type SpectrumReport struct {
	RunID      string           `json:"run_id,omitempty"`
	Source     string           `json:"source"`
	Config     spectrum.Config  `json:"config"`
	Candidates int              `json:"candidates"`
	Accepted   []gaussfit.Guess `json:"accepted"`
	Peaks      []PeakRow        `json:"peaks"`
	Refit      []PeakRow        `json:"refit"`
	Background LineRow          `json:"background"`
	Chi2       Float            `json:"chi2"`
	Poisson    Float            `json:"poisson"`
}

// NewSpectrumReport converts a result for output.
func NewSpectrumReport(source string, cfg spectrum.Config, res *spectrum.Result) SpectrumReport {
	rep := SpectrumReport{
		Source:     source,
		Config:     cfg,
		Candidates: len(res.Candidates),
		Accepted:   res.Accepted,
		Peaks:      rows(res.Peaks),
		Refit:      rows(res.Refit),
		Chi2:       Float(res.Cost.Chi2),
		Poisson:    Float(res.Cost.Poisson),
	}
	rep.Background = LineRow{Intercept: Float(res.Background.Intercept), Slope: Float(res.Background.Slope)}
	return rep
}

func rows(t gaussfit.Table) []PeakRow {
	out := make([]PeakRow, len(t))
	for i, p := range t {
		out[i] = PeakRow{
			Centre: Float(p.Centre), CentreErr: Float(p.CentreErr),
			Height: Float(p.Height), HeightErr: Float(p.HeightErr),
			Sigma: Float(p.Sigma), SigmaErr: Float(p.SigmaErr),
			Area: Float(p.Area), AreaErr: Float(p.AreaErr),
		}
	}
	return out
}

// BraggRow is a JSON-safe bragg.Peak.
type BraggRow struct {
	Bank         string `json:"bank"`
	Row          int    `json:"row"`
	Col          int    `json:"col"`
	TOFBin       int    `json:"tof_bin"`
	TOF          Float  `json:"tof,omitempty"`
	Intensity    Float  `json:"intensity"`
	IntensityErr Float  `json:"intensity_err"`
	Ratio        Float  `json:"ratio"`
}

// BraggReport is the JSON document written for a 3D run.
type BraggReport struct {
	RunID  string       `json:"run_id,omitempty"`
	Source string       `json:"source"`
	Config bragg.Config `json:"config"`
	Peaks  []BraggRow   `json:"peaks"`
	Errors []string     `json:"errors,omitempty"`
}

// NewBraggReport converts found peaks for output. Peaks is never nil.
func NewBraggReport(source string, cfg bragg.Config, peaks []bragg.Peak) BraggReport {
	rep := BraggReport{Source: source, Config: cfg, Peaks: make([]BraggRow, len(peaks))}
	for i, p := range peaks {
		rep.Peaks[i] = BraggRow{
			Bank: p.Bank, Row: p.Row, Col: p.Col, TOFBin: p.TOFBin,
			TOF:          Float(p.TOF),
			Intensity:    Float(p.Intensity),
			IntensityErr: Float(p.IntensityErr),
			Ratio:        Float(p.Ratio),
		}
	}
	return rep
}

// ReadBanks decodes a JSON array of banks.
func ReadBanks(r io.Reader) ([]bragg.Bank, error) {
	var banks []bragg.Bank
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&banks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	for i, b := range banks {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("bank %d (%s): %w", i, b.Name, err)
		}
	}
	return banks, nil
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
