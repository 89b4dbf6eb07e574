package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/peakfinder/internal/bragg"
	"github.com/banshee-data/peakfinder/internal/spectrum"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the on-disk form of the peak-finding parameters. Every
// field is optional; Get* accessors fall back to the package defaults so
// partial files are safe.
type TuningConfig struct {
	// 1D spectrum pipeline
	StartX              *float64 `json:"start_x,omitempty"`
	EndX                *float64 `json:"end_x,omitempty"`
	AcceptanceThreshold *float64 `json:"acceptance_threshold,omitempty"`
	SmoothWindow        *int     `json:"smooth_window,omitempty"`
	BadPeaksToConsider  *int     `json:"bad_peaks_to_consider,omitempty"`
	CostFunction        *string  `json:"cost_function,omitempty"` // "chi2" or "poisson"
	FitToBaseline       *bool    `json:"fit_to_baseline,omitempty"`
	EstimateSigma       *float64 `json:"estimate_sigma,omitempty"`
	MinSigma            *float64 `json:"min_sigma,omitempty"`
	MaxSigma            *float64 `json:"max_sigma,omitempty"`
	GeneralTolerance    *float64 `json:"general_tolerance,omitempty"`
	RefitTolerance      *float64 `json:"refit_tolerance,omitempty"`

	// 3D convolution finder
	KernelRows   *int     `json:"kernel_rows,omitempty"`
	KernelCols   *int     `json:"kernel_cols,omitempty"`
	KernelBins   *int     `json:"kernel_bins,omitempty"`
	FWHMFraction *float64 `json:"fwhm_fraction,omitempty"`
	NFWHM        *float64 `json:"n_fwhm,omitempty"`
	Threshold    *float64 `json:"threshold,omitempty"`
	MinFracSize  *float64 `json:"min_frac_size,omitempty"`
	Strategy     *string  `json:"strategy,omitempty"` // "IOverSigma" or "VarianceOverMean"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and its parents up to the repository
// root. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the fields that are set. Cross-field rules (such as
// min_sigma <= max_sigma) are checked on the resolved configs so that
// defaults take part.
func (c *TuningConfig) Validate() error {
	if c.CostFunction != nil {
		if _, err := spectrum.ParseCostFunction(*c.CostFunction); err != nil {
			return fmt.Errorf("cost_function: %w", err)
		}
	}
	if c.Strategy != nil {
		if _, err := bragg.ParseStrategy(*c.Strategy); err != nil {
			return fmt.Errorf("strategy: %w", err)
		}
	}
	if c.SmoothWindow != nil && *c.SmoothWindow < 0 {
		return fmt.Errorf("smooth_window must be non-negative, got %d", *c.SmoothWindow)
	}
	if c.BadPeaksToConsider != nil && *c.BadPeaksToConsider < 0 {
		return fmt.Errorf("bad_peaks_to_consider must be non-negative, got %d", *c.BadPeaksToConsider)
	}
	if c.MinFracSize != nil && (*c.MinFracSize < 0 || *c.MinFracSize > 1) {
		return fmt.Errorf("min_frac_size must be between 0 and 1, got %f", *c.MinFracSize)
	}
	if err := c.SpectrumConfig().Validate(); err != nil {
		return err
	}
	return c.BraggConfig().Validate()
}

// SpectrumConfig resolves the 1D pipeline parameters.
func (c *TuningConfig) SpectrumConfig() spectrum.Config {
	return spectrum.Config{
		StartX:              c.GetStartX(),
		EndX:                c.GetEndX(),
		AcceptanceThreshold: c.GetAcceptanceThreshold(),
		SmoothWindow:        c.GetSmoothWindow(),
		BadPeaksToConsider:  c.GetBadPeaksToConsider(),
		CostFunction:        c.GetCostFunction(),
		FitToBaseline:       c.GetFitToBaseline(),
		EstimateSigma:       c.GetEstimateSigma(),
		MinSigma:            c.GetMinSigma(),
		MaxSigma:            c.GetMaxSigma(),
		GeneralTolerance:    c.GetGeneralTolerance(),
		RefitTolerance:      c.GetRefitTolerance(),
	}
}

// BraggConfig resolves the 3D finder parameters. A positive kernel_bins
// fixes the TOF extent; otherwise the FWHM model is used.
func (c *TuningConfig) BraggConfig() bragg.Config {
	return bragg.Config{
		NRows: c.GetKernelRows(),
		NCols: c.GetKernelCols(),
		Bins: bragg.BinPolicy{
			NBins:        c.GetKernelBins(),
			FWHMFraction: c.GetFWHMFraction(),
			NFWHM:        c.GetNFWHM(),
		},
		Threshold:   c.GetThreshold(),
		MinFracSize: c.GetMinFracSize(),
		Strategy:    c.GetStrategy(),
	}
}

var (
	spectrumDefaults = spectrum.DefaultConfig()
	braggDefaults    = bragg.DefaultConfig()
)

// GetStartX returns the start_x value or 0 (no crop).
func (c *TuningConfig) GetStartX() float64 {
	if c.StartX == nil {
		return 0
	}
	return *c.StartX
}

// GetEndX returns the end_x value or 0 (no crop).
func (c *TuningConfig) GetEndX() float64 {
	if c.EndX == nil {
		return 0
	}
	return *c.EndX
}

// GetAcceptanceThreshold returns the acceptance_threshold value or the default.
func (c *TuningConfig) GetAcceptanceThreshold() float64 {
	if c.AcceptanceThreshold == nil {
		return spectrumDefaults.AcceptanceThreshold
	}
	return *c.AcceptanceThreshold
}

// GetSmoothWindow returns the smooth_window value or the default.
func (c *TuningConfig) GetSmoothWindow() int {
	if c.SmoothWindow == nil {
		return spectrumDefaults.SmoothWindow
	}
	return *c.SmoothWindow
}

// GetBadPeaksToConsider returns the bad_peaks_to_consider value or the default.
func (c *TuningConfig) GetBadPeaksToConsider() int {
	if c.BadPeaksToConsider == nil {
		return spectrumDefaults.BadPeaksToConsider
	}
	return *c.BadPeaksToConsider
}

// GetCostFunction returns the parsed cost_function or chi2. Unparseable
// values are rejected by Validate.
func (c *TuningConfig) GetCostFunction() spectrum.CostFunction {
	if c.CostFunction == nil {
		return spectrumDefaults.CostFunction
	}
	cf, err := spectrum.ParseCostFunction(*c.CostFunction)
	if err != nil {
		return spectrumDefaults.CostFunction
	}
	return cf
}

// GetFitToBaseline returns the fit_to_baseline value or false.
func (c *TuningConfig) GetFitToBaseline() bool {
	if c.FitToBaseline == nil {
		return false
	}
	return *c.FitToBaseline
}

// GetEstimateSigma returns the estimate_sigma value or the default.
func (c *TuningConfig) GetEstimateSigma() float64 {
	if c.EstimateSigma == nil {
		return spectrumDefaults.EstimateSigma
	}
	return *c.EstimateSigma
}

// GetMinSigma returns the min_sigma value or the default.
func (c *TuningConfig) GetMinSigma() float64 {
	if c.MinSigma == nil {
		return spectrumDefaults.MinSigma
	}
	return *c.MinSigma
}

// GetMaxSigma returns the max_sigma value or the default.
func (c *TuningConfig) GetMaxSigma() float64 {
	if c.MaxSigma == nil {
		return spectrumDefaults.MaxSigma
	}
	return *c.MaxSigma
}

// GetGeneralTolerance returns the general_tolerance value or the default.
func (c *TuningConfig) GetGeneralTolerance() float64 {
	if c.GeneralTolerance == nil {
		return spectrumDefaults.GeneralTolerance
	}
	return *c.GeneralTolerance
}

// GetRefitTolerance returns the refit_tolerance value or the default.
func (c *TuningConfig) GetRefitTolerance() float64 {
	if c.RefitTolerance == nil {
		return spectrumDefaults.RefitTolerance
	}
	return *c.RefitTolerance
}

// GetKernelRows returns the kernel_rows value or the default.
func (c *TuningConfig) GetKernelRows() int {
	if c.KernelRows == nil {
		return braggDefaults.NRows
	}
	return *c.KernelRows
}

// GetKernelCols returns the kernel_cols value or the default.
func (c *TuningConfig) GetKernelCols() int {
	if c.KernelCols == nil {
		return braggDefaults.NCols
	}
	return *c.KernelCols
}

// GetKernelBins returns the kernel_bins value, the default when nothing
// about the TOF extent is set, or 0 when only the FWHM model is given.
func (c *TuningConfig) GetKernelBins() int {
	if c.KernelBins != nil {
		return *c.KernelBins
	}
	if c.FWHMFraction != nil || c.NFWHM != nil {
		return 0
	}
	return braggDefaults.Bins.NBins
}

// GetFWHMFraction returns the fwhm_fraction value or 0.
func (c *TuningConfig) GetFWHMFraction() float64 {
	if c.FWHMFraction == nil {
		return 0
	}
	return *c.FWHMFraction
}

// GetNFWHM returns the n_fwhm value or 0.
func (c *TuningConfig) GetNFWHM() float64 {
	if c.NFWHM == nil {
		return 0
	}
	return *c.NFWHM
}

// GetThreshold returns the threshold value or the default.
func (c *TuningConfig) GetThreshold() float64 {
	if c.Threshold == nil {
		return braggDefaults.Threshold
	}
	return *c.Threshold
}

// GetMinFracSize returns the min_frac_size value or the default.
func (c *TuningConfig) GetMinFracSize() float64 {
	if c.MinFracSize == nil {
		return braggDefaults.MinFracSize
	}
	return *c.MinFracSize
}

// GetStrategy returns the parsed strategy or IOverSigma.
func (c *TuningConfig) GetStrategy() bragg.Strategy {
	if c.Strategy == nil {
		return braggDefaults.Strategy
	}
	s, err := bragg.ParseStrategy(*c.Strategy)
	if err != nil {
		return braggDefaults.Strategy
	}
	return s
}
