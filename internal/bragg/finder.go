package bragg

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// BinPolicy chooses the TOF extent of the kernel's signal box.
type BinPolicy struct {
	// NBins fixes the extent when positive.
	NBins int `json:"n_bins,omitempty"`
	// FWHMFraction models the resolution as FWHM = FWHMFraction·TOF.
	FWHMFraction float64 `json:"fwhm_fraction,omitempty"`
	// NFWHM is the number of FWHMs the box spans.
	NFWHM float64 `json:"n_fwhm,omitempty"`
}

// Resolve returns the TOF box extent. A fixed NBins is returned as is.
// Otherwise the resolution model is evaluated at the middle of the TOF
// axis and converted to bins using the local bin width; the result is
// forced odd and at least 3.
func (p BinPolicy) Resolve(tof []float64) (int, error) {
	if p.NBins > 0 {
		return p.NBins, nil
	}
	if !(p.FWHMFraction > 0) || !(p.NFWHM > 0) {
		return 0, fmt.Errorf("%w: bin policy needs n_bins or fwhm_fraction and n_fwhm", ErrInvalidConfig)
	}
	if len(tof) < 2 {
		return 0, fmt.Errorf("%w: fwhm bin policy needs a TOF axis of at least 2 points, got %d", ErrShapeMismatch, len(tof))
	}
	mid := len(tof) / 2
	lo := min(mid, len(tof)-2)
	width := tof[lo+1] - tof[lo]
	if !(width > 0) {
		return 0, fmt.Errorf("%w: TOF axis not increasing at %d", ErrShapeMismatch, lo)
	}
	n := int(math.Round(p.NFWHM * p.FWHMFraction * tof[mid] / width))
	if n%2 == 0 {
		n++
	}
	return max(n, 3), nil
}

// Config holds the parameters of one FindPeaks run.
type Config struct {
	// NRows and NCols are the signal box extent in detector pixels.
	NRows int       `json:"n_rows"`
	NCols int       `json:"n_cols"`
	Bins  BinPolicy `json:"bins"`
	// Threshold is the ratio a smoothed voxel must exceed.
	Threshold float64 `json:"threshold"`
	// MinFracSize drops labels smaller than this fraction of the kernel
	// voxel count.
	MinFracSize float64  `json:"min_frac_size"`
	Strategy    Strategy `json:"strategy"`
}

// DefaultConfig returns a 5x5x5 box with an I/σ threshold of 10.
func DefaultConfig() Config {
	return Config{
		NRows:       5,
		NCols:       5,
		Bins:        BinPolicy{NBins: 5},
		Threshold:   10,
		MinFracSize: 0.02,
		Strategy:    IntensityOverSigma,
	}
}

// Validate reports the first invalid parameter.
func (c Config) Validate() error {
	if c.NRows <= 0 || c.NCols <= 0 {
		return fmt.Errorf("%w: n_rows and n_cols must be positive, got %d and %d", ErrInvalidConfig, c.NRows, c.NCols)
	}
	if c.Bins.NBins < 0 {
		return fmt.Errorf("%w: n_bins must not be negative, got %d", ErrInvalidConfig, c.Bins.NBins)
	}
	if c.Bins.NBins == 0 && (!(c.Bins.FWHMFraction > 0) || !(c.Bins.NFWHM > 0)) {
		return fmt.Errorf("%w: bin policy needs n_bins or fwhm_fraction and n_fwhm", ErrInvalidConfig)
	}
	if math.IsNaN(c.Threshold) {
		return fmt.Errorf("%w: threshold is NaN", ErrInvalidConfig)
	}
	if c.MinFracSize < 0 || math.IsNaN(c.MinFracSize) {
		return fmt.Errorf("%w: min_frac_size must be non-negative, got %g", ErrInvalidConfig, c.MinFracSize)
	}
	if c.Strategy != IntensityOverSigma && c.Strategy != VarianceOverMean {
		return fmt.Errorf("%w: unknown strategy %v", ErrInvalidConfig, c.Strategy)
	}
	return nil
}

// Bank is one detector bank: counts and variances over (row, col, tof),
// plus an optional TOF axis of NBins bin centres.
type Bank struct {
	Name string    `json:"name"`
	Y    *Cube     `json:"y"`
	ESq  *Cube     `json:"esq"`
	TOF  []float64 `json:"tof,omitempty"`
}

// Validate checks that the cubes and axis agree.
func (b Bank) Validate() error {
	if err := b.Y.Validate(); err != nil {
		return fmt.Errorf("y: %w", err)
	}
	if err := b.ESq.Validate(); err != nil {
		return fmt.Errorf("esq: %w", err)
	}
	if b.Y.Shape != b.ESq.Shape {
		return fmt.Errorf("%w: y %v, esq %v", ErrShapeMismatch, b.Y.Shape, b.ESq.Shape)
	}
	if b.TOF != nil && len(b.TOF) != b.Y.NBins {
		return fmt.Errorf("%w: %d TOF values for %d bins", ErrShapeMismatch, len(b.TOF), b.Y.NBins)
	}
	return nil
}

// Peak is one detected Bragg peak.
type Peak struct {
	Bank   string `json:"bank"`
	Row    int    `json:"row"`
	Col    int    `json:"col"`
	TOFBin int    `json:"tof_bin"`
	// TOF is the bin centre when the bank has a TOF axis.
	TOF          float64 `json:"tof,omitempty"`
	Intensity    float64 `json:"intensity"`
	IntensityErr float64 `json:"intensity_err"`
	// Ratio is the smoothed statistic at the label maximum.
	Ratio float64 `json:"ratio"`
}

// volume bundles the per-run arrays shared by label refinement.
type volume struct {
	bank   Bank
	kernel *Kernel
	sb     shoebox
	yconv  *Cube
	econv  *Cube
	ratio  *Cube // smoothed, on the valid region
	counts *Cube // nil unless VarianceOverMean
}

// FindPeaks searches one bank for Bragg peaks. Inputs are not modified.
//
// The ratio volume is smoothed along TOF, thresholded, closed and labelled;
// labels below MinFracSize of the kernel voxel count are dropped. Each
// remaining label yields at most one peak, refined to the pixel with the
// most TOF-integrated counts near the label maximum and then to the TOF bin
// with the most counts around that pixel. Peaks are returned by descending
// Ratio; two labels refining to the same voxel yield one peak.
func FindPeaks(bank Bank, cfg Config) ([]Peak, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := bank.Validate(); err != nil {
		return nil, fmt.Errorf("bank %q: %w", bank.Name, err)
	}
	nb, err := cfg.Bins.Resolve(bank.TOF)
	if err != nil {
		return nil, fmt.Errorf("bank %q: %w", bank.Name, err)
	}
	kernel, err := MakeKernel(cfg.NRows, cfg.NCols, nb)
	if err != nil {
		return nil, err
	}
	sb := newShoebox(kernel, bank.Y.Shape)
	if sb.valid.Empty() {
		diagf("bank %q: kernel %v larger than data %v", bank.Name, kernel.Dims(), bank.Y.Shape)
		return nil, nil
	}

	v := newVolume(bank, kernel, sb, cfg.Strategy)

	mask := Closing(Threshold(v.ratio, cfg.Threshold), Conn6)
	labels := Label(mask, Conn26)
	minSize := cfg.MinFracSize * float64(kernel.Dims().Len())
	diagf("bank %q: kernel %v, %d voxels above %g, %d labels", bank.Name, kernel.Dims(), mask.Count(), cfg.Threshold, len(labels))

	best := make(map[int]Peak)
	for li, lab := range labels {
		if float64(len(lab)) < minSize {
			tracef("bank %q label %d: %d voxels below %g", bank.Name, li, len(lab), minSize)
			continue
		}
		p, ok := v.refine(lab)
		if !ok {
			continue
		}
		key := bank.Y.Index(p.Row, p.Col, p.TOFBin)
		if prev, dup := best[key]; !dup || p.Ratio > prev.Ratio {
			best[key] = p
		}
	}

	peaks := make([]Peak, 0, len(best))
	for _, p := range best {
		peaks = append(peaks, p)
	}
	sort.SliceStable(peaks, func(i, j int) bool {
		if peaks[i].Ratio != peaks[j].Ratio {
			return peaks[i].Ratio > peaks[j].Ratio
		}
		return bank.Y.Index(peaks[i].Row, peaks[i].Col, peaks[i].TOFBin) <
			bank.Y.Index(peaks[j].Row, peaks[j].Col, peaks[j].TOFBin)
	})
	diagf("bank %q: %d peaks", bank.Name, len(peaks))
	return peaks, nil
}

// newVolume convolves the bank with the kernel and computes the smoothed
// strategy ratio on the valid region.
func newVolume(bank Bank, kernel *Kernel, sb shoebox, strategy Strategy) volume {
	v := volume{bank: bank, kernel: kernel, sb: sb}
	v.yconv = sb.signal(bank.Y)
	v.econv = sb.sigma(bank.ESq)
	raw := strategy.ratio(sb, bank.Y, bank.ESq, v.yconv, v.econv)
	zeroNonFinite(raw)
	v.ratio = smoothTOF(raw)
	if strategy == VarianceOverMean {
		v.counts = rawCounts(bank.Y, bank.ESq)
	}
	return v
}

// refine reduces one label to a peak.
func (v volume) refine(label []int) (Peak, bool) {
	top := label[0]
	for _, i := range label[1:] {
		if v.ratio.Data[i] > v.ratio.Data[top] {
			top = i
		}
	}
	vr, vc, vt := v.ratio.Coords(top)
	cr, cc, ct := v.kernel.Centre()
	r0, c0, t0 := vr+cr, vc+cc, vt+ct

	y := v.bank.Y
	d := v.kernel.Dims()
	hr, hc, ht := d.NRows/2, d.NCols/2, d.NBins/2
	rLo, rHi := max(0, r0-hr), min(y.NRows-1, r0+hr)
	cLo, cHi := max(0, c0-hc), min(y.NCols-1, c0+hc)
	tLo, tHi := max(0, t0-ht), min(y.NBins-1, t0+ht)

	// Pixel with the most counts summed over the TOF window.
	pr, pc := r0, c0
	bestSum := math.Inf(-1)
	for r := rLo; r <= rHi; r++ {
		for c := cLo; c <= cHi; c++ {
			var s float64
			for t := tLo; t <= tHi; t++ {
				s += y.At(r, c, t)
			}
			if s > bestSum {
				bestSum, pr, pc = s, r, c
			}
		}
	}

	// TOF bin with the most counts summed over the pixel window at (pr, pc).
	prLo, prHi := max(0, pr-hr), min(y.NRows-1, pr+hr)
	pcLo, pcHi := max(0, pc-hc), min(y.NCols-1, pc+hc)
	pt := t0
	bestSum = math.Inf(-1)
	for t := tLo; t <= tHi; t++ {
		var s float64
		for r := prLo; r <= prHi; r++ {
			for c := pcLo; c <= pcHi; c++ {
				s += y.At(r, c, t)
			}
		}
		if s > bestSum {
			bestSum, pt = s, t
		}
	}

	if v.counts != nil && !v.significant(pr, pc, pt) {
		tracef("bank %q: peak at (%d,%d,%d) fails the background significance check", v.bank.Name, pr, pc, pt)
		return Peak{}, false
	}

	// Intensity at the refined position when its kernel fits, else at the
	// label maximum.
	ir, ic, it := pr-cr, pc-cc, pt-ct
	if !v.sb.valid.Contains(ir, ic, it) {
		ir, ic, it = vr, vc, vt
	}
	p := Peak{
		Bank:         v.bank.Name,
		Row:          pr,
		Col:          pc,
		TOFBin:       pt,
		Intensity:    v.yconv.At(ir, ic, it),
		IntensityErr: v.econv.At(ir, ic, it),
		Ratio:        v.ratio.Data[top],
	}
	if v.bank.TOF != nil {
		p.TOF = v.bank.TOF[pt]
	}
	if math.IsNaN(p.Intensity) || math.IsInf(p.Intensity, 0) {
		opsf("bank %q: dropping peak at (%d,%d,%d): intensity %g", v.bank.Name, pr, pc, pt, p.Intensity)
		return Peak{}, false
	}
	tracef("bank %q: peak at (%d,%d,%d) I=%.4g sigma=%.4g ratio=%.4g", v.bank.Name, pr, pc, pt, p.Intensity, p.IntensityErr, p.Ratio)
	return p, true
}

// significant reports whether any count in the kernel's signal box centred
// on (r, c, t) exceeds bg + sqrt(bg), bg being the mean count over the
// shell. Both boxes are clipped to the volume.
func (v volume) significant(r, c, t int) bool {
	cr, cc, ct := v.kernel.Centre()
	or, oc, ot := r-cr, c-cc, t-ct
	d := v.kernel.Dims()

	var shellSum float64
	shellN := 0
	var inner []float64
	for i := 0; i < d.NRows; i++ {
		for j := 0; j < d.NCols; j++ {
			for l := 0; l < d.NBins; l++ {
				if !v.counts.Contains(or+i, oc+j, ot+l) {
					continue
				}
				x := v.counts.At(or+i, oc+j, ot+l)
				if v.kernel.inInner(i, j, l) {
					inner = append(inner, x)
					continue
				}
				shellSum += x
				shellN++
			}
		}
	}
	bg := 0.0
	if shellN > 0 {
		bg = shellSum / float64(shellN)
	}
	limit := bg + math.Sqrt(bg)
	for _, x := range inner {
		if x > limit {
			return true
		}
	}
	return false
}

// FindPeaksBanks runs FindPeaks on each bank independently. A failing bank
// contributes no peaks; its error is joined into the returned error and the
// remaining banks are still searched.
func FindPeaksBanks(banks []Bank, cfg Config) ([]Peak, error) {
	var (
		all  []Peak
		errs []error
	)
	for _, b := range banks {
		peaks, err := FindPeaks(b, cfg)
		if err != nil {
			opsf("bank %q: %v", b.Name, err)
			errs = append(errs, err)
			continue
		}
		all = append(all, peaks...)
	}
	return all, errors.Join(errs...)
}
