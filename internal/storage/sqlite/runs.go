package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/peakfinder/internal/bragg"
	"github.com/banshee-data/peakfinder/internal/gaussfit"
	"github.com/banshee-data/peakfinder/internal/spectrum"
)

// ErrNotFound is returned when a run id has no row.
var ErrNotFound = errors.New("not found")

// Kind distinguishes the two finders.
type Kind string

const (
	KindSpectrum Kind = "spectrum"
	KindBragg    Kind = "bragg"
)

// Run is the header row of one stored finder invocation. Chi2 and Poisson
// are set for spectrum runs with a finite cost.
type Run struct {
	RunID      string          `json:"run_id"`
	Kind       Kind            `json:"kind"`
	Source     string          `json:"source"`
	ParamsJSON json.RawMessage `json:"params_json,omitempty"`
	NumPeaks   int             `json:"num_peaks"`
	Chi2       *float64        `json:"chi2,omitempty"`
	Poisson    *float64        `json:"poisson,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

// InsertSpectrumRun stores a 1D result with both of its peak tables. If
// RunID is empty, a UUID is generated.
func (s *Store) InsertSpectrumRun(run *Run, res *spectrum.Result) error {
	run.Kind = KindSpectrum
	run.NumPeaks = res.NumPeaks()
	run.Chi2 = finitePtr(res.Cost.Chi2)
	run.Poisson = finitePtr(res.Cost.Poisson)
	fillRun(run)

	return s.withTx(func(tx *sql.Tx) error {
		if err := insertRun(tx, run); err != nil {
			return err
		}
		stmt, err := tx.Prepare(`
			INSERT INTO spectrum_peaks (
				run_id, refit, seq, centre, centre_err, height, height_err,
				sigma, sigma_err, area, area_err
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare spectrum peaks: %w", err)
		}
		defer stmt.Close()
		for refit, table := range []gaussfit.Table{res.Peaks, res.Refit} {
			for i, p := range table {
				if _, err := stmt.Exec(run.RunID, refit, i,
					nullFloat(p.Centre), nullFloat(p.CentreErr),
					nullFloat(p.Height), nullFloat(p.HeightErr),
					nullFloat(p.Sigma), nullFloat(p.SigmaErr),
					nullFloat(p.Area), nullFloat(p.AreaErr),
				); err != nil {
					return fmt.Errorf("insert spectrum peak %d: %w", i, err)
				}
			}
		}
		return nil
	})
}

// InsertBraggRun stores the peaks of a 3D search over one or more banks.
func (s *Store) InsertBraggRun(run *Run, peaks []bragg.Peak) error {
	run.Kind = KindBragg
	run.NumPeaks = len(peaks)
	run.Chi2, run.Poisson = nil, nil
	fillRun(run)

	return s.withTx(func(tx *sql.Tx) error {
		if err := insertRun(tx, run); err != nil {
			return err
		}
		stmt, err := tx.Prepare(`
			INSERT INTO bragg_peaks (
				run_id, seq, bank, row_index, col_index, tof_bin,
				tof, intensity, intensity_err, ratio
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare bragg peaks: %w", err)
		}
		defer stmt.Close()
		for i, p := range peaks {
			if _, err := stmt.Exec(run.RunID, i, p.Bank, p.Row, p.Col, p.TOFBin,
				nullFloat(p.TOF), nullFloat(p.Intensity), nullFloat(p.IntensityErr), nullFloat(p.Ratio),
			); err != nil {
				return fmt.Errorf("insert bragg peak %d: %w", i, err)
			}
		}
		return nil
	})
}

// ListRuns returns stored runs, newest first. An empty kind lists both
// finders; a non-positive limit returns everything.
func (s *Store) ListRuns(kind Kind, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT run_id, kind, source, params_json, num_peaks, chi2, poisson, created_at
		FROM runs
		WHERE (? = '' OR kind = ?)
		ORDER BY created_at DESC, run_id
		LIMIT ?`, string(kind), string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns a single run header by ID.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, kind, source, params_json, num_peaks, chi2, poisson, created_at
		FROM runs
		WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return r, err
}

// SpectrumPeaks returns the good and refit tables of a spectrum run in
// their stored order. Values stored as NULL come back as NaN.
func (s *Store) SpectrumPeaks(runID string) (peaks, refit gaussfit.Table, err error) {
	rows, err := s.db.Query(`
		SELECT refit, centre, centre_err, height, height_err, sigma, sigma_err, area, area_err
		FROM spectrum_peaks
		WHERE run_id = ?
		ORDER BY refit, seq`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("query spectrum peaks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var isRefit bool
		var v [8]sql.NullFloat64
		if err := rows.Scan(&isRefit, &v[0], &v[1], &v[2], &v[3], &v[4], &v[5], &v[6], &v[7]); err != nil {
			return nil, nil, fmt.Errorf("scan spectrum peak: %w", err)
		}
		p := gaussfit.Peak{
			Centre: floatOrNaN(v[0]), CentreErr: floatOrNaN(v[1]),
			Height: floatOrNaN(v[2]), HeightErr: floatOrNaN(v[3]),
			Sigma: floatOrNaN(v[4]), SigmaErr: floatOrNaN(v[5]),
			Area: floatOrNaN(v[6]), AreaErr: floatOrNaN(v[7]),
		}
		if isRefit {
			refit = append(refit, p)
		} else {
			peaks = append(peaks, p)
		}
	}
	return peaks, refit, rows.Err()
}

// BraggPeaks returns the peaks of a bragg run in their stored order.
func (s *Store) BraggPeaks(runID string) ([]bragg.Peak, error) {
	rows, err := s.db.Query(`
		SELECT bank, row_index, col_index, tof_bin, tof, intensity, intensity_err, ratio
		FROM bragg_peaks
		WHERE run_id = ?
		ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query bragg peaks: %w", err)
	}
	defer rows.Close()

	var peaks []bragg.Peak
	for rows.Next() {
		var p bragg.Peak
		var tof, intensity, intensityErr, ratio sql.NullFloat64
		if err := rows.Scan(&p.Bank, &p.Row, &p.Col, &p.TOFBin, &tof, &intensity, &intensityErr, &ratio); err != nil {
			return nil, fmt.Errorf("scan bragg peak: %w", err)
		}
		p.TOF = floatOrNaN(tof)
		p.Intensity = floatOrNaN(intensity)
		p.IntensityErr = floatOrNaN(intensityErr)
		p.Ratio = floatOrNaN(ratio)
		peaks = append(peaks, p)
	}
	return peaks, rows.Err()
}

// DeleteRun removes a run and, through the foreign keys, its peaks.
func (s *Store) DeleteRun(runID string) error {
	return retryOnBusy(func() error {
		result, err := s.db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil
	})
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func fillRun(run *Run) {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}
}

func insertRun(tx *sql.Tx, run *Run) error {
	var paramsStr interface{}
	if len(run.ParamsJSON) > 0 {
		paramsStr = string(run.ParamsJSON)
	}
	var chi2, poisson interface{}
	if run.Chi2 != nil {
		chi2 = *run.Chi2
	}
	if run.Poisson != nil {
		poisson = *run.Poisson
	}
	_, err := tx.Exec(`
		INSERT INTO runs (run_id, kind, source, params_json, num_peaks, chi2, poisson, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, string(run.Kind), run.Source, paramsStr, run.NumPeaks, chi2, poisson, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var kind string
	var paramsStr sql.NullString
	var chi2, poisson sql.NullFloat64
	err := row.Scan(&r.RunID, &kind, &r.Source, &paramsStr, &r.NumPeaks, &chi2, &poisson, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Kind = Kind(kind)
	if paramsStr.Valid {
		r.ParamsJSON = json.RawMessage(paramsStr.String)
	}
	if chi2.Valid {
		r.Chi2 = &chi2.Float64
	}
	if poisson.Valid {
		r.Poisson = &poisson.Float64
	}
	return &r, nil
}

// nullFloat maps non-finite values to NULL; SQLite has no NaN.
func nullFloat(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
