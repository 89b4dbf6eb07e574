package sqlite

import (
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/peakfinder/internal/bragg"
	"github.com/banshee-data/peakfinder/internal/gaussfit"
	"github.com/banshee-data/peakfinder/internal/spectrum"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult() *spectrum.Result {
	return &spectrum.Result{
		Peaks: gaussfit.Table{
			{Centre: 10, CentreErr: 0.1, Height: 100, HeightErr: 2, Sigma: 1.5, SigmaErr: 0.05, Area: 376, AreaErr: 9},
			{Centre: 42, CentreErr: 0.3, Height: 20, HeightErr: 1, Sigma: 2, SigmaErr: 0.2, Area: 100, AreaErr: 11},
		},
		Refit: gaussfit.Table{
			{Centre: 70, CentreErr: math.NaN(), Height: 5, HeightErr: math.NaN(), Sigma: 0.5, SigmaErr: 0, Area: 6, AreaErr: math.NaN()},
		},
		Cost: spectrum.FitCost{Chi2: 1.25, Poisson: math.Inf(-1)},
	}
}

func TestOpen_MigratesSchema(t *testing.T) {
	s := openTestStore(t)
	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	run := &Run{Source: "first"}
	require.NoError(t, s.InsertBraggRun(run, nil))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Source)
}

func TestInsertSpectrumRun_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	params, err := json.Marshal(spectrum.DefaultConfig())
	require.NoError(t, err)

	run := &Run{Source: "sample.csv", ParamsJSON: params}
	require.NoError(t, s.InsertSpectrumRun(run, sampleResult()))
	assert.NotEmpty(t, run.RunID)
	assert.NotZero(t, run.CreatedAt)
	assert.Equal(t, 3, run.NumPeaks)

	got, err := s.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, KindSpectrum, got.Kind)
	assert.Equal(t, "sample.csv", got.Source)
	assert.JSONEq(t, string(params), string(got.ParamsJSON))
	require.NotNil(t, got.Chi2)
	assert.Equal(t, 1.25, *got.Chi2)
	assert.Nil(t, got.Poisson, "non-finite cost is stored as NULL")

	peaks, refit, err := s.SpectrumPeaks(run.RunID)
	require.NoError(t, err)
	want := sampleResult()
	assert.Equal(t, want.Peaks, peaks)
	require.Len(t, refit, 1)
	assert.Equal(t, 70.0, refit[0].Centre)
	assert.True(t, math.IsNaN(refit[0].HeightErr))
	assert.True(t, math.IsNaN(refit[0].AreaErr))
	assert.Equal(t, 0.0, refit[0].SigmaErr)
}

func TestInsertBraggRun_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	in := []bragg.Peak{
		{Bank: "bank1", Row: 3, Col: 4, TOFBin: 10, TOF: 1100, Intensity: 500, IntensityErr: 22, Ratio: 23},
		{Bank: "bank2", Row: 1, Col: 1, TOFBin: 2, Intensity: 80, IntensityErr: 9, Ratio: 11},
	}
	run := &Run{Source: "banks.json"}
	require.NoError(t, s.InsertBraggRun(run, in))

	got, err := s.BraggPeaks(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, in, got)

	header, err := s.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, KindBragg, header.Kind)
	assert.Equal(t, 2, header.NumPeaks)
	assert.Nil(t, header.Chi2)
}

func TestListRuns(t *testing.T) {
	s := openTestStore(t)
	for i, kind := range []Kind{KindSpectrum, KindBragg, KindSpectrum} {
		run := &Run{CreatedAt: int64(i + 1)}
		if kind == KindSpectrum {
			require.NoError(t, s.InsertSpectrumRun(run, sampleResult()))
		} else {
			require.NoError(t, s.InsertBraggRun(run, nil))
		}
	}

	all, err := s.ListRuns("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].CreatedAt, "newest first")

	spectra, err := s.ListRuns(KindSpectrum, 0)
	require.NoError(t, err)
	assert.Len(t, spectra, 2)

	limited, err := s.ListRuns("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteRun_Cascades(t *testing.T) {
	s := openTestStore(t)
	run := &Run{}
	require.NoError(t, s.InsertSpectrumRun(run, sampleResult()))
	require.NoError(t, s.DeleteRun(run.RunID))

	_, err := s.GetRun(run.RunID)
	assert.ErrorIs(t, err, ErrNotFound)

	peaks, refit, err := s.SpectrumPeaks(run.RunID)
	require.NoError(t, err)
	assert.Empty(t, peaks)
	assert.Empty(t, refit)

	assert.ErrorIs(t, s.DeleteRun(run.RunID), ErrNotFound)
}

func TestInsertRun_DuplicateID(t *testing.T) {
	s := openTestStore(t)
	run := &Run{RunID: "fixed"}
	require.NoError(t, s.InsertBraggRun(run, nil))
	assert.Error(t, s.InsertBraggRun(&Run{RunID: "fixed"}, nil))
}

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := retryOnBusy(func() error {
		calls++
		if calls < 3 {
			return errString("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = retryOnBusy(func() error {
		calls++
		return errString("no such table: runs")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

type errString string

func (e errString) Error() string { return string(e) }
