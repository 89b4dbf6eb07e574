package dataio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/peakfinder/internal/spectrum"
)

// ErrFormat indicates malformed input.
var ErrFormat = errors.New("dataio: bad format")

// ReadSignalCSV parses x,y[,e] rows. Lines starting with '#' are skipped
// and a first row that does not parse as numbers is taken as a header.
// Either every row has an error column or none does.
func ReadSignalCSV(r io.Reader) (spectrum.Signal, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var sig spectrum.Signal
	cols := 0
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return spectrum.Signal{}, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		line++
		vals, err := parseRow(rec)
		if err != nil {
			if line == 1 {
				continue
			}
			return spectrum.Signal{}, fmt.Errorf("%w: row %d: %v", ErrFormat, line, err)
		}
		if cols == 0 {
			cols = len(vals)
			if cols != 2 && cols != 3 {
				return spectrum.Signal{}, fmt.Errorf("%w: want 2 or 3 columns, got %d", ErrFormat, cols)
			}
		}
		if len(vals) != cols {
			return spectrum.Signal{}, fmt.Errorf("%w: row %d has %d columns, want %d", ErrFormat, line, len(vals), cols)
		}
		sig.X = append(sig.X, vals[0])
		sig.Y = append(sig.Y, vals[1])
		if cols == 3 {
			sig.E = append(sig.E, vals[2])
		}
	}
	return sig, nil
}

func parseRow(rec []string) ([]float64, error) {
	out := make([]float64, len(rec))
	for i, f := range rec {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// WriteSignalCSV writes the signal as x,y[,e] rows with a header.
func WriteSignalCSV(w io.Writer, sig spectrum.Signal) error {
	cw := csv.NewWriter(w)
	header := []string{"x", "y"}
	if sig.E != nil {
		header = append(header, "e")
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := range sig.X {
		rec := []string{fmtFloat(sig.X[i]), fmtFloat(sig.Y[i])}
		if sig.E != nil {
			rec = append(rec, fmtFloat(sig.E[i]))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func fmtFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
