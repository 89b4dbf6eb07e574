// Command findpeaks runs the automatic 1D peak search and Gaussian fit on
// an x,y[,e] CSV spectrum and prints the peak tables as JSON.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/banshee-data/peakfinder/internal/config"
	"github.com/banshee-data/peakfinder/internal/dataio"
	"github.com/banshee-data/peakfinder/internal/gaussfit"
	"github.com/banshee-data/peakfinder/internal/monitoring"
	"github.com/banshee-data/peakfinder/internal/report"
	"github.com/banshee-data/peakfinder/internal/spectrum"
	"github.com/banshee-data/peakfinder/internal/storage/sqlite"
	"github.com/banshee-data/peakfinder/internal/synth"
	"github.com/banshee-data/peakfinder/internal/version"
)

func main() {
	monitoring.SetLogger(log.New(os.Stderr, "", log.LstdFlags).Printf)
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("findpeaks: %v", err)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("findpeaks", flag.ContinueOnError)
	configPath := fs.String("config", "", "Tuning config JSON (defaults when empty)")
	input := fs.String("input", "-", "Spectrum CSV with x,y[,e] columns, or - for stdin")
	synthetic := fs.Bool("synthetic", false, "Use a generated three-peak spectrum instead of -input")
	seed := fs.Uint64("seed", 1, "Seed for -synthetic")
	dumpInput := fs.String("dump-input", "", "Write the (possibly synthetic) input spectrum to this CSV")
	plotPath := fs.String("plot", "", "Write a PNG/SVG/PDF plot of the fit")
	htmlPath := fs.String("html", "", "Write an interactive HTML chart of the fit")
	dbPath := fs.String("db", "", "Record the run in this SQLite database")
	logLevel := fs.String("log", "ops", "Log level: quiet, ops, diag or trace")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.String("findpeaks"))
		return nil
	}

	level, err := monitoring.ParseLevel(*logLevel)
	if err != nil {
		return err
	}
	ops, diag, trace := monitoring.Streams(level)
	spectrum.SetLogWriters(ops, diag, trace)
	gaussfit.SetLogWriters(ops, diag, trace)

	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		if tuning, err = config.LoadTuningConfig(*configPath); err != nil {
			return err
		}
	}
	if err := tuning.Validate(); err != nil {
		return err
	}
	cfg := tuning.SpectrumConfig()

	sig, source, err := loadSignal(*input, *synthetic, *seed, stdin)
	if err != nil {
		return err
	}
	if *dumpInput != "" {
		if err := writeFile(*dumpInput, func(w io.Writer) error { return dataio.WriteSignalCSV(w, sig) }); err != nil {
			return err
		}
	}

	res, err := spectrum.FindPeaks(sig, cfg)
	if err != nil {
		return err
	}
	monitoring.Logf("%s: %d peaks, %d refit", source, len(res.Peaks), len(res.Refit))

	rep := dataio.NewSpectrumReport(source, cfg, res)
	if *dbPath != "" {
		runID, err := recordRun(*dbPath, source, cfg, res)
		if err != nil {
			return err
		}
		rep.RunID = runID
	}

	title := filepath.Base(source)
	if *plotPath != "" {
		if err := report.SaveFitPlot(*plotPath, title, res); err != nil {
			return err
		}
	}
	if *htmlPath != "" {
		if err := writeFile(*htmlPath, func(w io.Writer) error { return report.RenderFitHTML(w, title, res) }); err != nil {
			return err
		}
	}
	return dataio.WriteJSON(stdout, rep)
}

func loadSignal(input string, synthetic bool, seed uint64, stdin io.Reader) (spectrum.Signal, string, error) {
	if synthetic {
		x, y, e := synth.Spectrum(synth.DefaultSpectrum(seed))
		return spectrum.Signal{X: x, Y: y, E: e}, fmt.Sprintf("synthetic-%d", seed), nil
	}
	if input == "-" {
		sig, err := dataio.ReadSignalCSV(stdin)
		return sig, "stdin", err
	}
	f, err := os.Open(input)
	if err != nil {
		return spectrum.Signal{}, "", err
	}
	defer f.Close()
	sig, err := dataio.ReadSignalCSV(f)
	if err != nil {
		return spectrum.Signal{}, "", fmt.Errorf("%s: %w", input, err)
	}
	return sig, input, nil
}

func recordRun(path, source string, cfg spectrum.Config, res *spectrum.Result) (string, error) {
	store, err := sqlite.Open(path)
	if err != nil {
		return "", err
	}
	defer store.Close()

	params, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	run := &sqlite.Run{Source: source, ParamsJSON: params}
	if err := store.InsertSpectrumRun(run, res); err != nil {
		return "", err
	}
	monitoring.Logf("recorded run %s in %s", run.RunID, path)
	return run.RunID, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
