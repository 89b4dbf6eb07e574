// Command sxpeaks finds Bragg peaks in one or more 3D detector banks and
// prints them as JSON, strongest first.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/banshee-data/peakfinder/internal/bragg"
	"github.com/banshee-data/peakfinder/internal/config"
	"github.com/banshee-data/peakfinder/internal/dataio"
	"github.com/banshee-data/peakfinder/internal/monitoring"
	"github.com/banshee-data/peakfinder/internal/report"
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
		log.Fatalf("sxpeaks: %v", err)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("sxpeaks", flag.ContinueOnError)
	configPath := fs.String("config", "", "Tuning config JSON (defaults when empty)")
	input := fs.String("input", "-", "JSON array of banks, or - for stdin")
	synthetic := fs.Int("synthetic", 0, "Generate this many synthetic banks instead of reading -input")
	seed := fs.Uint64("seed", 1, "Seed for -synthetic")
	strategy := fs.String("strategy", "", "Override the config strategy (IOverSigma or VarianceOverMean)")
	plotPath := fs.String("plot", "", "Write a PNG/SVG/PDF scatter of the peaks")
	htmlPath := fs.String("html", "", "Write an interactive HTML scatter of the peaks")
	dbPath := fs.String("db", "", "Record the run in this SQLite database")
	logLevel := fs.String("log", "ops", "Log level: quiet, ops, diag or trace")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.String("sxpeaks"))
		return nil
	}

	level, err := monitoring.ParseLevel(*logLevel)
	if err != nil {
		return err
	}
	bragg.SetLogWriters(monitoring.Streams(level))

	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		if tuning, err = config.LoadTuningConfig(*configPath); err != nil {
			return err
		}
	}
	if err := tuning.Validate(); err != nil {
		return err
	}
	cfg := tuning.BraggConfig()
	if *strategy != "" {
		if cfg.Strategy, err = bragg.ParseStrategy(*strategy); err != nil {
			return err
		}
	}

	banks, source, err := loadBanks(*input, *synthetic, *seed, stdin)
	if err != nil {
		return err
	}

	peaks, findErr := bragg.FindPeaksBanks(banks, cfg)
	if joined, ok := findErr.(interface{ Unwrap() []error }); ok && len(joined.Unwrap()) == len(banks) {
		return findErr
	}
	rep := dataio.NewBraggReport(source, cfg, peaks)
	if findErr != nil {
		monitoring.Logf("some banks failed: %v", findErr)
		rep.Errors = strings.Split(findErr.Error(), "\n")
	}
	monitoring.Logf("%s: %d peaks in %d banks", source, len(peaks), len(banks))

	if *dbPath != "" {
		if rep.RunID, err = recordRun(*dbPath, source, cfg, peaks); err != nil {
			return err
		}
	}
	if *plotPath != "" && len(peaks) > 0 {
		if err := report.SaveBraggPlot(*plotPath, source, peaks); err != nil {
			return err
		}
	}
	if *htmlPath != "" {
		if err := writeFile(*htmlPath, func(w io.Writer) error { return report.RenderBraggHTML(w, source, peaks) }); err != nil {
			return err
		}
	}
	return dataio.WriteJSON(stdout, rep)
}

func loadBanks(input string, synthetic int, seed uint64, stdin io.Reader) ([]bragg.Bank, string, error) {
	if synthetic > 0 {
		banks := make([]bragg.Bank, synthetic)
		for i := range banks {
			banks[i] = synth.Bank(synth.DefaultBank(fmt.Sprintf("bank%d", i+1), seed+uint64(i)))
		}
		return banks, fmt.Sprintf("synthetic-%d", seed), nil
	}
	if input == "-" {
		banks, err := dataio.ReadBanks(stdin)
		return banks, "stdin", err
	}
	f, err := os.Open(input)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	banks, err := dataio.ReadBanks(f)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", input, err)
	}
	return banks, input, nil
}

func recordRun(path, source string, cfg bragg.Config, peaks []bragg.Peak) (string, error) {
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
	if err := store.InsertBraggRun(run, peaks); err != nil {
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
