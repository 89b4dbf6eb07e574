package monitoring

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger used by the CLIs and the run
// store. It defaults to log.Printf but may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Writer returns an io.Writer that forwards each write to Logf, so the
// ops/diag/trace streams of the numerical packages end up in the same log.
// The writer looks Logf up on every call, so a later SetLogger applies.
func Writer() io.Writer { return logfWriter{} }

type logfWriter struct{}

func (logfWriter) Write(p []byte) (int, error) {
	Logf("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Level selects how many of the ops, diag and trace streams are enabled.
type Level int

const (
	LevelQuiet Level = iota
	LevelOps
	LevelDiag
	LevelTrace
)

// ParseLevel maps "quiet", "ops", "diag" or "trace" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "quiet", "off", "":
		return LevelQuiet, nil
	case "ops":
		return LevelOps, nil
	case "diag":
		return LevelDiag, nil
	case "trace":
		return LevelTrace, nil
	}
	return LevelQuiet, fmt.Errorf("unknown log level %q (want quiet, ops, diag or trace)", s)
}

// Streams returns the ops, diag and trace writers for the level. Disabled
// streams are nil, matching the SetLogWriters convention of the numerical
// packages.
func Streams(level Level) (ops, diag, trace io.Writer) {
	w := Writer()
	if level >= LevelOps {
		ops = w
	}
	if level >= LevelDiag {
		diag = w
	}
	if level >= LevelTrace {
		trace = w
	}
	return ops, diag, trace
}
