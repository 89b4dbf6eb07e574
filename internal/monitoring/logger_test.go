package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// Now set to nil and verify it doesn't call our logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}

func TestWriter_ForwardsToLogf(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	n, err := Writer().Write([]byte("[bragg] 3 labels\n"))
	if err != nil || n != len("[bragg] 3 labels\n") {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if len(got) != 1 || got[0] != "[bragg] 3 labels" {
		t.Errorf("forwarded %q, want one trimmed line", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"", LevelQuiet, true},
		{"ops", LevelOps, true},
		{"DIAG", LevelDiag, true},
		{"trace", LevelTrace, true},
		{"verbose", LevelQuiet, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestStreams(t *testing.T) {
	ops, diag, trace := Streams(LevelDiag)
	if ops == nil || diag == nil {
		t.Error("ops and diag should be enabled at LevelDiag")
	}
	if trace != nil {
		t.Error("trace should be disabled at LevelDiag")
	}

	ops, diag, trace = Streams(LevelQuiet)
	if ops != nil || diag != nil || trace != nil {
		t.Error("all streams should be nil at LevelQuiet")
	}
}
