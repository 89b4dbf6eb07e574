package bragg

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogWriters(t *testing.T) {
	var ops, diag, trace bytes.Buffer
	SetLogWriters(&ops, &diag, &trace)
	defer SetLogWriters(nil, nil, nil)

	opsf("ops %d", 1)
	diagf("diag %d", 2)
	tracef("trace %d", 3)

	if !strings.Contains(ops.String(), "[bragg] ") || !strings.Contains(ops.String(), "ops 1") {
		t.Errorf("unexpected ops output %q", ops.String())
	}
	if !strings.Contains(diag.String(), "diag 2") {
		t.Errorf("unexpected diag output %q", diag.String())
	}
	if !strings.Contains(trace.String(), "trace 3") {
		t.Errorf("unexpected trace output %q", trace.String())
	}
}

func TestLogf_Disabled(t *testing.T) {
	SetLogWriters(nil, nil, nil)

	// Should not panic.
	opsf("no-op %d", 1)
	diagf("no-op %d", 2)
	tracef("no-op %d", 3)
	if opsLogger != nil || diagLogger != nil || traceLogger != nil {
		t.Fatal("loggers should be nil after SetLogWriters(nil, nil, nil)")
	}
}
