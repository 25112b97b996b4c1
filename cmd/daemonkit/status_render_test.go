package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"daemonkit/internal/runner"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestRenderDaemonStatus(t *testing.T) {
	tests := []struct {
		name string
		st   runner.Status
		err  error
		want string
	}{
		{"running", runner.Status{Locked: true, Running: true, PID: 42}, nil, "[OK] Running (pid 42)"},
		{"stale", runner.Status{Locked: true, Stale: true, PID: 7}, nil, "[WARN] Not running; stale pid file names pid 7"},
		{"absent", runner.Status{}, nil, "[INFO] Not running"},
		{"error", runner.Status{Locked: true}, errors.New("invalid pid file"), "[ERROR] invalid pid file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := renderDaemonStatus(tt.st, tt.err, false)
			if !strings.HasSuffix(got, tt.want) {
				t.Fatalf("expected suffix %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"Field", "Value"}, [][]string{{"PID file", "/run/app.pid"}, {"PID"}}, []columnAlignment{alignLeft, alignRight})
	for _, want := range []string{"Field", "Value", "PID file", "/run/app.pid"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table:\n%s", want, out)
		}
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty output without headers")
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
