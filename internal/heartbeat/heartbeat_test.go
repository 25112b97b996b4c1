package heartbeat_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"daemonkit/internal/heartbeat"
	"daemonkit/internal/logging"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRunWritesBeatsUntilCancelled(t *testing.T) {
	var out syncBuffer
	app := heartbeat.New(&out, 10*time.Millisecond, "tick", logging.NewNop())
	ctx, cancel := context.WithCancel(logging.WithRunID(context.Background(), "run-1"))

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(out.Lines()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	lines := out.Lines()
	if len(lines) < 3 {
		t.Fatalf("expected at least 3 beats, got %d: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], " tick run_id=run-1 pid=") || !strings.HasSuffix(lines[0], " seq=1") {
		t.Fatalf("unexpected first beat: %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], " seq=2") {
		t.Fatalf("unexpected second beat: %q", lines[1])
	}
}

func TestRunReportsWriteFailure(t *testing.T) {
	app := heartbeat.New(failingWriter{}, time.Second, "tick", nil)
	err := app.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected write error, got %v", err)
	}
}

func TestRunRejectsNonPositiveInterval(t *testing.T) {
	app := heartbeat.New(&syncBuffer{}, 0, "tick", nil)
	if err := app.Run(context.Background()); err == nil {
		t.Fatal("expected interval error")
	}
}
