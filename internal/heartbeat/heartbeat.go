// Package heartbeat provides the sample application daemonkit runs: it
// writes one line per interval to a writer, normally the daemon's
// redirected standard output.
package heartbeat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"daemonkit/internal/logging"
)

// App emits heartbeat lines until its context is cancelled.
type App struct {
	out      io.Writer
	interval time.Duration
	message  string
	logger   *slog.Logger
	pid      func() int
}

// New returns a heartbeat writing message to out every interval.
func New(out io.Writer, interval time.Duration, message string, logger *slog.Logger) *App {
	return &App{
		out:      out,
		interval: interval,
		message:  message,
		logger:   logging.NewComponentLogger(logger, "heartbeat"),
		pid:      os.Getpid,
	}
}

// Run writes the first heartbeat immediately and then one per interval. It
// returns nil once ctx is cancelled and the write error if a line cannot be
// written.
func (a *App) Run(ctx context.Context) error {
	if a.interval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive (got %s)", a.interval)
	}
	runID, _ := logging.RunIDFromContext(ctx)
	logger := logging.WithContext(ctx, a.logger)
	logger.Info("heartbeat started", logging.Duration("interval", a.interval))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for seq := 1; ; seq++ {
		if err := a.beat(runID, seq); err != nil {
			return err
		}
		logger.Debug("heartbeat", logging.Int("seq", seq))

		select {
		case <-ctx.Done():
			logger.Info("heartbeat stopped", logging.Int("beats", seq))
			return nil
		case <-ticker.C:
		}
	}
}

func (a *App) beat(runID string, seq int) error {
	if runID == "" {
		runID = "-"
	}
	_, err := fmt.Fprintf(a.out, "%s %s run_id=%s pid=%d seq=%d\n",
		time.Now().UTC().Format(time.RFC3339), a.message, runID, a.pid(), seq)
	if err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}
