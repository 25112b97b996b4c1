// Package runner maps the start, stop, restart and status actions onto the
// daemon context and its pid file.
//
// Start checks for a live or stale daemon, builds a daemon.Context from
// configuration, opens it and runs the application until the context is
// terminated. Stop signals the process named in the pid file, waits for it
// to exit and clears the pid file if the daemon left it behind. Stale-lock
// cleanup is serialized between concurrent runners with a flock guard file
// next to the pid file.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"daemonkit/internal/config"
	"daemonkit/internal/daemon"
	"daemonkit/internal/detach"
	"daemonkit/internal/logging"
	"daemonkit/internal/pidlock"
)

// runIDEnv carries the run identifier across detach stages.
const runIDEnv = "DAEMONKIT_RUN_ID"

const (
	guardRetryDelay = 50 * time.Millisecond
	forceKillWait   = 5 * time.Second
)

var (
	// ErrAlreadyRunning indicates a live process holds the pid file.
	ErrAlreadyRunning = fmt.Errorf("daemon already running: %w", pidlock.ErrAlreadyLocked)
	// ErrNotRunning indicates there is no pid file to act on.
	ErrNotRunning = errors.New("daemon not running")
	// ErrStopTimeout indicates the daemon outlived the stop timeout.
	ErrStopTimeout = errors.New("daemon did not stop before timeout")
)

// App is the work a daemon performs once detached. Run returns when ctx is
// cancelled.
type App interface {
	Run(ctx context.Context) error
}

// daemonContext is the part of *daemon.Context the runner drives.
type daemonContext interface {
	Open(ctx context.Context) error
	Close() error
	Done() <-chan struct{}
	Err() error
}

// Runner executes daemon lifecycle actions for one configuration.
type Runner struct {
	cfg        *config.Config
	app        App
	logger     *slog.Logger
	baseLogger *slog.Logger
	lock       *pidlock.LockFile
	foreground bool

	newContext func(opts ...daemon.Option) daemonContext
	signal     func(pid int, sig syscall.Signal) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithForeground keeps the daemon attached to the terminal with its standard
// streams untouched. SIGINT terminates it like SIGTERM.
func WithForeground(foreground bool) Option {
	return func(r *Runner) { r.foreground = foreground }
}

// New returns a runner for cfg. app may be nil for runners that only stop or
// inspect a daemon.
func New(cfg *config.Config, app App, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:        cfg,
		app:        app,
		logger:     logging.NewComponentLogger(logger, "runner"),
		baseLogger: logger,
		lock:       pidlock.New(hostPIDPath(cfg), pidlock.WithPollInterval(cfg.PollInterval())),
		newContext: func(opts ...daemon.Option) daemonContext {
			return daemon.New(opts...)
		},
		signal: syscall.Kill,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// hostPIDPath is the pid file as seen from outside a chroot.
func hostPIDPath(cfg *config.Config) string {
	if cfg.Daemon.ChrootDirectory == "" {
		return cfg.Daemon.PIDFile
	}
	return filepath.Join(cfg.Daemon.ChrootDirectory, cfg.Daemon.PIDFile)
}

// PIDFile returns the host path of the pid file.
func (r *Runner) PIDFile() string {
	return r.lock.Path()
}

// Start daemonizes the process and runs the application until it finishes
// or the daemon is terminated. When detaching, the launching process exits
// inside Start and only the detached process returns.
func (r *Runner) Start(ctx context.Context) error {
	if r.app == nil {
		return errors.New("runner has no application to start")
	}
	runID := ensureRunID()
	ctx = logging.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, r.logger)

	if !detach.Reborn() {
		if err := r.ensureStartable(ctx); err != nil {
			return err
		}
	}

	streams, err := r.openStreams()
	if err != nil {
		return err
	}
	defer streams.Close()

	opts, err := r.contextOptions(streams)
	if err != nil {
		return err
	}
	dctx := r.newContext(opts...)
	if err := dctx.Open(ctx); err != nil {
		return fmt.Errorf("open daemon context: %w", err)
	}
	_ = os.Unsetenv(runIDEnv)
	_ = os.Unsetenv(config.PathEnv)

	logger.Info("daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.Int(logging.FieldPID, os.Getpid()),
		logging.String("pid_file", r.cfg.Daemon.PIDFile),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-dctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	runErr := r.app.Run(runCtx)
	closeErr := dctx.Close()

	if sig, ok := daemon.Terminated(dctx.Err()); ok {
		logger.Info("daemon terminated",
			logging.String(logging.FieldEventType, "daemon_terminated"),
			logging.String("signal", sig.String()),
		)
	} else {
		logger.Info("daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run application: %w", runErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close daemon context: %w", closeErr)
	}
	return nil
}

// Restart stops a running daemon, if any, and starts a new one.
func (r *Runner) Restart(ctx context.Context) error {
	if !detach.Reborn() {
		if _, err := r.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
			return err
		}
	}
	return r.Start(ctx)
}

// ensureStartable fails when a live process holds the pid file and breaks a
// stale one.
func (r *Runner) ensureStartable(ctx context.Context) error {
	if !r.lock.IsLocked() {
		return nil
	}
	return r.withGuard(ctx, func() error {
		pid, ok, err := r.lock.ReadPID()
		if err != nil {
			return fmt.Errorf("inspect pid file: %w", err)
		}
		if !ok {
			return nil
		}
		running, err := pidlock.ProcessRunning(pid)
		if err != nil {
			return err
		}
		if running {
			return fmt.Errorf("%w (pid %d, pid file %s)", ErrAlreadyRunning, pid, r.lock.Path())
		}
		logging.WarnWithContext(r.logger, "removing stale pid file", "stale_pid_file",
			logging.Int(logging.FieldPID, pid),
			logging.String("pid_file", r.lock.Path()),
			logging.String(logging.FieldImpact, "previous daemon exited without cleanup"),
			logging.String(logging.FieldErrorHint, "check the previous run's logs for a crash"),
		)
		return r.lock.BreakLock()
	})
}

// withGuard runs fn while holding the runner guard lock.
func (r *Runner) withGuard(ctx context.Context, fn func() error) error {
	guard := flock.New(r.lock.Path() + ".guard")
	locked, err := guard.TryLockContext(ctx, guardRetryDelay)
	if err != nil {
		return fmt.Errorf("acquire runner guard: %w", err)
	}
	if !locked {
		return errors.New("acquire runner guard: lock not obtained")
	}
	defer func() {
		if err := guard.Unlock(); err != nil {
			r.logger.Debug("release runner guard failed", logging.Error(err))
		}
	}()
	return fn()
}

func ensureRunID() string {
	if id := os.Getenv(runIDEnv); id != "" {
		return id
	}
	id := uuid.NewString()
	_ = os.Setenv(runIDEnv, id)
	return id
}
