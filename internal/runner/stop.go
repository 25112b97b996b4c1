package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"daemonkit/internal/logging"
	"daemonkit/internal/pidlock"
)

// StopResult captures what happened while stopping the daemon.
type StopResult struct {
	PID        int
	Stale      bool
	ForcedKill bool
}

// Stop terminates the daemon named by the pid file. A stale pid file is
// removed without signalling anything.
func (r *Runner) Stop(ctx context.Context) (StopResult, error) {
	pid, ok, err := r.lock.ReadPID()
	if err != nil {
		return StopResult{}, fmt.Errorf("inspect pid file: %w", err)
	}
	if !ok {
		return StopResult{}, fmt.Errorf("%w (no pid file at %s)", ErrNotRunning, r.lock.Path())
	}
	result := StopResult{PID: pid}
	if pid == os.Getpid() {
		return result, fmt.Errorf("refusing to stop current process (pid %d)", pid)
	}

	running, err := pidlock.ProcessRunning(pid)
	if err != nil {
		return result, err
	}
	if !running {
		result.Stale = true
		logging.WarnWithContext(r.logger, "removing stale pid file", "stale_pid_file",
			logging.Int(logging.FieldPID, pid),
			logging.String("pid_file", r.lock.Path()),
			logging.String(logging.FieldImpact, "no daemon process to stop"),
		)
		return result, r.breakIfHeldBy(ctx, pid)
	}

	if err := r.signal(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return result, fmt.Errorf("terminate daemon process %d: %w", pid, err)
	}
	timeout := r.cfg.StopTimeout()
	r.logger.Info("stop requested",
		logging.String(logging.FieldEventType, "stop_requested"),
		logging.Int(logging.FieldPID, pid),
		logging.Duration("timeout", timeout),
	)

	exited, err := r.waitForExit(ctx, pid, timeout)
	if err != nil {
		return result, err
	}
	if !exited {
		if !r.cfg.Runner.ForceKill {
			return result, fmt.Errorf("%w (pid %d after %s)", ErrStopTimeout, pid, timeout)
		}
		logging.WarnWithContext(r.logger, "daemon ignored SIGTERM; sending SIGKILL", "stop_forced",
			logging.Int(logging.FieldPID, pid),
			logging.Duration("timeout", timeout),
			logging.String(logging.FieldImpact, "daemon cleanup skipped"),
			logging.String(logging.FieldErrorHint, "raise runner.stop_timeout if shutdown needs longer"),
		)
		if err := r.signal(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
		}
		result.ForcedKill = true
		exited, err = r.waitForExit(ctx, pid, forceKillWait)
		if err != nil {
			return result, err
		}
		if !exited {
			return result, fmt.Errorf("daemon process %d survived SIGKILL", pid)
		}
	}
	return result, r.breakIfHeldBy(ctx, pid)
}

// waitForExit polls until pid is gone. It reports false when timeout elapses
// first.
func (r *Runner) waitForExit(ctx context.Context, pid int, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	interval := r.cfg.PollInterval()
	for {
		running, err := pidlock.ProcessRunning(pid)
		if err != nil {
			return false, err
		}
		if !running {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// breakIfHeldBy removes the pid file if it still names pid. A daemon that
// shut down cleanly has already removed it.
func (r *Runner) breakIfHeldBy(ctx context.Context, pid int) error {
	return r.withGuard(ctx, func() error {
		current, ok, err := r.lock.ReadPID()
		if err != nil {
			if errors.Is(err, pidlock.ErrParse) {
				return nil
			}
			return fmt.Errorf("inspect pid file: %w", err)
		}
		if !ok || current != pid {
			return nil
		}
		if err := r.lock.BreakLock(); err != nil && !errors.Is(err, pidlock.ErrNotLocked) {
			return err
		}
		return nil
	})
}
