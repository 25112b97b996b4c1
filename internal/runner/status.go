package runner

import (
	"context"
	"fmt"

	"daemonkit/internal/logging"
	"daemonkit/internal/pidlock"
)

// Status describes the pid file and the process it names.
type Status struct {
	PIDFile string
	PID     int
	Locked  bool
	Running bool
	Stale   bool
}

// Status inspects the pid file. A pid file with invalid content is reported
// as locked together with the parse error.
func (r *Runner) Status() (Status, error) {
	st := Status{PIDFile: r.lock.Path(), Locked: r.lock.IsLocked()}
	if !st.Locked {
		return st, nil
	}
	pid, ok, err := r.lock.ReadPID()
	if err != nil {
		return st, fmt.Errorf("inspect pid file: %w", err)
	}
	if !ok {
		st.Locked = false
		return st, nil
	}
	st.PID = pid
	running, err := pidlock.ProcessRunning(pid)
	if err != nil {
		return st, err
	}
	st.Running = running
	st.Stale = !running
	return st, nil
}

// BreakLock removes the pid file unconditionally.
func (r *Runner) BreakLock(ctx context.Context) error {
	return r.withGuard(ctx, func() error {
		pid, _, _ := r.lock.ReadPID()
		logging.WarnWithContext(r.logger, "breaking pid file lock", "lock_broken",
			logging.Int(logging.FieldPID, pid),
			logging.String("pid_file", r.lock.Path()),
			logging.String(logging.FieldImpact, "a running daemon will no longer be tracked"),
			logging.String(logging.FieldErrorHint, "use stop for a live daemon"),
		)
		return r.lock.BreakLock()
	})
}
