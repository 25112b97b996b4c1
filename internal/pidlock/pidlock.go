// Package pidlock implements an advisory lock whose token is a pid file: a
// file holding the decimal process id of its holder followed by a newline.
//
// The file is created exclusively, so at most one process holds the lock at a
// time. A process that dies without releasing leaves the file behind; IsStale
// detects that case and BreakLock clears it.
package pidlock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultPollInterval is the delay between attempts while waiting for a held
// lock to be released.
const DefaultPollInterval = 100 * time.Millisecond

// WaitForever makes Acquire wait until the lock is free or the context ends.
const WaitForever time.Duration = -1

// LockFile is a pid file lock at a fixed path.
type LockFile struct {
	path         string
	pollInterval time.Duration
	clock        clock
	pid          func() int
}

// Option configures a LockFile.
type Option func(*LockFile)

// WithPollInterval sets the delay between acquisition attempts.
func WithPollInterval(d time.Duration) Option {
	return func(l *LockFile) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// New returns a lock for the pid file at path.
func New(path string, opts ...Option) *LockFile {
	l := &LockFile{
		path:         path,
		pollInterval: DefaultPollInterval,
		clock:        systemClock{},
		pid:          os.Getpid,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the pid file location.
func (l *LockFile) Path() string {
	return l.path
}

// Acquire creates the pid file holding the current process id.
//
// While the file exists Acquire polls until it disappears. A zero timeout
// fails with ErrAlreadyLocked without waiting, WaitForever waits until the
// context is done, and a positive timeout gives up once it has elapsed.
// Creation failures are reported as ErrLockFailed.
func (l *LockFile) Acquire(ctx context.Context, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = l.clock.Now().Add(timeout)
	}
	for {
		if !l.IsLocked() {
			return l.writePID()
		}
		if timeout == 0 || (timeout > 0 && l.clock.Now().After(deadline)) {
			return l.alreadyLocked()
		}
		if err := l.clock.Sleep(ctx, l.pollInterval); err != nil {
			return err
		}
	}
}

func (l *LockFile) alreadyLocked() error {
	if pid, ok, err := l.ReadPID(); err == nil && ok {
		return fmt.Errorf("%w: %s (pid %d)", ErrAlreadyLocked, l.path, pid)
	}
	return fmt.Errorf("%w: %s", ErrAlreadyLocked, l.path)
}

func (l *LockFile) writePID() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLockFailed, err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", l.pid()); err != nil {
		_ = f.Close()
		_ = os.Remove(l.path)
		return fmt.Errorf("%w: write %s: %w", ErrLockFailed, l.path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(l.path)
		return fmt.Errorf("%w: close %s: %w", ErrLockFailed, l.path, err)
	}
	return nil
}

// Release removes the pid file. It fails with ErrNotLocked when there is no
// file and with ErrNotMyLock when the file names another process.
func (l *LockFile) Release() error {
	if !l.IsLocked() {
		return fmt.Errorf("%w: %s", ErrNotLocked, l.path)
	}
	mine, err := l.IAmLocking()
	if err != nil {
		return err
	}
	if !mine {
		return fmt.Errorf("%w: %s", ErrNotMyLock, l.path)
	}
	return l.BreakLock()
}

// BreakLock removes the pid file regardless of its holder. A missing file is
// not an error.
func (l *LockFile) BreakLock() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pid file %s: %w", l.path, err)
	}
	return nil
}

// IsLocked reports whether the pid file exists.
func (l *LockFile) IsLocked() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// IAmLocking reports whether the pid file names the current process.
func (l *LockFile) IAmLocking() (bool, error) {
	pid, ok, err := l.ReadPID()
	if err != nil {
		return false, err
	}
	return ok && pid == l.pid(), nil
}

// ReadPID returns the process id stored in the pid file. ok is false when
// the file does not exist. Content that is not a positive integer yields a
// *ParseError.
func (l *LockFile) ReadPID() (pid int, ok bool, err error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read pid file %s: %w", l.path, err)
	}
	pid, err = parsePID(data)
	if err != nil {
		return 0, false, &ParseError{Path: l.path, Content: string(data), Err: err}
	}
	return pid, true, nil
}

// IsStale reports whether the pid file names a process that no longer
// exists. A missing pid file is not stale.
func (l *LockFile) IsStale() (bool, error) {
	pid, ok, err := l.ReadPID()
	if err != nil || !ok {
		return false, err
	}
	running, err := ProcessRunning(pid)
	if err != nil {
		return false, err
	}
	return !running, nil
}

func parsePID(data []byte) (int, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, errors.New("empty")
	}
	pid, err := strconv.Atoi(text)
	if err != nil {
		return 0, err
	}
	if pid <= 0 {
		return 0, fmt.Errorf("pid %d is not positive", pid)
	}
	return pid, nil
}
