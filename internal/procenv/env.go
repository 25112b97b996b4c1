package procenv

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrCoreDumpUnsupported reports that the platform does not expose a core
// dump resource limit.
var ErrCoreDumpUnsupported = errors.New("core dump resource limit not supported")

// EnvironmentError wraps a failed change to the process environment.
type EnvironmentError struct {
	Op   string
	Path string
	Err  error
}

func (e *EnvironmentError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("unable to %s (%s): %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("unable to %s: %v", e.Op, e.Err)
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}

// System call seams, replaced in tests.
var (
	getrlimit     = unix.Getrlimit
	setrlimit     = unix.Setrlimit
	chdir         = unix.Chdir
	chroot        = unix.Chroot
	umask         = unix.Umask
	setuid        = unix.Setuid
	setgid        = unix.Setgid
	getsockoptInt = unix.GetsockoptInt
	getppid       = unix.Getppid
)

// ChangeWorkingDirectory sets the current working directory of the process.
func ChangeWorkingDirectory(dir string) error {
	if err := chdir(dir); err != nil {
		return &EnvironmentError{Op: "change working directory", Path: dir, Err: err}
	}
	return nil
}

// ChangeRootDirectory changes the working directory to dir and then confines
// the process to it. The directory must exist and the process must be
// privileged.
func ChangeRootDirectory(dir string) error {
	if err := chdir(dir); err != nil {
		return &EnvironmentError{Op: "change root directory", Path: dir, Err: err}
	}
	if err := chroot(dir); err != nil {
		return &EnvironmentError{Op: "change root directory", Path: dir, Err: err}
	}
	return nil
}

// ChangeFileCreationMask replaces the process umask.
func ChangeFileCreationMask(mask int) error {
	if mask < 0 || mask > 0o777 {
		return &EnvironmentError{
			Op:  "change file creation mask",
			Err: fmt.Errorf("mask %#o out of range: %w", mask, unix.EINVAL),
		}
	}
	umask(mask)
	return nil
}

// ChangeProcessOwner sets the group and then the user of the process. The
// group goes first because dropping the user removes the privilege needed to
// change it.
func ChangeProcessOwner(uid, gid int) error {
	if err := setgid(gid); err != nil {
		return &EnvironmentError{Op: "change process owner", Path: fmt.Sprintf("gid %d", gid), Err: err}
	}
	if err := setuid(uid); err != nil {
		return &EnvironmentError{Op: "change process owner", Path: fmt.Sprintf("uid %d", uid), Err: err}
	}
	return nil
}

// PreventCoreDump sets the core dump resource limit to zero.
func PreventCoreDump() error {
	var current unix.Rlimit
	if err := getrlimit(unix.RLIMIT_CORE, &current); err != nil {
		if errors.Is(err, unix.EINVAL) {
			return fmt.Errorf("%w: %w", ErrCoreDumpUnsupported, err)
		}
		return &EnvironmentError{Op: "read core dump limit", Err: err}
	}
	if err := setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0}); err != nil {
		return &EnvironmentError{Op: "disable core dumps", Err: err}
	}
	return nil
}
