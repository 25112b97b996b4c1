package pidlock

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var kill = unix.Kill

// ProcessRunning reports whether a process with the given pid exists, using
// signal 0. A process owned by another user still counts as running.
func ProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	err := kill(pid, 0)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	case errors.Is(err, unix.EPERM):
		return true, nil
	default:
		return false, fmt.Errorf("check process %d: %w", pid, err)
	}
}
