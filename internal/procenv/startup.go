package procenv

import (
	"errors"

	"golang.org/x/sys/unix"
)

// IsProcessStartedByInit reports whether the parent process is init.
func IsProcessStartedByInit() bool {
	return getppid() == 1
}

// IsProcessStartedBySuperserver reports whether standard input is a socket,
// as it is for services launched by inetd and friends.
func IsProcessStartedBySuperserver() bool {
	_, err := getsockoptInt(0, unix.SOL_SOCKET, unix.SO_TYPE)
	return !errors.Is(err, unix.ENOTSOCK)
}

// IsDetachProcessContextRequired reports whether the process must detach to
// become a daemon.
func IsDetachProcessContextRequired() bool {
	return !IsProcessStartedByInit() && !IsProcessStartedBySuperserver()
}
