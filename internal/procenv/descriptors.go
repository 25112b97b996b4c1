package procenv

import (
	"errors"
	"fmt"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultMaxFD is the descriptor ceiling used when the hard limit on open
// files is unlimited.
const DefaultMaxFD = 4096

var (
	closeFD    = unix.Close
	fcntlInt   = unix.FcntlInt
	openDevNul = func() (int, error) { return unix.Open(os.DevNull, unix.O_RDWR, 0) }

	maxDescriptors = MaximumFileDescriptors
)

// MaximumFileDescriptors returns the hard limit on open descriptors, or
// DefaultMaxFD when that limit is unlimited or cannot be read.
func MaximumFileDescriptors() int {
	var lim unix.Rlimit
	if err := getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return DefaultMaxFD
	}
	// RLIM_INFINITY is MaxInt64 on Darwin and MaxUint64 on Linux.
	if lim.Max > math.MaxInt32 {
		return DefaultMaxFD
	}
	return int(lim.Max)
}

// CloseFileDescriptorIfOpen closes fd, treating a descriptor that is not open
// as success.
func CloseFileDescriptorIfOpen(fd int) error {
	if err := closeFD(fd); err != nil {
		if errors.Is(err, unix.EBADF) {
			return nil
		}
		return &EnvironmentError{Op: "close file descriptor", Path: fmt.Sprintf("fd %d", fd), Err: err}
	}
	return nil
}

// CloseAllOpenFiles closes every descriptor from the maximum down to zero
// except those in exclude.
func CloseAllOpenFiles(exclude map[int]struct{}) error {
	for fd := maxDescriptors() - 1; fd >= 0; fd-- {
		if _, keep := exclude[fd]; keep {
			continue
		}
		if err := CloseFileDescriptorIfOpen(fd); err != nil {
			return err
		}
	}
	return nil
}

// CloseOnExecDescriptors returns the open descriptors flagged close-on-exec.
// The Go runtime and package os open every descriptor they own this way, so
// the result covers the poller and any file the program has opened itself.
func CloseOnExecDescriptors() map[int]struct{} {
	found := make(map[int]struct{})
	for fd := 0; fd < maxDescriptors(); fd++ {
		flags, err := fcntlInt(uintptr(fd), unix.F_GETFD, 0)
		if err != nil {
			continue
		}
		if flags&unix.FD_CLOEXEC != 0 {
			found[fd] = struct{}{}
		}
	}
	return found
}

// RedirectStream points stream at target. A nil target redirects the stream
// to the null device.
func RedirectStream(stream, target *os.File) error {
	dst := int(stream.Fd())
	if target != nil {
		if err := dup2(int(target.Fd()), dst); err != nil {
			return &EnvironmentError{Op: "redirect stream", Path: target.Name(), Err: err}
		}
		return nil
	}

	null, err := openDevNul()
	if err != nil {
		return &EnvironmentError{Op: "open null device", Path: os.DevNull, Err: err}
	}
	if null == dst {
		// The stream was closed and the null device landed in its slot.
		return nil
	}
	defer func() { _ = closeFD(null) }()
	if err := dup2(null, dst); err != nil {
		return &EnvironmentError{Op: "redirect stream", Path: os.DevNull, Err: err}
	}
	return nil
}
