//go:build unix && !linux

package procenv

import "golang.org/x/sys/unix"

func dup2(oldfd, newfd int) error {
	if oldfd == newfd {
		return nil
	}
	return unix.Dup2(oldfd, newfd)
}
