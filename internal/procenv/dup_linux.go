package procenv

import "golang.org/x/sys/unix"

// dup2 duplicates oldfd onto newfd. Linux on arm64 and riscv64 lacks dup2, so
// dup3 is used everywhere on Linux; dup3 rejects equal descriptors.
func dup2(oldfd, newfd int) error {
	if oldfd == newfd {
		return nil
	}
	return unix.Dup3(oldfd, newfd, 0)
}
