// Package daemon turns the calling process into a Unix daemon.
//
// A Context holds the desired process state: root and working directory,
// umask, user and group, whether to detach, the descriptors to keep, where
// the standard streams should point, the signal dispositions and an optional
// pid file lock. Open applies that state in a fixed order and Close releases
// the pid file. A terminate signal does the same release and marks the
// context done, so callers watch Done to shut down.
//
// Keep the individual process changes in procenv, detach and pidlock. This
// package only sequences them.
package daemon
