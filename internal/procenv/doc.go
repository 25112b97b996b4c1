// Package procenv holds the process-environment primitives used to turn a
// running program into a well-behaved Unix daemon.
//
// Each helper performs a single change to the calling process: dropping the
// core dump limit, changing the root or working directory, setting the file
// creation mask, switching user and group, closing or redirecting
// descriptors, and installing signal dispositions. Failures of the
// underlying system calls are reported as *EnvironmentError values so callers
// can tell environment problems apart from their own errors.
//
// The detection helpers report whether the process was started by init or by
// an internet superserver, in which case detaching is unnecessary.
package procenv
