// Package detach moves the calling program into the background as an orphan
// in its own session, without a controlling terminal.
//
// A Go program cannot fork its runtime, so each fork of the classic double
// fork is performed by starting the same executable again with a stage marker
// in the environment. The launching process exits once the next stage has
// started. Every stage runs main from the beginning, and DetachProcessContext
// returns only in the final stage.
package detach

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
)

// StageEnv carries the detach stage to re-executed processes.
const StageEnv = "DAEMONKIT_DETACH_STAGE"

const (
	stageSessionLeader = "1"
	stageDetached      = "2"
)

// Error reports a failed fork stage.
type Error struct {
	Fork int
	Err  error
}

func (e *Error) Error() string {
	var errno syscall.Errno
	if errors.As(e.Err, &errno) {
		return fmt.Sprintf("fork #%d failed: (%d) %s", e.Fork, int(errno), errno.Error())
	}
	return fmt.Sprintf("fork #%d failed: %v", e.Fork, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	spawn            = spawnSelf
	exit             = os.Exit
	stderr io.Writer = os.Stderr
)

// Reborn reports whether the process is an intermediate or final stage of a
// detach started by an earlier process.
func Reborn() bool {
	switch os.Getenv(StageEnv) {
	case stageSessionLeader, stageDetached:
		return true
	}
	return false
}

// DetachProcessContext detaches the process from its controlling terminal
// and parent. The first stage starts a session leader and exits, the session
// leader starts a process that can never reacquire a terminal and exits, and
// that final process returns. A failed start prints the reason to standard
// error and exits with status 1.
func DetachProcessContext() {
	switch os.Getenv(StageEnv) {
	case stageDetached:
		_ = os.Unsetenv(StageEnv)
	case stageSessionLeader:
		forkThenExit(2, stageDetached, false)
	default:
		forkThenExit(1, stageSessionLeader, true)
	}
}

func forkThenExit(n int, next string, newSession bool) {
	if err := spawn(next, newSession); err != nil {
		fmt.Fprintln(stderr, (&Error{Fork: n, Err: err}).Error())
		exit(1)
		return
	}
	exit(0)
}

func spawnSelf(stage string, newSession bool) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	proc, err := os.StartProcess(exe, os.Args, &os.ProcAttr{
		Env:   stageEnviron(os.Environ(), stage),
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
		Sys:   &syscall.SysProcAttr{Setsid: newSession},
	})
	if err != nil {
		return err
	}
	return proc.Release()
}

func stageEnviron(environ []string, stage string) []string {
	out := make([]string, 0, len(environ)+1)
	for _, kv := range environ {
		if strings.HasPrefix(kv, StageEnv+"=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, StageEnv+"="+stage)
}
