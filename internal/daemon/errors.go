package daemon

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrAlreadyOpen reports a second call to Open on the same context.
var ErrAlreadyOpen = errors.New("daemon context already open")

// TerminationError is the reason a context is done. Signal is nil when the
// context was closed explicitly.
type TerminationError struct {
	Signal os.Signal
}

func (e *TerminationError) Error() string {
	if e.Signal == nil {
		return "daemon context closed"
	}
	if sig, ok := e.Signal.(syscall.Signal); ok {
		return fmt.Sprintf("terminating on signal %d", int(sig))
	}
	return fmt.Sprintf("terminating on signal %v", e.Signal)
}
