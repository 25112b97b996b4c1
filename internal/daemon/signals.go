package daemon

import (
	"os"
	"slices"
	"syscall"

	"daemonkit/internal/procenv"
)

// SignalAction is the disposition installed for a signal while the context
// is open.
type SignalAction interface {
	signalAction()
}

type ignoreAction struct{}

type defaultAction struct{}

type terminateAction struct{}

type handlerAction struct {
	fn func(os.Signal)
}

func (ignoreAction) signalAction()    {}
func (defaultAction) signalAction()   {}
func (terminateAction) signalAction() {}
func (handlerAction) signalAction()   {}

var (
	// Ignore discards the signal.
	Ignore SignalAction = ignoreAction{}
	// Default restores the system default disposition.
	Default SignalAction = defaultAction{}
	// Terminate releases the pid file and marks the context done.
	Terminate SignalAction = terminateAction{}
)

// Handler calls fn for each delivery of the signal. A nil fn ignores it.
func Handler(fn func(os.Signal)) SignalAction {
	if fn == nil {
		return Ignore
	}
	return handlerAction{fn: fn}
}

// SignalMap assigns an action to each signal the context manages.
type SignalMap map[os.Signal]SignalAction

// DefaultSignalMap ignores child and terminal job control signals and
// terminates on SIGTERM.
func DefaultSignalMap() SignalMap {
	return SignalMap{
		syscall.SIGCHLD: Ignore,
		syscall.SIGTSTP: Ignore,
		syscall.SIGTTIN: Ignore,
		syscall.SIGTTOU: Ignore,
		syscall.SIGTERM: Terminate,
	}
}

// handlers resolves the map into dispositions, binding Terminate to terminate.
func (m SignalMap) handlers(terminate func(os.Signal)) procenv.SignalHandlers {
	h := procenv.SignalHandlers{Notify: make(map[os.Signal]func(os.Signal))}
	for sig, action := range m {
		switch a := action.(type) {
		case nil, ignoreAction:
			h.Ignore = append(h.Ignore, sig)
		case defaultAction:
			h.Reset = append(h.Reset, sig)
		case terminateAction:
			h.Notify[sig] = terminate
		case handlerAction:
			h.Notify[sig] = a.fn
		}
	}
	slices.SortFunc(h.Ignore, compareSignals)
	slices.SortFunc(h.Reset, compareSignals)
	return h
}

func compareSignals(a, b os.Signal) int {
	sa, aok := a.(syscall.Signal)
	sb, bok := b.(syscall.Signal)
	if aok && bok {
		return int(sa) - int(sb)
	}
	if a.String() < b.String() {
		return -1
	}
	if a.String() > b.String() {
		return 1
	}
	return 0
}
