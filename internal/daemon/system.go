package daemon

import (
	"os"

	"daemonkit/internal/detach"
	"daemonkit/internal/procenv"
)

// system is the set of process changes Open performs.
type system interface {
	Reborn() bool
	IsDetachProcessContextRequired() bool
	ChangeRootDirectory(dir string) error
	PreventCoreDump() error
	ChangeFileCreationMask(mask int) error
	ChangeWorkingDirectory(dir string) error
	ChangeProcessOwner(uid, gid int) error
	DetachProcessContext()
	SetSignalHandlers(h procenv.SignalHandlers) (stop func())
	CloseOnExecDescriptors() map[int]struct{}
	CloseAllOpenFiles(exclude map[int]struct{}) error
	RedirectStream(stream, target *os.File) error
}

type osSystem struct{}

func (osSystem) Reborn() bool { return detach.Reborn() }

func (osSystem) IsDetachProcessContextRequired() bool {
	return procenv.IsDetachProcessContextRequired()
}

func (osSystem) ChangeRootDirectory(dir string) error { return procenv.ChangeRootDirectory(dir) }

func (osSystem) PreventCoreDump() error { return procenv.PreventCoreDump() }

func (osSystem) ChangeFileCreationMask(mask int) error { return procenv.ChangeFileCreationMask(mask) }

func (osSystem) ChangeWorkingDirectory(dir string) error {
	return procenv.ChangeWorkingDirectory(dir)
}

func (osSystem) ChangeProcessOwner(uid, gid int) error { return procenv.ChangeProcessOwner(uid, gid) }

func (osSystem) DetachProcessContext() { detach.DetachProcessContext() }

func (osSystem) SetSignalHandlers(h procenv.SignalHandlers) func() {
	return procenv.SetSignalHandlers(h)
}

func (osSystem) CloseOnExecDescriptors() map[int]struct{} { return procenv.CloseOnExecDescriptors() }

func (osSystem) CloseAllOpenFiles(exclude map[int]struct{}) error {
	return procenv.CloseAllOpenFiles(exclude)
}

func (osSystem) RedirectStream(stream, target *os.File) error {
	return procenv.RedirectStream(stream, target)
}
