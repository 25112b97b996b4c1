package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"daemonkit/internal/logging"
)

// PIDFile is the lock a context holds while open. *pidlock.LockFile
// satisfies it.
type PIDFile interface {
	Path() string
	Acquire(ctx context.Context, timeout time.Duration) error
	Release() error
	IAmLocking() (bool, error)
}

// Descriptor is anything backed by a file descriptor, such as *os.File.
type Descriptor interface {
	Fd() uintptr
}

// FD is a bare descriptor number.
type FD int

// Fd returns the descriptor number.
func (fd FD) Fd() uintptr { return uintptr(fd) }

// Context describes the state a daemon process runs in and performs the
// transition into it.
type Context struct {
	chrootDirectory  string
	workingDirectory string
	umask            int
	uid              int
	gid              int
	detach           *bool
	filesPreserve    []Descriptor
	stdin            *os.File
	stdout           *os.File
	stderr           *os.File
	signalMap        SignalMap
	stopSignals      func()
	pidFile          PIDFile
	lockTimeout      time.Duration
	logger           *slog.Logger
	sys              system

	mu        sync.Mutex
	opened    bool
	locked    bool
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Context.
type Option func(*Context)

// WithChrootDirectory confines the process to dir. Empty leaves the root
// unchanged.
func WithChrootDirectory(dir string) Option {
	return func(c *Context) { c.chrootDirectory = dir }
}

// WithWorkingDirectory sets the directory the daemon runs in. Defaults to /.
func WithWorkingDirectory(dir string) Option {
	return func(c *Context) {
		if dir != "" {
			c.workingDirectory = dir
		}
	}
}

// WithUmask sets the file creation mask. Defaults to 0.
func WithUmask(mask int) Option {
	return func(c *Context) { c.umask = mask }
}

// WithUID sets the user the daemon runs as. Defaults to the current real user.
func WithUID(uid int) Option {
	return func(c *Context) { c.uid = uid }
}

// WithGID sets the group the daemon runs as. Defaults to the current real group.
func WithGID(gid int) Option {
	return func(c *Context) { c.gid = gid }
}

// WithDetachProcess forces detaching on or off. Without it the context
// detaches unless the process was started by init or a superserver.
func WithDetachProcess(detach bool) Option {
	return func(c *Context) { c.detach = &detach }
}

// WithFilesPreserve keeps the given descriptors open across Open.
func WithFilesPreserve(files ...Descriptor) Option {
	return func(c *Context) { c.filesPreserve = append(c.filesPreserve, files...) }
}

// WithStdin points standard input at f. Nil means the null device.
func WithStdin(f *os.File) Option {
	return func(c *Context) { c.stdin = f }
}

// WithStdout points standard output at f. Nil means the null device.
func WithStdout(f *os.File) Option {
	return func(c *Context) { c.stdout = f }
}

// WithStderr points standard error at f. Nil shares the standard output
// target, which is the null device when that is unset too.
func WithStderr(f *os.File) Option {
	return func(c *Context) { c.stderr = f }
}

// WithSignalMap replaces the default signal map.
func WithSignalMap(m SignalMap) Option {
	return func(c *Context) {
		if m != nil {
			c.signalMap = m
		}
	}
}

// WithPIDFile makes Open acquire lock as its last step and Close release it.
func WithPIDFile(lock PIDFile) Option {
	return func(c *Context) { c.pidFile = lock }
}

// WithLockTimeout bounds the wait for the pid file. Zero, the default, fails
// at once when the file exists; pidlock.WaitForever waits indefinitely.
func WithLockTimeout(d time.Duration) Option {
	return func(c *Context) { c.lockTimeout = d }
}

// WithLogger sets the logger used to report each step.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) { c.logger = logger }
}

// New returns an unopened context.
func New(opts ...Option) *Context {
	c := &Context{
		workingDirectory: "/",
		uid:              os.Getuid(),
		gid:              os.Getgid(),
		signalMap:        DefaultSignalMap(),
		sys:              osSystem{},
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "daemon")
	return c
}

// Open turns the calling process into a daemon. The steps run in this order:
// change root, disable core dumps, set the umask, change directory, switch
// user and group, detach, install signal handlers, close inherited
// descriptors, redirect the standard streams and acquire the pid file.
//
// Detaching starts the program again, so a process that detaches exits
// inside Open and only the final detached process returns from it. The
// earlier steps are inherited by the new process and are not repeated there.
func (c *Context) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.opened = true
	c.mu.Unlock()

	reborn := c.sys.Reborn()
	if !reborn {
		if err := c.prepareEnvironment(); err != nil {
			return err
		}
	}

	if reborn || c.shouldDetach() {
		c.logger.Debug("detaching process")
		c.sys.DetachProcessContext()
	}

	stopSignals := c.sys.SetSignalHandlers(c.signalMap.handlers(c.terminate))
	c.mu.Lock()
	c.stopSignals = stopSignals
	c.mu.Unlock()

	exclude := c.excludedDescriptors()
	if err := c.sys.CloseAllOpenFiles(exclude); err != nil {
		return fmt.Errorf("close inherited descriptors: %w", err)
	}

	streams := []struct {
		system *os.File
		target *os.File
	}{
		{os.Stdin, c.stdin},
		{os.Stdout, c.stdout},
		{os.Stderr, c.stderrTarget()},
	}
	for _, s := range streams {
		if err := c.sys.RedirectStream(s.system, s.target); err != nil {
			return err
		}
	}

	if c.pidFile != nil {
		if err := c.pidFile.Acquire(ctx, c.lockTimeout); err != nil {
			return fmt.Errorf("acquire pid file: %w", err)
		}
		c.mu.Lock()
		c.locked = true
		c.mu.Unlock()
		c.logger.Info("pid file acquired",
			logging.String("pid_file", c.pidFile.Path()),
			logging.Int(logging.FieldPID, os.Getpid()),
		)
	}
	return nil
}

func (c *Context) prepareEnvironment() error {
	if c.chrootDirectory != "" {
		if err := c.sys.ChangeRootDirectory(c.chrootDirectory); err != nil {
			return err
		}
	}
	if err := c.sys.PreventCoreDump(); err != nil {
		return err
	}
	if err := c.sys.ChangeFileCreationMask(c.umask); err != nil {
		return err
	}
	if err := c.sys.ChangeWorkingDirectory(c.workingDirectory); err != nil {
		return err
	}
	if err := c.sys.ChangeProcessOwner(c.uid, c.gid); err != nil {
		return err
	}
	c.logger.Debug("process environment prepared",
		logging.String("working_directory", c.workingDirectory),
		logging.String("umask", fmt.Sprintf("%#o", c.umask)),
		logging.Int("uid", c.uid),
		logging.Int("gid", c.gid),
	)
	return nil
}

// stderrTarget falls back to the standard output target when no standard
// error target is set.
func (c *Context) stderrTarget() *os.File {
	if c.stderr != nil {
		return c.stderr
	}
	return c.stdout
}

func (c *Context) shouldDetach() bool {
	if c.detach != nil {
		return *c.detach
	}
	return c.sys.IsDetachProcessContextRequired()
}

// excludedDescriptors lists the descriptors Open must not close: the
// preserved files, the stream targets and every descriptor this process
// opened itself, which are all marked close-on-exec.
func (c *Context) excludedDescriptors() map[int]struct{} {
	exclude := c.sys.CloseOnExecDescriptors()
	if exclude == nil {
		exclude = make(map[int]struct{})
	}
	for _, d := range c.filesPreserve {
		if d != nil {
			exclude[int(d.Fd())] = struct{}{}
		}
	}
	for _, f := range []*os.File{c.stdin, c.stdout, c.stderr} {
		if f != nil {
			exclude[int(f.Fd())] = struct{}{}
		}
	}
	return exclude
}

// Close releases the pid file if Open acquired it and marks the context
// done. Closing an unopened or already closed context does nothing.
func (c *Context) Close() error {
	return c.shutdown(nil)
}

// terminate handles a Terminate signal.
func (c *Context) terminate(sig os.Signal) {
	c.logger.Info("termination signal received", logging.String("signal", sig.String()))
	if err := c.shutdown(sig); err != nil {
		logging.WarnWithContext(c.logger, "pid file release failed", "pid_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the pid file with break-lock"),
			logging.String(logging.FieldImpact, "the next start may report the daemon as running"),
		)
	}
}

func (c *Context) shutdown(sig os.Signal) error {
	c.mu.Lock()
	opened := c.opened
	c.mu.Unlock()
	if !opened {
		return nil
	}

	var err error
	c.closeOnce.Do(func() {
		err = c.releasePIDFile()
		c.mu.Lock()
		c.err = &TerminationError{Signal: sig}
		stopSignals := c.stopSignals
		c.stopSignals = nil
		c.mu.Unlock()
		if stopSignals != nil {
			stopSignals()
		}
		close(c.done)
	})
	return err
}

func (c *Context) releasePIDFile() error {
	c.mu.Lock()
	locked := c.locked
	c.locked = false
	c.mu.Unlock()
	if !locked {
		return nil
	}
	mine, err := c.pidFile.IAmLocking()
	if err != nil {
		return fmt.Errorf("check pid file: %w", err)
	}
	if !mine {
		return nil
	}
	if err := c.pidFile.Release(); err != nil {
		return fmt.Errorf("release pid file: %w", err)
	}
	c.logger.Info("pid file released", logging.String("pid_file", c.pidFile.Path()))
	return nil
}

// Done is closed once the context has been closed or terminated.
func (c *Context) Done() <-chan struct{} {
	return c.done
}

// Err returns nil until Done is closed and a *TerminationError afterwards.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Terminated reports the signal that terminated the context, if any.
func Terminated(err error) (os.Signal, bool) {
	var term *TerminationError
	if errors.As(err, &term) && term.Signal != nil {
		return term.Signal, true
	}
	return nil, false
}
