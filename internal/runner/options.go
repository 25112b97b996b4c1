package runner

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"daemonkit/internal/config"
	"daemonkit/internal/daemon"
	"daemonkit/internal/pidlock"
)

// streamFiles holds the opened redirection targets. A nil entry selects the
// null device. An unset stderr shares the stdout target.
type streamFiles struct {
	stdin, stdout, stderr *os.File
}

func (s *streamFiles) Close() {
	seen := make(map[*os.File]bool, 3)
	for _, f := range []*os.File{s.stdin, s.stdout, s.stderr} {
		if f == nil || seen[f] || f == os.Stdin || f == os.Stdout || f == os.Stderr {
			continue
		}
		seen[f] = true
		_ = f.Close()
	}
}

// openStreams opens the configured stream targets. In foreground mode the
// process keeps its own streams.
func (r *Runner) openStreams() (*streamFiles, error) {
	if r.foreground {
		return &streamFiles{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}, nil
	}
	cfg := r.cfg.Streams
	files := &streamFiles{}
	if cfg.Stdin != "" {
		f, err := os.Open(cfg.Stdin)
		if err != nil {
			return nil, fmt.Errorf("open stdin target: %w", err)
		}
		files.stdin = f
	}
	if cfg.Stdout != "" {
		f, err := openAppend(cfg.Stdout)
		if err != nil {
			files.Close()
			return nil, fmt.Errorf("open stdout target: %w", err)
		}
		files.stdout = f
	}
	switch {
	case cfg.Stderr == "" || cfg.Stderr == cfg.Stdout:
		files.stderr = files.stdout
	default:
		f, err := openAppend(cfg.Stderr)
		if err != nil {
			files.Close()
			return nil, fmt.Errorf("open stderr target: %w", err)
		}
		files.stderr = f
	}
	return files, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
}

// contextOptions translates configuration into daemon context options.
func (r *Runner) contextOptions(streams *streamFiles) ([]daemon.Option, error) {
	d := r.cfg.Daemon
	uid, gid, err := resolveOwner(d.User, d.Group)
	if err != nil {
		return nil, err
	}

	lockTimeout := r.cfg.LockTimeout()
	if lockTimeout < 0 {
		lockTimeout = pidlock.WaitForever
	}
	opts := []daemon.Option{
		daemon.WithPIDFile(pidlock.New(d.PIDFile, pidlock.WithPollInterval(r.cfg.PollInterval()))),
		daemon.WithLockTimeout(lockTimeout),
		daemon.WithChrootDirectory(d.ChrootDirectory),
		daemon.WithWorkingDirectory(d.WorkingDirectory),
		daemon.WithUmask(d.Umask),
		daemon.WithUID(uid),
		daemon.WithGID(gid),
		daemon.WithStdin(streams.stdin),
		daemon.WithStdout(streams.stdout),
		daemon.WithStderr(streams.stderr),
		daemon.WithLogger(r.baseLogger),
	}

	if len(d.FilesPreserve) > 0 {
		preserve := make([]daemon.Descriptor, 0, len(d.FilesPreserve))
		for _, fd := range d.FilesPreserve {
			preserve = append(preserve, daemon.FD(fd))
		}
		opts = append(opts, daemon.WithFilesPreserve(preserve...))
	}

	switch {
	case r.foreground:
		signals := daemon.DefaultSignalMap()
		signals[syscall.SIGINT] = daemon.Terminate
		opts = append(opts, daemon.WithDetachProcess(false), daemon.WithSignalMap(signals))
	case d.Detach == config.DetachAlways:
		opts = append(opts, daemon.WithDetachProcess(true))
	case d.Detach == config.DetachNever:
		opts = append(opts, daemon.WithDetachProcess(false))
	}
	return opts, nil
}

var (
	lookupUser  = user.Lookup
	lookupGroup = user.LookupGroup
)

// resolveOwner maps user and group names or numeric ids to ids. Empty values
// keep the current identity; a user without a group selects the user's
// primary group.
func resolveOwner(userName, groupName string) (uid, gid int, err error) {
	uid, gid = os.Getuid(), os.Getgid()
	if userName != "" {
		if id, convErr := strconv.Atoi(userName); convErr == nil {
			uid = id
		} else {
			u, err := lookupUser(userName)
			if err != nil {
				return 0, 0, fmt.Errorf("resolve daemon user %q: %w", userName, err)
			}
			if uid, err = strconv.Atoi(u.Uid); err != nil {
				return 0, 0, fmt.Errorf("resolve daemon user %q: %w", userName, err)
			}
			if groupName == "" {
				if gid, err = strconv.Atoi(u.Gid); err != nil {
					return 0, 0, fmt.Errorf("resolve daemon user %q: %w", userName, err)
				}
			}
		}
	}
	if groupName != "" {
		if id, convErr := strconv.Atoi(groupName); convErr == nil {
			gid = id
		} else {
			g, err := lookupGroup(groupName)
			if err != nil {
				return 0, 0, fmt.Errorf("resolve daemon group %q: %w", groupName, err)
			}
			if gid, err = strconv.Atoi(g.Gid); err != nil {
				return 0, 0, fmt.Errorf("resolve daemon group %q: %w", groupName, err)
			}
		}
	}
	if uid < 0 || gid < 0 {
		return 0, 0, errors.New("daemon user and group ids must be non-negative")
	}
	return uid, gid, nil
}
