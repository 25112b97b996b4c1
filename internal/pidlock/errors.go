package pidlock

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyLocked reports that the pid file exists and the wait for it
	// to disappear timed out or was not allowed.
	ErrAlreadyLocked = errors.New("pid file already locked")
	// ErrLockFailed reports that the pid file could not be created or written.
	ErrLockFailed = errors.New("failed to create pid file")
	// ErrNotLocked reports a release of a pid file that does not exist.
	ErrNotLocked = errors.New("pid file not locked")
	// ErrNotMyLock reports a release of a pid file that names another process.
	ErrNotMyLock = errors.New("pid file locked by another process")
	// ErrParse matches every *ParseError.
	ErrParse = errors.New("invalid pid file")
)

// ParseError reports pid file content that is not a positive process id.
type ParseError struct {
	Path    string
	Content string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid pid file %s: content %q: %v", e.Path, e.Content, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}
