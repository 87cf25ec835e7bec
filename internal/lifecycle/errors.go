// Package lifecycle manages the single reviewd instance per run directory:
// the exclusive lock and PID file, detached start, graceful stop and status.
package lifecycle

import (
	"errors"
	"fmt"
)

// Process exit codes
const (
	ExitOK             = 0
	ExitError          = 1
	ExitAlreadyRunning = 3
	ExitNotRunning     = 4
	ExitStaleLock      = 5
)

var (
	// ErrAlreadyRunning means another live process holds the lock
	ErrAlreadyRunning = errors.New("already running")
	// ErrNotRunning means no live reviewd process was found
	ErrNotRunning = errors.New("not running")
	// ErrStaleLock means a dead process left a PID file that could not be removed
	ErrStaleLock = errors.New("stale lock")
)

// LockError carries the PID recorded by the lock holder
type LockError struct {
	HolderPID int
	Path      string
	Err       error
}

func (e *LockError) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("reviewd %v (PID %d, %s)", e.Err, e.HolderPID, e.Path)
	}
	return fmt.Sprintf("reviewd %v (%s)", e.Err, e.Path)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error to the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrAlreadyRunning):
		return ExitAlreadyRunning
	case errors.Is(err, ErrNotRunning):
		return ExitNotRunning
	case errors.Is(err, ErrStaleLock):
		return ExitStaleLock
	default:
		return ExitError
	}
}
