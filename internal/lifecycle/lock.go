package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// errWouldBlock is returned by lockFile when another handle holds the lock
var errWouldBlock = errors.New("lock held by another process")

// Lock is the exclusive instance lock plus the PID file that names its holder
type Lock struct {
	lockPath string
	pidPath  string
	file     *os.File
}

// NewLock creates an unacquired lock
func NewLock(lockPath, pidPath string) *Lock {
	return &Lock{lockPath: lockPath, pidPath: pidPath}
}

// Acquire takes the lock without blocking and records this process's PID.
// Once the lock is held any existing PID file is stale and is replaced,
// whether or not the process it names is still alive.
func (l *Lock) Acquire() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0o700); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open lock file %s: %w", l.lockPath, err)
	}

	if err := lockFile(f); err != nil {
		f.Close()
		if errors.Is(err, errWouldBlock) {
			return &LockError{HolderPID: ReadPID(l.pidPath), Path: l.lockPath, Err: ErrAlreadyRunning}
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if pid := ReadPID(l.pidPath); pid > 0 && pid != os.Getpid() {
		if err := os.Remove(l.pidPath); err != nil && !os.IsNotExist(err) {
			unlockFile(f)
			f.Close()
			return &LockError{HolderPID: pid, Path: l.pidPath, Err: ErrStaleLock}
		}
	}

	if err := writePID(l.pidPath, os.Getpid()); err != nil {
		unlockFile(f)
		f.Close()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	l.file = f
	return nil
}

// Release removes the PID file and drops the lock. Safe to call when not held.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	if pid := ReadPID(l.pidPath); pid == os.Getpid() {
		_ = os.Remove(l.pidPath)
	}
	err := unlockFile(l.file)
	l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Held reports whether this Lock currently holds the lock
func (l *Lock) Held() bool {
	return l.file != nil
}

// Holder reports whether some process holds the lock and the PID recorded in
// the PID file. The check takes and immediately drops the lock, so it never
// blocks. A PID file with no lock holder behind it is stale and reported as
// not held.
func (l *Lock) Holder() (int, bool) {
	pid := ReadPID(l.pidPath)
	if l.file != nil {
		return os.Getpid(), true
	}

	f, err := os.OpenFile(l.lockPath, os.O_RDWR, 0)
	if err != nil {
		// no lock file means nothing ever held it
		return pid, false
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return pid, errors.Is(err, errWouldBlock)
	}
	_ = unlockFile(f)
	return pid, false
}

// ReadPID returns the PID recorded at path, or 0
func ReadPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// writePID replaces the PID file atomically
func writePID(path string, pid int) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)+"\n"), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
