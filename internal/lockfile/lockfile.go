// Package lockfile enforces the "exactly one instance" rule of spec.md §9:
// a PID file created with O_EXCL at bootstrap, refusing to start if another
// live process already holds it, and removed on clean shutdown. The PID
// file is created in place with O_CREATE|O_EXCL and fsynced; unlike
// internal/storage/snapshot.go it uses no temp file and no rename, since
// the exclusive create is itself the atomic step and the file's only
// content is the owning PID.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Lock holds an acquired PID file. The zero value is not usable; obtain one
// from Acquire.
type Lock struct {
	path string
}

// ErrHeldByLiveProcess is returned when the lock file names a process that
// is still alive.
type ErrHeldByLiveProcess struct {
	Path string
	PID  int
}

func (e *ErrHeldByLiveProcess) Error() string {
	return fmt.Sprintf("lockfile: %s is held by running process %d", e.Path, e.PID)
}

// Acquire creates path atomically with the current process's PID, failing if
// an existing lock file names a process that is still alive. A lock file
// left behind by a process that is no longer running (a stale lock) is
// silently reclaimed, matching spec.md §9's crash-recovery expectation that
// a kill -9'd instance does not permanently block the next run.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("lockfile: create parent directory: %w", err)
	}

	if err := tryCreate(path); err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("lockfile: create %s: %w", path, err)
		}
		if liveErr := checkStale(path); liveErr != nil {
			return nil, liveErr
		}
		// The existing file names a dead process; reclaim it.
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("lockfile: remove stale lock %s: %w", path, err)
		}
		if err := tryCreate(path); err != nil {
			return nil, fmt.Errorf("lockfile: recreate %s after reclaiming stale lock: %w", path, err)
		}
	}

	return &Lock{path: path}, nil
}

// tryCreate atomically creates path containing the current PID, failing
// with an os.IsExist error if it already exists.
func tryCreate(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		return err
	}
	return f.Sync()
}

// checkStale reads the PID recorded at path and returns ErrHeldByLiveProcess
// if that process is still alive. A corrupt or unreadable lock file is
// treated as stale, matching the crash-recovery intent: an unparsable lock
// should not leave the engine unable to start forever.
func checkStale(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path is the operator-configured lock file path
	if err != nil {
		return nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil
	}
	if pid <= 0 {
		return nil
	}
	if isAlive(pid) {
		return &ErrHeldByLiveProcess{Path: path, PID: pid}
	}
	return nil
}

// isAlive reports whether pid names a running process, using the
// kill(pid, 0) probe (sends no signal, just checks existence/permission).
func isAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}

// Release removes the lock file. Safe to call once, on clean shutdown.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lockfile: release %s: %w", l.path, err)
	}
	return nil
}
