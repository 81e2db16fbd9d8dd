package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/ojdaemon/ojd/internal/ojerr"
)

// Lock is an exclusive, PID-tagged flock over the state directory,
// preventing two daemons from ever opening the same WAL concurrently.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock opens (creating if needed) stateDir/ojd.lock and takes a
// non-blocking exclusive flock on it.
func AcquireLock(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	path := filepath.Join(stateDir, "ojd.lock")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, ojerr.DurabilityLocked(stateDir)
		}
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}

	file.Truncate(0)
	fmt.Fprintf(file, "%d\n", os.Getpid())

	return &Lock{path: path, file: file}, nil
}

// Release unlocks and closes the lock file, then removes it.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing lock file: %w", err)
	}
	os.Remove(l.path)
	l.file = nil
	return nil
}
