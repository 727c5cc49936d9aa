// Package runlock guards against overlapping scheduled runs. The snapshot
// files are single-writer; two reports touching the same state directory
// concurrently would race on them, so a run acquires an exclusive lockfile
// before doing anything else and a second invocation fails fast.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrHeld is returned when another run already holds the lock.
var ErrHeld = errors.New("run lock already held")

// Lock is a held run lock.
type Lock struct {
	path string
}

// Acquire creates the lockfile exclusively and writes the holder PID into
// it. If the file already exists the lock is held elsewhere, possibly by
// a crashed run, which an operator clears by deleting the file.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("runlock: create dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if os.IsExist(err) {
		return nil, fmt.Errorf("runlock: %s: %w", path, ErrHeld)
	}
	if err != nil {
		return nil, fmt.Errorf("runlock: %s: %w", path, err)
	}

	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(path)
		if werr != nil {
			return nil, fmt.Errorf("runlock: write pid: %w", werr)
		}
		return nil, fmt.Errorf("runlock: close: %w", cerr)
	}

	return &Lock{path: path}, nil
}

// Release removes the lockfile.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("runlock: release %s: %w", l.path, err)
	}
	return nil
}
