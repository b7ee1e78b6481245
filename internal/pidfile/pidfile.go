// Package pidfile keeps a single opsdash server per data directory by
// holding an exclusive lock on a file that records the server's PID.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrLocked is returned by Acquire when another process holds the lock.
var ErrLocked = errors.New("another opsdash server is running")

// PIDFile is a held lock. The zero value and nil are both released.
type PIDFile struct {
	path string
	file *os.File
}

// Acquire creates path, locks it and writes the current PID. An empty
// path returns (nil, nil) so callers can treat the feature as optional.
func Acquire(path string) (*PIDFile, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open pid file: %w", err)
	}

	if err := lock(f); err != nil {
		f.Close()
		holder := "unknown"
		if pid, rerr := ReadPID(path); rerr == nil {
			holder = strconv.Itoa(pid)
		}
		return nil, fmt.Errorf("%w (pid %s): %v", ErrLocked, holder, err)
	}

	if err := writePID(f); err != nil {
		_ = unlock(f)
		f.Close()
		return nil, err
	}
	return &PIDFile{path: path, file: f}, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate pid file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek pid file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	return f.Sync()
}

// Close releases the lock and removes the file. It is safe to call on
// nil and more than once.
func (p *PIDFile) Close() error {
	if p == nil || p.file == nil {
		return nil
	}
	f := p.file
	p.file = nil

	_ = unlock(f)
	if err := f.Close(); err != nil {
		return fmt.Errorf("close pid file: %w", err)
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// Path returns the file path, or "" for nil.
func (p *PIDFile) Path() string {
	if p == nil {
		return ""
	}
	return p.path
}

// ReadPID parses the PID stored at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in file: %w", err)
	}
	return pid, nil
}
