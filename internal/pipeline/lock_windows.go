//go:build windows

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const lockFile = "build.lock"

// Lock is a hold on a project's build. On Windows it only records the PID;
// concurrent builds are not prevented.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock writes the lock file in stateDir.
func AcquireLock(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	path := filepath.Join(stateDir, lockFile)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if _, err := file.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("writing PID to lock file: %w", err)
	}
	return &Lock{path: path, file: file}, nil
}

// Release removes the lock file.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = l.file.Close()
	_ = os.Remove(l.path)
	l.file = nil
}
