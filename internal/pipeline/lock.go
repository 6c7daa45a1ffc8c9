//go:build !windows

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	ckerrors "esmloader/internal/errors"
)

const lockFile = "build.lock"

// Lock is an exclusive, process-level hold on a project's build.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock takes the build lock in stateDir without blocking. It fails
// with BUILD_LOCKED when another process holds it.
func AcquireLock(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	path := filepath.Join(stateDir, lockFile)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		msg := "build is locked by another process"
		if content, readErr := os.ReadFile(path); readErr == nil && len(content) > 0 {
			msg += " (PID " + strings.TrimSpace(string(content)) + ")"
		}
		return nil, ckerrors.New(ckerrors.BuildLocked, msg, err)
	}

	if err := writePID(file); err != nil {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()
		return nil, fmt.Errorf("writing PID to lock file: %w", err)
	}
	return &Lock{path: path, file: file}, nil
}

func writePID(file *os.File) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.Seek(0, 0); err != nil {
		return err
	}
	_, err := file.WriteString(strconv.Itoa(os.Getpid()))
	return err
}

// Release drops the lock and removes the lock file.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	_ = os.Remove(l.path)
	l.file = nil
}
