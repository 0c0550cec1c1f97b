// Package filelock keeps two slurmled processes from driving the same LED
// hardware at once.
//
// The lock is an flock(2) on a file named after the GPIO chip, so it is
// released by the kernel when the holder exits, however it exits. The file
// records the holder's PID for the error message shown to a second process.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrHeld is returned by TryLock when another process holds the lock.
var ErrHeld = errors.New("lock held by another process")

// HeldError reports who holds a lock that could not be taken.
type HeldError struct {
	Path string
	PID  int // 0 when the holder did not record one
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s: held by pid %d", e.Path, e.PID)
	}
	return fmt.Sprintf("%s: held by another process", e.Path)
}

// Unwrap lets errors.Is match ErrHeld.
func (e *HeldError) Unwrap() error { return ErrHeld }

// FileLock provides cross-process mutual exclusion using flock(2).
type FileLock struct {
	path string
	file *os.File
}

// New creates a FileLock at path. Nothing is opened until TryLock.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// ForChip returns the lock guarding the given GPIO chip. Locks live in dir,
// or in the system temporary directory when dir is empty.
func ForChip(dir, chip string) *FileLock {
	if dir == "" {
		dir = os.TempDir()
	}
	name := strings.TrimPrefix(filepath.Base(chip), ".")
	if name == "" {
		name = "default"
	}
	return New(filepath.Join(dir, "slurmled-"+name+".lock"))
}

// Path returns the lock file path.
func (fl *FileLock) Path() string {
	return fl.path
}

// TryLock takes the lock without blocking. When another process holds it
// the returned error is a *HeldError.
func (fl *FileLock) TryLock() error {
	if fl.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(fl.path), 0755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return &HeldError{Path: fl.path, PID: readPID(fl.path)}
		}
		return fmt.Errorf("flock: %w", err)
	}

	if err := writePID(f); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return err
	}

	fl.file = f
	return nil
}

// Unlock releases the lock and closes the lock file. The file itself is left
// in place; removing it would race with a process about to lock it.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = fl.file.Close()
		fl.file = nil
		return fmt.Errorf("funlock: %w", err)
	}

	err := fl.file.Close()
	fl.file = nil
	return err
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
