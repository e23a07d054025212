//go:build linux

package platform

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// FileLock is an exclusive advisory lock on a file, held for the lifetime of
// the owning handle. The kernel drops the lock when the holder dies, which is
// what makes the lock file usable as a liveness marker.
type FileLock struct {
	path string
	file *os.File
}

// AcquireFileLock takes an exclusive non-blocking lock on path, creating the
// file (and its directory) as needed. It fails with ErrAlreadyExists when
// another process holds the lock.
func AcquireFileLock(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %q: %w", path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("lock file %q is held: %w", path, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to lock %q: %w", path, mapErrno(err))
	}

	return &FileLock{path: path, file: file}, nil
}

// Release unlocks and removes the lock file.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}
	file := l.file
	l.file = nil

	unix.Flock(int(file.Fd()), unix.LOCK_UN)
	err := file.Close()
	if rmErr := os.Remove(l.path); err == nil {
		err = rmErr
	}
	return err
}

// TryStealFileLock probes whether the lock at path is stale. If the lock can
// be taken the previous holder is gone; the file is removed and true is
// returned. A held or missing lock returns false.
func TryStealFileLock(path string) bool {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer file.Close()

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return false
	}

	os.Remove(path)
	unix.Flock(int(file.Fd()), unix.LOCK_UN)
	return true
}
