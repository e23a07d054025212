//go:build windows

package platform

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// FileLock is an exclusive lock on a file, held for the lifetime of the
// owning handle. Opening the file with an empty share mode makes any second
// open fail, and the OS closes the handle when the holder dies.
type FileLock struct {
	path   string
	handle windows.Handle
}

// AcquireFileLock takes an exclusive lock on path, creating the file (and its
// directory) as needed. It fails with ErrAlreadyExists when another process
// holds the lock.
func AcquireFileLock(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	handle, err := openExclusive(path, windows.OPEN_ALWAYS)
	if err != nil {
		if err == windows.ERROR_SHARING_VIOLATION {
			return nil, fmt.Errorf("lock file %q is held: %w", path, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to lock %q: %w", path, mapWinErr(err))
	}

	return &FileLock{path: path, handle: handle}, nil
}

// Release closes the handle and removes the lock file.
func (l *FileLock) Release() error {
	if l.handle == 0 {
		return nil
	}
	handle := l.handle
	l.handle = 0

	err := windows.CloseHandle(handle)
	if rmErr := os.Remove(l.path); err == nil && !os.IsNotExist(rmErr) {
		err = rmErr
	}
	return err
}

// TryStealFileLock probes whether the lock at path is stale. If the file can
// be opened exclusively the previous holder is gone; the file is removed and
// true is returned. A held or missing lock returns false.
func TryStealFileLock(path string) bool {
	handle, err := openExclusive(path, windows.OPEN_EXISTING)
	if err != nil {
		return false
	}
	windows.CloseHandle(handle)
	os.Remove(path)
	return true
}

func openExclusive(path string, disposition uint32) (windows.Handle, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	return windows.CreateFile(
		pathPtr,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0, // no sharing: this is the lock
		nil,
		disposition,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
}
