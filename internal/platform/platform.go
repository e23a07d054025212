// Package platform provides the named OS primitives the ring protocol is
// built on: shared-memory objects, counting semaphores, advisory file locks
// and process liveness probes.
//
// Creating, opening and removing shared memory and semaphores, and taking a
// file lock, report failures through a small closed set: three sentinel
// errors for the conditions callers react to, and SystemError for every
// other OS failure, so "the name is taken", "the name does not exist",
// "access refused" and "something else went wrong" stay distinguishable on
// every platform. Waiting on, posting and closing a semaphore, unmapping
// shared memory, creating the lock directory or file and releasing a lock
// wrap the OS error as returned, without this mapping.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrAlreadyExists is reported when a named resource is created while
	// another live instance holds the same name.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrNotFound is reported when a named resource is opened or removed
	// but no such resource exists.
	ErrNotFound = errors.New("resource not found")

	// ErrPermissionDenied is reported when the OS refuses access to an
	// existing resource.
	ErrPermissionDenied = errors.New("permission denied")
)

// SystemError carries an OS failure none of the sentinels cover. Code is the
// platform error number (errno on POSIX, the Win32 error code on Windows);
// the raw error stays reachable through Unwrap.
type SystemError struct {
	Code int
	Err  error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("system error %d: %v", e.Code, e.Err)
}

func (e *SystemError) Unwrap() error {
	return e.Err
}

// LockDir returns the directory holding advisory lock files, one per ring.
func LockDir() string {
	return filepath.Join(os.TempDir(), "zerobuffer")
}

// LockPath returns the advisory lock file path for the given buffer name.
func LockPath(name string) string {
	return filepath.Join(LockDir(), name+".lock")
}
