//go:build linux

package platform

/*
#cgo LDFLAGS: -lpthread

#include <errno.h>
#include <fcntl.h>
#include <semaphore.h>
#include <stdlib.h>
#include <time.h>

// sem_open is variadic; wrap it so cgo can call it. SEM_FAILED is collapsed
// to NULL so the Go side has a single failure value to test.
static sem_t *zb_sem_create(const char *name, unsigned int value) {
	sem_t *s = sem_open(name, O_CREAT | O_EXCL, 0666, value);
	return s == SEM_FAILED ? NULL : s;
}

static sem_t *zb_sem_open(const char *name) {
	sem_t *s = sem_open(name, 0);
	return s == SEM_FAILED ? NULL : s;
}
*/
import "C"

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Semaphore is a named counting semaphore shared between processes.
type Semaphore struct {
	name string
	sem  *C.sem_t
}

// POSIX named semaphores live in their own slash-rooted namespace.
func semName(name string) *C.char {
	return C.CString("/" + name)
}

// CreateSemaphore creates a named semaphore with the given initial count.
// It fails with ErrAlreadyExists if the name is taken.
func CreateSemaphore(name string, initial uint) (*Semaphore, error) {
	cName := semName(name)
	defer C.free(unsafe.Pointer(cName))

	sem, err := C.zb_sem_create(cName, C.uint(initial))
	if sem == nil {
		return nil, fmt.Errorf("failed to create semaphore %q: %w", name, mapErrno(errnoOf(err)))
	}

	return &Semaphore{name: name, sem: sem}, nil
}

// OpenSemaphore opens an existing named semaphore.
func OpenSemaphore(name string) (*Semaphore, error) {
	cName := semName(name)
	defer C.free(unsafe.Pointer(cName))

	sem, err := C.zb_sem_open(cName)
	if sem == nil {
		return nil, fmt.Errorf("failed to open semaphore %q: %w", name, mapErrno(errnoOf(err)))
	}

	return &Semaphore{name: name, sem: sem}, nil
}

// RemoveSemaphore unlinks a named semaphore. Open handles stay usable.
func RemoveSemaphore(name string) error {
	cName := semName(name)
	defer C.free(unsafe.Pointer(cName))

	if rc, err := C.sem_unlink(cName); rc != 0 {
		return fmt.Errorf("failed to remove semaphore %q: %w", name, mapErrno(errnoOf(err)))
	}
	return nil
}

// Wait decrements the semaphore, blocking up to timeout for a permit.
// It returns false when the timeout elapses. A non-positive timeout probes
// without blocking.
func (s *Semaphore) Wait(timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		for {
			rc, err := C.sem_trywait(s.sem)
			if rc == 0 {
				return true, nil
			}
			switch errnoOf(err) {
			case unix.EAGAIN:
				return false, nil
			case unix.EINTR:
				continue
			}
			return false, fmt.Errorf("failed to wait on semaphore %q: %w", s.name, err)
		}
	}

	deadline := time.Now().Add(timeout)
	abs := C.struct_timespec{
		tv_sec:  C.long(deadline.Unix()),
		tv_nsec: C.long(deadline.Nanosecond()),
	}
	for {
		rc, err := C.sem_timedwait(s.sem, &abs)
		if rc == 0 {
			return true, nil
		}
		switch errnoOf(err) {
		case unix.ETIMEDOUT:
			return false, nil
		case unix.EINTR:
			continue
		}
		return false, fmt.Errorf("failed to wait on semaphore %q: %w", s.name, err)
	}
}

// Post increments the semaphore, releasing one waiter.
func (s *Semaphore) Post() error {
	if rc, err := C.sem_post(s.sem); rc != 0 {
		return fmt.Errorf("failed to post semaphore %q: %w", s.name, err)
	}
	return nil
}

// Close releases the process-local handle. The named semaphore persists.
func (s *Semaphore) Close() error {
	if s.sem == nil {
		return nil
	}
	sem := s.sem
	s.sem = nil
	if rc, err := C.sem_close(sem); rc != 0 {
		return fmt.Errorf("failed to close semaphore %q: %w", s.name, err)
	}
	return nil
}

func errnoOf(err error) unix.Errno {
	if errno, ok := err.(unix.Errno); ok {
		return errno
	}
	return 0
}
