//go:build windows

package platform

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32          = windows.NewLazySystemDLL("kernel32.dll")
	procCreateSem     = kernel32.NewProc("CreateSemaphoreW")
	procOpenSem       = kernel32.NewProc("OpenSemaphoreW")
	procReleaseSem    = kernel32.NewProc("ReleaseSemaphore")
)

const semaphoreAllAccess = 0x1F0003

// Semaphore is a named counting semaphore shared between processes.
type Semaphore struct {
	name   string
	handle windows.Handle
}

// CreateSemaphore creates a named semaphore with the given initial count.
// It fails with ErrAlreadyExists if the name is taken.
func CreateSemaphore(name string, initial uint) (*Semaphore, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("invalid semaphore name %q: %w", name, err)
	}

	const maxCount = 1 << 30
	h, _, callErr := procCreateSem.Call(
		0,
		uintptr(initial),
		uintptr(maxCount),
		uintptr(unsafe.Pointer(namePtr)),
	)
	if h == 0 {
		return nil, fmt.Errorf("failed to create semaphore %q: %w", name, mapWinErr(callErr))
	}
	// Call always surfaces the thread's last error; CreateSemaphoreW reports
	// a name collision through it while still returning a handle.
	if callErr == windows.ERROR_ALREADY_EXISTS {
		windows.CloseHandle(windows.Handle(h))
		return nil, fmt.Errorf("failed to create semaphore %q: %w", name, ErrAlreadyExists)
	}

	return &Semaphore{name: name, handle: windows.Handle(h)}, nil
}

// OpenSemaphore opens an existing named semaphore.
func OpenSemaphore(name string) (*Semaphore, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("invalid semaphore name %q: %w", name, err)
	}

	h, _, callErr := procOpenSem.Call(
		uintptr(semaphoreAllAccess),
		0,
		uintptr(unsafe.Pointer(namePtr)),
	)
	if h == 0 {
		return nil, fmt.Errorf("failed to open semaphore %q: %w", name, mapWinErr(callErr))
	}

	return &Semaphore{name: name, handle: windows.Handle(h)}, nil
}

// RemoveSemaphore is a no-op on Win32: a named semaphore disappears with its
// last handle.
func RemoveSemaphore(name string) error {
	return nil
}

// Wait decrements the semaphore, blocking up to timeout for a permit.
// It returns false when the timeout elapses.
func (s *Semaphore) Wait(timeout time.Duration) (bool, error) {
	millis := uint32(0)
	if timeout > 0 {
		millis = uint32(timeout / time.Millisecond)
	}

	rc, err := windows.WaitForSingleObject(s.handle, millis)
	switch rc {
	case windows.WAIT_OBJECT_0:
		return true, nil
	case uint32(windows.WAIT_TIMEOUT):
		return false, nil
	}
	return false, fmt.Errorf("failed to wait on semaphore %q: %w", s.name, err)
}

// Post increments the semaphore, releasing one waiter.
func (s *Semaphore) Post() error {
	rc, _, err := procReleaseSem.Call(uintptr(s.handle), 1, 0)
	if rc == 0 {
		return fmt.Errorf("failed to post semaphore %q: %w", s.name, err)
	}
	return nil
}

// Close releases the process-local handle.
func (s *Semaphore) Close() error {
	if s.handle == 0 {
		return nil
	}
	handle := s.handle
	s.handle = 0
	if err := windows.CloseHandle(handle); err != nil {
		return fmt.Errorf("failed to close semaphore %q: %w", s.name, err)
	}
	return nil
}
