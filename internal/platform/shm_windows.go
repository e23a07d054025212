//go:build windows

package platform

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// SharedMemory is a view of a named file-mapping object backed by the pager.
type SharedMemory struct {
	name   string
	handle windows.Handle
	addr   uintptr
	data   []byte
}

// CreateSharedMemory creates a named pagefile-backed mapping of the given
// size and maps a zero-filled view of it. It fails with ErrAlreadyExists if
// a mapping with the same name is already present.
func CreateSharedMemory(name string, size int) (*SharedMemory, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("invalid shared memory name %q: %w", name, err)
	}

	handle, err := windows.CreateFileMapping(
		windows.InvalidHandle,
		nil,
		windows.PAGE_READWRITE,
		uint32(uint64(size)>>32),
		uint32(uint64(size)&0xFFFFFFFF),
		namePtr,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared memory %q: %w", name, mapWinErr(err))
	}
	// CreateFileMapping opens the existing object and reports the conflict
	// only through the last error value.
	if windows.GetLastError() == windows.ERROR_ALREADY_EXISTS {
		windows.CloseHandle(handle)
		return nil, fmt.Errorf("failed to create shared memory %q: %w", name, ErrAlreadyExists)
	}

	return mapView(name, handle, size)
}

// OpenSharedMemory maps an existing named mapping. Win32 does not expose the
// mapping size, so the caller reads the size from the mapped control block;
// the view covers the whole object.
func OpenSharedMemory(name string) (*SharedMemory, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("invalid shared memory name %q: %w", name, err)
	}

	handle, err := windows.OpenFileMapping(windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, false, namePtr)
	if err != nil {
		return nil, fmt.Errorf("failed to open shared memory %q: %w", name, mapWinErr(err))
	}

	return mapView(name, handle, 0)
}

func mapView(name string, handle windows.Handle, size int) (*SharedMemory, error) {
	addr, err := windows.MapViewOfFile(handle, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(handle)
		return nil, fmt.Errorf("failed to map shared memory %q: %w", name, mapWinErr(err))
	}

	viewSize := size
	if viewSize == 0 {
		var info windows.MemoryBasicInformation
		if err := windows.VirtualQuery(addr, &info, unsafe.Sizeof(info)); err != nil {
			windows.UnmapViewOfFile(addr)
			windows.CloseHandle(handle)
			return nil, fmt.Errorf("failed to query shared memory %q: %w", name, err)
		}
		viewSize = int(info.RegionSize)
	}

	return &SharedMemory{
		name:   name,
		handle: handle,
		addr:   addr,
		data:   unsafe.Slice((*byte)(unsafe.Pointer(addr)), viewSize),
	}, nil
}

// RemoveSharedMemory is a no-op on Win32: a named mapping disappears with its
// last handle.
func RemoveSharedMemory(name string) error {
	return nil
}

// Bytes returns the mapped region.
func (m *SharedMemory) Bytes() []byte {
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *SharedMemory) Size() int {
	return len(m.data)
}

// Close unmaps the view and drops the mapping handle.
func (m *SharedMemory) Close() error {
	if m.addr == 0 {
		return nil
	}
	addr, handle := m.addr, m.handle
	m.addr, m.data = 0, nil

	err := windows.UnmapViewOfFile(addr)
	if closeErr := windows.CloseHandle(handle); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to unmap shared memory %q: %w", m.name, err)
	}
	return nil
}

func mapWinErr(err error) error {
	var errno windows.Errno
	if !errors.As(err, &errno) {
		return err
	}
	switch errno {
	case windows.ERROR_ALREADY_EXISTS:
		return ErrAlreadyExists
	case windows.ERROR_FILE_NOT_FOUND:
		return ErrNotFound
	case windows.ERROR_ACCESS_DENIED:
		return ErrPermissionDenied
	}
	return &SystemError{Code: int(errno), Err: errno}
}
