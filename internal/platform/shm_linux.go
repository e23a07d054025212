//go:build linux

package platform

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Shared-memory objects live on the tmpfs mount POSIX shm_open uses.
const shmDir = "/dev/shm"

func shmPath(name string) string {
	return shmDir + "/" + name
}

// SharedMemory is a mapping of a named shared-memory object.
type SharedMemory struct {
	name string
	data []byte
}

// CreateSharedMemory creates a new zero-filled shared-memory object of the
// given size and maps it. It fails with ErrAlreadyExists if an object with
// the same name is present.
func CreateSharedMemory(name string, size int) (*SharedMemory, error) {
	fd, err := unix.Open(shmPath(name), unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0o666)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared memory %q: %w", name, mapErrno(err))
	}

	// The creating umask may have stripped the group/other bits.
	if err := unix.Fchmod(fd, 0o666); err != nil {
		unix.Close(fd)
		unix.Unlink(shmPath(name))
		return nil, fmt.Errorf("failed to chmod shared memory %q: %w", name, mapErrno(err))
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		unix.Unlink(shmPath(name))
		return nil, fmt.Errorf("failed to size shared memory %q: %w", name, mapErrno(err))
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		unix.Unlink(shmPath(name))
		return nil, fmt.Errorf("failed to map shared memory %q: %w", name, mapErrno(err))
	}

	return &SharedMemory{name: name, data: data}, nil
}

// OpenSharedMemory maps an existing shared-memory object at its current size.
func OpenSharedMemory(name string) (*SharedMemory, error) {
	fd, err := unix.Open(shmPath(name), unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open shared memory %q: %w", name, mapErrno(err))
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to stat shared memory %q: %w", name, mapErrno(err))
	}

	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to map shared memory %q: %w", name, mapErrno(err))
	}

	return &SharedMemory{name: name, data: data}, nil
}

// RemoveSharedMemory unlinks a shared-memory object. Existing mappings stay
// valid until unmapped.
func RemoveSharedMemory(name string) error {
	if err := unix.Unlink(shmPath(name)); err != nil {
		return fmt.Errorf("failed to remove shared memory %q: %w", name, mapErrno(err))
	}
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

// Close unmaps the region. The object itself is untouched.
func (m *SharedMemory) Close() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("failed to unmap shared memory %q: %w", m.name, err)
	}
	return nil
}

func mapErrno(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	switch errno {
	case unix.EEXIST:
		return ErrAlreadyExists
	case unix.ENOENT:
		return ErrNotFound
	case unix.EACCES, unix.EPERM:
		return ErrPermissionDenied
	}
	return &SystemError{Code: int(errno), Err: errno}
}
