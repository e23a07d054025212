//go:build windows

package platform

import (
	"os"

	"golang.org/x/sys/windows"
)

// CurrentPID returns the calling process id.
func CurrentPID() uint64 {
	return uint64(os.Getpid())
}

// PIDAlive reports whether a process with the given id is still running.
func PIDAlive(pid uint64) bool {
	if pid == 0 {
		return false
	}

	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		// Access denied still proves the process exists.
		return err == windows.ERROR_ACCESS_DENIED
	}
	defer windows.CloseHandle(handle)

	var code uint32
	if err := windows.GetExitCodeProcess(handle, &code); err != nil {
		return false
	}
	const stillActive = 259
	return code == stillActive
}

// ProcessStartTime returns the creation time of the given process in 100 ns
// units since the Windows epoch. Callers use it to cross-check pid reuse;
// absence is not an error.
func ProcessStartTime(pid uint64) (uint64, bool) {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return 0, false
	}
	defer windows.CloseHandle(handle)

	var creation, exit, kernel, user windows.Filetime
	if err := windows.GetProcessTimes(handle, &creation, &exit, &kernel, &user); err != nil {
		return 0, false
	}
	return uint64(creation.HighDateTime)<<32 | uint64(creation.LowDateTime), true
}
