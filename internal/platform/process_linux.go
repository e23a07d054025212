//go:build linux

package platform

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// CurrentPID returns the calling process id.
func CurrentPID() uint64 {
	return uint64(os.Getpid())
}

// PIDAlive reports whether a process with the given id exists. EPERM counts
// as alive: the process is there, we just may not signal it.
func PIDAlive(pid uint64) bool {
	if pid == 0 {
		return false
	}
	err := unix.Kill(int(pid), 0)
	return err == nil || err == unix.EPERM
}

// ProcessStartTime returns the kernel start time (clock ticks since boot) of
// the given process, read from /proc/<pid>/stat field 22. Callers use it to
// cross-check pid reuse; absence is not an error.
func ProcessStartTime(pid uint64) (uint64, bool) {
	buf, err := os.ReadFile("/proc/" + strconv.FormatUint(pid, 10) + "/stat")
	if err != nil {
		return 0, false
	}

	// The comm field may contain spaces and parentheses; fields are counted
	// from the last ')'.
	stat := string(buf)
	idx := strings.LastIndexByte(stat, ')')
	if idx < 0 {
		return 0, false
	}
	fields := strings.Fields(stat[idx+1:])

	// Field 22 overall; fields[0] here is field 3 (state).
	const startTimeIdx = 22 - 3
	if len(fields) <= startTimeIdx {
		return 0, false
	}
	ticks, err := strconv.ParseUint(fields[startTimeIdx], 10, 64)
	if err != nil {
		return 0, false
	}
	return ticks, true
}
