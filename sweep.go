package zerobuffer

import (
	"errors"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/modelingevolution/zerobuffer-go/internal/platform"
)

// sweepStaleResources scans the lock directory and removes rings whose
// reader and writer are both gone. Everything here is best effort: a ring
// that cannot be inspected is left alone.
func sweepStaleResources(log *zap.Logger) {
	entries, err := os.ReadDir(platform.LockDir())
	if err != nil {
		return
	}

	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".lock")
		if !ok || entry.IsDir() {
			continue
		}
		if stale, err := SweepRing(name, false); err == nil && stale {
			log.Debug("removed stale ring", zap.String("stale_buffer", name))
		}
	}
}

// SweepRing probes the ring named name for staleness: its advisory lock is
// unheld and neither the recorded reader nor writer process is alive. Unless
// dryRun is set, a stale ring's shared memory and semaphores are removed.
// With dryRun set, only the recorded pids are probed; the lock is not
// tested. Reports whether the ring was stale.
func SweepRing(name string, dryRun bool) (bool, error) {
	if dryRun {
		// Probe the pids without touching the lock file.
		shm, err := platform.OpenSharedMemory(name)
		if err != nil {
			return false, err
		}
		defer shm.Close()
		layout, err := layoutOf(shm.Bytes())
		if err != nil {
			return true, nil
		}
		return !platform.PIDAlive(layout.oieb.readerPID()) &&
			!platform.PIDAlive(layout.oieb.writerPID()), nil
	}

	if !platform.TryStealFileLock(platform.LockPath(name)) {
		return false, nil
	}

	// The lock was stale. If the ring's processes are gone too, the whole
	// resource set is debris.
	shm, err := platform.OpenSharedMemory(name)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			// Lock file debris without a ring; the semaphores may linger.
			platform.RemoveSemaphore(dataSemName(name))
			platform.RemoveSemaphore(spaceSemName(name))
			return true, nil
		}
		return false, err
	}

	stale := false
	if layout, err := layoutOf(shm.Bytes()); err != nil {
		stale = true // unrecognizable ring under a stale lock
	} else {
		stale = !platform.PIDAlive(layout.oieb.readerPID()) &&
			!platform.PIDAlive(layout.oieb.writerPID())
	}
	shm.Close()

	if stale {
		platform.RemoveSharedMemory(name)
		platform.RemoveSemaphore(dataSemName(name))
		platform.RemoveSemaphore(spaceSemName(name))
	}
	return stale, nil
}
