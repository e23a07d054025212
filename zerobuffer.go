// Package zerobuffer implements a single-producer single-consumer zero-copy
// IPC channel over a named shared-memory ring buffer.
//
// A ring is created and owned by a Reader and attached to by a Writer, the
// two typically living in different processes. The first 128 bytes of the
// shared-memory object form the operation info exchange block (OIEB), a
// little-endian control structure both sides mutate; frame data flows through
// the payload ring that follows it. Two named counting semaphores carry the
// only cross-process signalling: "sem-w-{name}" (data available) and
// "sem-r-{name}" (space available). An advisory lock file marks the reader
// as alive and lets a later reader sweep resources a crashed one left behind.
//
// Frames are borrowed, not copied: ReadFrame hands out a view into the
// mapped ring, and releasing the frame is what returns its bytes to the
// writer.
package zerobuffer

import (
	"errors"
	"strings"
	"unsafe"

	"go.uber.org/zap"
)

const (
	// blockAlign is the boundary the OIEB, metadata block and payload ring
	// are aligned to. It matches the cache-line size on the platforms the
	// wire format targets.
	blockAlign = 64

	// frameHeaderSize is the size of the per-record header in the payload
	// ring: u64 payload size followed by u64 sequence number.
	frameHeaderSize = 16

	// maxNameLen bounds buffer names so the derived shared-memory,
	// semaphore and lock-file names stay within POSIX NAME_MAX and Win32
	// MAX_PATH limits.
	maxNameLen = 240
)

// The OIEB and frame headers are little-endian on the wire, and the hot
// fields are accessed through sync/atomic on the mapped words directly, so
// the host byte order has to match. All supported targets are little-endian;
// this guards against a silent port to one that is not.
var hostIsLittleEndian = func() bool {
	probe := uint16(1)
	return *(*byte)(unsafe.Pointer(&probe)) == 1
}()

func align64(v uint64) uint64 {
	return (v + blockAlign - 1) &^ uint64(blockAlign-1)
}

// dataSemName returns the name of the "data available" semaphore, posted by
// the writer after each committed frame.
func dataSemName(name string) string {
	return "sem-w-" + name
}

// spaceSemName returns the name of the "space available" semaphore, posted
// by the reader when a frame is released.
func spaceSemName(name string) string {
	return "sem-r-" + name
}

func validateName(name string) error {
	if name == "" || len(name) > maxNameLen {
		return errors.New("buffer name must be non-empty and at most 240 bytes")
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return errors.New("buffer name must not contain path separators")
	}
	return nil
}

type options struct {
	log *zap.Logger
}

func newOptions() *options {
	return &options{
		log: zap.NewNop(),
	}
}

// Option configures a Reader or a Writer.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}
