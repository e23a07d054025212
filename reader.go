package zerobuffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/modelingevolution/zerobuffer-go/internal/platform"
)

// connectPollInterval is the cadence IsWriterConnected uses while waiting
// for a writer to attach.
const connectPollInterval = 100 * time.Millisecond

// Reader owns a ring: it creates the shared-memory object, both semaphores
// and the lock file, and destroys all of them on Close. Exactly one Reader
// per ring exists at any time, enforced by the advisory lock.
//
// Reader methods are not safe for concurrent use.
type Reader struct {
	name     string
	shm      *platform.SharedMemory
	lock     *platform.FileLock
	semData  *platform.Semaphore
	semSpace *platform.Semaphore
	layout   ringLayout

	payloadSize uint64
	nextSeq     uint64
	err         error // terminal protocol failure, latched

	closed atomic.Bool
	log    *zap.Logger
}

// NewReader creates the ring named name with the given geometry and becomes
// its reader. Stale resources left behind by dead processes are swept first.
// It fails with ErrReaderAlreadyConnected when a live reader holds the ring.
func NewReader(name string, cfg BufferConfig, opts ...Option) (*Reader, error) {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}
	log := o.log.With(zap.String("buffer", name))

	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if !hostIsLittleEndian {
		return nil, errors.New("big-endian hosts are not supported")
	}

	sweepStaleResources(log)

	lock, err := platform.AcquireFileLock(platform.LockPath(name))
	if err != nil {
		if errors.Is(err, platform.ErrAlreadyExists) {
			return nil, fmt.Errorf("buffer %q: %w", name, ErrReaderAlreadyConnected)
		}
		return nil, fmt.Errorf("failed to acquire reader lock: %w", err)
	}

	metaSize := align64(uint64(cfg.MetadataSize))
	payloadSize := align64(uint64(cfg.PayloadSize))
	total := int(oiebSize + metaSize + payloadSize)

	shm, err := createSharedMemoryFresh(name, total)
	if err != nil {
		lock.Release()
		return nil, err
	}

	b := oieb{mem: shm.Bytes()}
	b.initialize(metaSize, payloadSize, platform.CurrentPID())
	layout, err := layoutOf(shm.Bytes())
	if err != nil {
		// Cannot happen for a block we just initialized.
		teardown(name, shm, nil, nil, lock)
		return nil, err
	}

	semData, err := createSemaphoreFresh(dataSemName(name))
	if err != nil {
		teardown(name, shm, nil, nil, lock)
		return nil, err
	}
	semSpace, err := createSemaphoreFresh(spaceSemName(name))
	if err != nil {
		teardown(name, shm, semData, nil, lock)
		return nil, err
	}

	log.Debug("ring created",
		zap.Uint64("metadata_size", metaSize),
		zap.Uint64("payload_size", payloadSize))

	return &Reader{
		name:        name,
		shm:         shm,
		lock:        lock,
		semData:     semData,
		semSpace:    semSpace,
		layout:      layout,
		payloadSize: payloadSize,
		nextSeq:     1,
		log:         log,
	}, nil
}

// createSharedMemoryFresh creates the shared-memory object, displacing a
// leftover one once. The advisory lock is already held, so a name collision
// can only be debris from a previous reader.
func createSharedMemoryFresh(name string, size int) (*platform.SharedMemory, error) {
	shm, err := platform.CreateSharedMemory(name, size)
	if err == nil {
		return shm, nil
	}
	if !errors.Is(err, platform.ErrAlreadyExists) {
		return nil, fmt.Errorf("failed to create ring: %w", err)
	}
	platform.RemoveSharedMemory(name)
	if shm, err = platform.CreateSharedMemory(name, size); err != nil {
		return nil, fmt.Errorf("failed to create ring: %w", err)
	}
	return shm, nil
}

// createSemaphoreFresh mirrors createSharedMemoryFresh for the semaphores.
func createSemaphoreFresh(name string) (*platform.Semaphore, error) {
	sem, err := platform.CreateSemaphore(name, 0)
	if err == nil {
		return sem, nil
	}
	if !errors.Is(err, platform.ErrAlreadyExists) {
		return nil, fmt.Errorf("failed to create semaphore: %w", err)
	}
	platform.RemoveSemaphore(name)
	if sem, err = platform.CreateSemaphore(name, 0); err != nil {
		return nil, fmt.Errorf("failed to create semaphore: %w", err)
	}
	return sem, nil
}

// teardown unwinds a partially constructed ring.
func teardown(name string, shm *platform.SharedMemory, semData, semSpace *platform.Semaphore, lock *platform.FileLock) {
	if semSpace != nil {
		semSpace.Close()
		platform.RemoveSemaphore(spaceSemName(name))
	}
	if semData != nil {
		semData.Close()
		platform.RemoveSemaphore(dataSemName(name))
	}
	if shm != nil {
		shm.Close()
		platform.RemoveSharedMemory(name)
	}
	if lock != nil {
		lock.Release()
	}
}

// Metadata returns the metadata payload published by the writer, or nil if
// none has been published yet. The slice aliases shared memory and stays
// valid until Close.
func (r *Reader) Metadata() []byte {
	written := r.layout.oieb.metadataWritten()
	if written < 8 {
		return nil
	}
	length := binary.LittleEndian.Uint64(r.layout.metadata[:8])
	return r.layout.metadata[8 : 8+length]
}

// IsWriterConnected reports whether a live writer is attached. A positive
// wait polls until a writer shows up or the wait elapses.
func (r *Reader) IsWriterConnected(wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for {
		pid := r.layout.oieb.writerPID()
		if pid != 0 && platform.PIDAlive(pid) {
			return true
		}
		if wait <= 0 || time.Now().After(deadline) {
			return false
		}
		time.Sleep(connectPollInterval)
	}
}

// ReadFrame blocks until the next frame is available or timeout elapses.
// A timeout returns (nil, nil). Committed frames are always handed out
// first; ErrWriterDead is returned only once none are left: as soon as the
// backlog is drained if the writer disconnected gracefully, or when a wait
// for data times out while the recorded writer pid is no longer alive.
// Protocol failures (sequence gaps,
// corrupt headers) are terminal: every subsequent call returns the same
// error.
func (r *Reader) ReadFrame(timeout time.Duration) (*Frame, error) {
	if r.closed.Load() {
		return nil, fmt.Errorf("reader %q is closed", r.name)
	}
	if r.err != nil {
		return nil, r.err
	}

	deadline := time.Now().Add(timeout)
	for {
		// Serve pending records from ring state first: semaphore counts may
		// coalesce, so the OIEB is the authority on what is available.
		if r.layout.oieb.writtenCount() > r.layout.oieb.readCount() {
			return r.consumeFrame()
		}
		if r.writerGoneDrained() {
			return nil, ErrWriterDead
		}

		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		ok, err := r.semData.Wait(remaining)
		if err != nil {
			return nil, fmt.Errorf("failed waiting for data: %w", err)
		}
		if ok {
			continue
		}

		// Timed out. A writer that died mid-stream cannot post anymore.
		if pid := r.layout.oieb.writerPID(); pid != 0 && !platform.PIDAlive(pid) {
			return nil, ErrWriterDead
		}
		if r.writerGoneDrained() {
			return nil, ErrWriterDead
		}
		return nil, nil
	}
}

// writerGoneDrained reports the graceful-disconnect condition: a writer was
// here once (records exist), cleared its pid, and every record it committed
// has been read.
func (r *Reader) writerGoneDrained() bool {
	b := r.layout.oieb
	return b.writerPID() == 0 && b.writtenCount() > 0 &&
		b.writtenCount() <= b.readCount()
}

// consumeFrame decodes the record at the read position, handling wrap
// markers and the header-less wasted tail. The sem-w permit that woke the
// caller covers the wrap marker and the frame that follows it together.
func (r *Reader) consumeFrame() (*Frame, error) {
	b := r.layout.oieb
	wrapped := false
	for {
		pos := b.readPos()
		tail := r.payloadSize - pos

		// A tail shorter than a header is pure waste: the writer skipped it
		// without leaving a marker.
		if tail < frameHeaderSize {
			b.creditPayloadFree(tail)
			b.storeReadPos(0)
			continue
		}

		size := binary.LittleEndian.Uint64(r.layout.payload[pos:])
		seq := binary.LittleEndian.Uint64(r.layout.payload[pos+8:])

		if size == 0 {
			// Wrap marker: reclaim the rest of the tail and restart at the
			// ring head. Markers count as records but carry no permit of
			// their own.
			if wrapped {
				return nil, r.fail(fmt.Errorf("%w: wrap marker at ring head", ErrInvalidOIEB))
			}
			b.creditPayloadFree(tail)
			b.storeReadPos(0)
			b.incReadCount()
			wrapped = true
			continue
		}

		record := frameHeaderSize + size
		if size > r.payloadSize-frameHeaderSize || record > tail {
			// A committed frame never overruns the tail: the writer wraps
			// instead. This header is a wrap marker the wrapped record has
			// already overwritten, which happens when the ring drained and
			// the record claims the head past the marker's offset. Follow
			// the wrap once; the marker was counted when it was written.
			if wrapped {
				return nil, r.fail(fmt.Errorf("%w: frame of %d bytes overruns ring at offset %d",
					ErrInvalidOIEB, size, pos))
			}
			b.creditPayloadFree(tail)
			b.storeReadPos(0)
			b.incReadCount()
			wrapped = true
			continue
		}

		if seq != r.nextSeq {
			return nil, r.fail(&SequenceError{Expected: r.nextSeq, Got: seq})
		}

		next := pos + record
		if next == r.payloadSize {
			next = 0
		}
		b.storeReadPos(next)
		b.incReadCount()
		r.nextSeq++

		return &Frame{
			data:       r.layout.payload[pos+frameHeaderSize : pos+record],
			seq:        seq,
			recordSize: record,
			reader:     r,
		}, nil
	}
}

// fail latches a terminal protocol error: the ring is unusable until the
// Reader is torn down.
func (r *Reader) fail(err error) error {
	r.err = err
	r.log.Error("ring is corrupt", zap.Error(err))
	return err
}

// releaseRecord is the Frame release path: credit the bytes back and signal
// the writer exactly once.
func (r *Reader) releaseRecord(size uint64) {
	if r.closed.Load() {
		return
	}
	r.layout.oieb.creditPayloadFree(size)
	if err := r.semSpace.Post(); err != nil {
		r.log.Warn("failed to signal released space", zap.Error(err))
	}
}

// Close destroys the ring: the pid slot is cleared, the writer is woken so
// it can observe the departure, and the shared memory, semaphores and lock
// file are removed. Frames still outstanding become invalid.
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.layout.oieb.storeReaderPID(0)
	if err := r.semSpace.Post(); err != nil {
		r.log.Debug("failed to wake writer on close", zap.Error(err))
	}

	r.semData.Close()
	r.semSpace.Close()
	if err := platform.RemoveSemaphore(dataSemName(r.name)); err != nil {
		r.log.Warn("failed to remove data semaphore", zap.Error(err))
	}
	if err := platform.RemoveSemaphore(spaceSemName(r.name)); err != nil {
		r.log.Warn("failed to remove space semaphore", zap.Error(err))
	}

	if err := r.shm.Close(); err != nil {
		r.log.Warn("failed to unmap ring", zap.Error(err))
	}
	if err := platform.RemoveSharedMemory(r.name); err != nil {
		r.log.Warn("failed to remove ring", zap.Error(err))
	}
	if err := r.lock.Release(); err != nil {
		r.log.Warn("failed to release reader lock", zap.Error(err))
	}
	return nil
}
