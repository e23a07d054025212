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

// livenessWindow is the cadence of reader-death re-checks while a
// reservation waits for space. It bounds how long a writer can stay blocked
// on a dead peer, not how long a reservation may take.
const livenessWindow = 5 * time.Second

// reservation is an open zero-copy slot: the header is already in the ring,
// the commit publishes it. A reservation that wrapped the ring also owns the
// wrap marker left at the old tail; the marker becomes visible in the record
// count only at commit, so the reader never chases records that are still
// being filled.
type reservation struct {
	offset uint64
	total  uint64
	seq    uint64
	marker bool
}

// Writer attaches to an existing ring. It publishes metadata at most once
// and appends frames; it never destroys the ring. At most one Writer per
// ring is live at a time, enforced through the writer pid slot.
//
// Writer methods are not safe for concurrent use: a reservation must be
// committed before the next one starts.
type Writer struct {
	name     string
	shm      *platform.SharedMemory
	semData  *platform.Semaphore
	semSpace *platform.Semaphore
	layout   ringLayout

	payloadSize  uint64
	nextSeq      uint64
	metadataDone bool
	pendingFrame *reservation
	pendingMeta  uint64 // reserved metadata payload length, 0 if none

	closed atomic.Bool
	log    *zap.Logger
}

// ConnectWriter attaches to the ring named name. The ring must exist and
// have a live reader and no live writer.
func ConnectWriter(name string, opts ...Option) (*Writer, error) {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}
	log := o.log.With(zap.String("buffer", name))

	if err := validateName(name); err != nil {
		return nil, err
	}
	if !hostIsLittleEndian {
		return nil, errors.New("big-endian hosts are not supported")
	}

	shm, err := platform.OpenSharedMemory(name)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return nil, fmt.Errorf("buffer %q: %w", name, ErrBufferNotFound)
		}
		return nil, fmt.Errorf("failed to open ring: %w", err)
	}

	layout, err := layoutOf(shm.Bytes())
	if err != nil {
		shm.Close()
		return nil, err
	}

	if pid := layout.oieb.readerPID(); pid == 0 || !platform.PIDAlive(pid) {
		shm.Close()
		return nil, fmt.Errorf("buffer %q: %w", name, ErrNoReader)
	}
	if pid := layout.oieb.writerPID(); pid != 0 && platform.PIDAlive(pid) {
		shm.Close()
		return nil, fmt.Errorf("buffer %q: %w", name, ErrWriterAlreadyConnected)
	}
	layout.oieb.storeWriterPID(platform.CurrentPID())

	semData, err := platform.OpenSemaphore(dataSemName(name))
	if err != nil {
		layout.oieb.storeWriterPID(0)
		shm.Close()
		return nil, fmt.Errorf("failed to open data semaphore: %w", err)
	}
	semSpace, err := platform.OpenSemaphore(spaceSemName(name))
	if err != nil {
		layout.oieb.storeWriterPID(0)
		semData.Close()
		shm.Close()
		return nil, fmt.Errorf("failed to open space semaphore: %w", err)
	}

	log.Debug("writer attached",
		zap.Uint64("payload_size", layout.oieb.payloadSize()),
		zap.Uint64("reader_pid", layout.oieb.readerPID()))

	return &Writer{
		name:         name,
		shm:          shm,
		semData:      semData,
		semSpace:     semSpace,
		layout:       layout,
		payloadSize:  layout.oieb.payloadSize(),
		nextSeq:      1,
		metadataDone: layout.oieb.metadataWritten() > 0,
		log:          log,
	}, nil
}

// SetMetadata publishes the metadata block in one call. Metadata can be
// written at most once per ring lifetime; an empty payload is legal and
// publishes an intentionally empty block.
func (w *Writer) SetMetadata(data []byte) error {
	buf, err := w.GetMetadataBuffer(len(data))
	if err != nil {
		return err
	}
	copy(buf, data)
	return w.CommitMetadata()
}

// GetMetadataBuffer reserves the metadata block for zero-copy filling. The
// caller fills the returned slice and calls CommitMetadata to publish it.
func (w *Writer) GetMetadataBuffer(size int) ([]byte, error) {
	if w.closed.Load() {
		return nil, fmt.Errorf("writer %q is closed", w.name)
	}
	if w.metadataDone {
		return nil, ErrMetadataAlreadyWritten
	}
	need := uint64(size) + 8
	if need > w.layout.oieb.metadataSize() {
		return nil, ErrMetadataTooLarge
	}
	w.pendingMeta = uint64(size)
	return w.layout.metadata[8 : 8+size], nil
}

// CommitMetadata publishes a reservation made by GetMetadataBuffer.
func (w *Writer) CommitMetadata() error {
	if w.metadataDone {
		return ErrMetadataAlreadyWritten
	}
	binary.LittleEndian.PutUint64(w.layout.metadata[:8], w.pendingMeta)
	w.layout.oieb.publishMetadata(w.pendingMeta + 8)
	w.metadataDone = true
	w.pendingMeta = 0
	return nil
}

// WriteFrame copies data into the ring as one frame and commits it,
// returning the assigned sequence number. It blocks while the ring lacks
// space, re-checking reader liveness every liveness window.
func (w *Writer) WriteFrame(data []byte) (uint64, error) {
	seq, buf, err := w.GetFrameBuffer(len(data))
	if err != nil {
		return 0, err
	}
	copy(buf, data)
	if err := w.CommitFrame(); err != nil {
		return 0, err
	}
	return seq, nil
}

// WriteFrameTimeout is WriteFrame with a bounded wait: when the reservation
// still does not fit as the timeout expires, nothing is written and
// ErrBufferFull is returned. The caller may retry.
func (w *Writer) WriteFrameTimeout(data []byte, timeout time.Duration) (uint64, error) {
	seq, buf, err := w.getFrameBuffer(len(data), time.Now().Add(timeout))
	if err != nil {
		return 0, err
	}
	copy(buf, data)
	if err := w.CommitFrame(); err != nil {
		return 0, err
	}
	return seq, nil
}

// GetFrameBuffer reserves a frame of the given size for zero-copy filling
// and returns its sequence number and payload slice. The caller fills the
// slice and calls CommitFrame; no other write may interleave.
func (w *Writer) GetFrameBuffer(size int) (uint64, []byte, error) {
	return w.getFrameBuffer(size, time.Time{})
}

func (w *Writer) getFrameBuffer(size int, deadline time.Time) (uint64, []byte, error) {
	if w.closed.Load() {
		return 0, nil, fmt.Errorf("writer %q is closed", w.name)
	}
	if w.pendingFrame != nil {
		return 0, nil, ErrReservationPending
	}
	if size <= 0 {
		return 0, nil, ErrInvalidFrameSize
	}
	payloadLen := uint64(size)
	total := frameHeaderSize + payloadLen
	if total > w.payloadSize {
		return 0, nil, ErrFrameTooLarge
	}

	offset, marker, err := w.reserve(total, deadline)
	if err != nil {
		return 0, nil, err
	}

	binary.LittleEndian.PutUint64(w.layout.payload[offset:], payloadLen)
	binary.LittleEndian.PutUint64(w.layout.payload[offset+8:], w.nextSeq)
	w.pendingFrame = &reservation{offset: offset, total: total, seq: w.nextSeq, marker: marker}

	return w.nextSeq, w.layout.payload[offset+frameHeaderSize : offset+total], nil
}

// CommitFrame publishes the reservation opened by GetFrameBuffer: positions
// and counters move, and the reader is signalled once.
func (w *Writer) CommitFrame() error {
	p := w.pendingFrame
	if p == nil {
		return ErrNoReservation
	}
	w.pendingFrame = nil

	b := w.layout.oieb
	next := p.offset + p.total
	if next == w.payloadSize {
		next = 0
	}
	b.storeWritePos(next)
	b.debitPayloadFree(p.total)
	if p.marker {
		b.incWrittenCount()
	}
	b.incWrittenCount()
	w.nextSeq++

	if err := w.semData.Post(); err != nil {
		return fmt.Errorf("failed to signal committed frame: %w", err)
	}
	return nil
}

// reserve finds room for a record of total bytes, wrapping the ring when the
// tail is too short. It blocks until the record fits, waking on released
// space and re-checking reader liveness every liveness window. A non-zero
// deadline bounds the wait with ErrBufferFull. The second result reports
// whether a wrap marker was left at the old tail.
func (w *Writer) reserve(total uint64, deadline time.Time) (uint64, bool, error) {
	b := w.layout.oieb
	for {
		if pid := b.readerPID(); pid == 0 || !platform.PIDAlive(pid) {
			return 0, false, ErrReaderDead
		}

		writePos, readPos := b.writePos(), b.readPos()
		// The free credit transiently runs negative between wasting a tail
		// and the reader reclaiming it, so every comparison is signed.
		free := int64(b.payloadFree())

		if writePos >= readPos {
			// The region [writePos, size) holds no committed bytes here.
			tail := w.payloadSize - writePos
			if tail >= total && free >= int64(total) {
				return writePos, false, nil
			}
			if tail < total && readPos > 0 {
				// Wrapping puts the record at the ring head. Bytes still
				// owned by committed frames all sit in the `occupied` span
				// ending at writePos; the head is safe as long as the
				// record cannot reach that span.
				occupied := int64(w.payloadSize) - free
				if occupied == 0 || occupied <= int64(writePos)-int64(total) {
					return 0, w.wrapTail(writePos, tail), nil
				}
			}
		} else if readPos-writePos >= total && free >= int64(total) {
			// The gap [writePos, readPos) fits the record.
			return writePos, false, nil
		}

		wait := livenessWindow
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return 0, false, ErrBufferFull
			}
			wait = min(wait, remaining)
		}
		if _, err := w.semSpace.Wait(wait); err != nil {
			return 0, false, fmt.Errorf("failed waiting for space: %w", err)
		}
		// A timeout just re-checks liveness above.
	}
}

// wrapTail retires the tail of the ring: a wrap marker when a header fits,
// bare waste otherwise. The wasted bytes come out of the free credit either
// way, and the reader returns them when it follows the wrap. Reports whether
// a marker was written; the marker enters the record count at commit.
func (w *Writer) wrapTail(writePos, tail uint64) bool {
	b := w.layout.oieb
	marker := tail >= frameHeaderSize
	if marker {
		binary.LittleEndian.PutUint64(w.layout.payload[writePos:], 0)
		binary.LittleEndian.PutUint64(w.layout.payload[writePos+8:], 0)
	}
	if tail > 0 {
		b.debitPayloadFree(tail)
	}
	b.storeWritePos(0)
	return marker
}

// IsReaderConnected reports whether the ring's reader is still alive.
func (w *Writer) IsReaderConnected() bool {
	pid := w.layout.oieb.readerPID()
	return pid != 0 && platform.PIDAlive(pid)
}

// Close detaches the writer: the pid slot is cleared and the reader is
// woken once so a drained ring reports the disconnect promptly. The ring
// itself stays up; a new writer may attach later.
func (w *Writer) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	w.pendingFrame = nil
	w.layout.oieb.storeWriterPID(0)
	if err := w.semData.Post(); err != nil {
		w.log.Debug("failed to wake reader on close", zap.Error(err))
	}

	w.semData.Close()
	w.semSpace.Close()
	if err := w.shm.Close(); err != nil {
		w.log.Warn("failed to unmap ring", zap.Error(err))
	}
	return nil
}
