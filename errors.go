package zerobuffer

import (
	"errors"
	"fmt"
)

// The error taxonomy is closed. Transient conditions (a read timeout is a
// nil frame, not an error) are the only retryable ones; peer-death and
// protocol errors are terminal for the ring; the rest are usage errors.
var (
	// ErrBufferNotFound is reported when a writer connects to a ring that
	// does not exist.
	ErrBufferNotFound = errors.New("buffer not found")

	// ErrReaderAlreadyConnected is reported when a reader creates a ring
	// whose lock file is held by a live reader.
	ErrReaderAlreadyConnected = errors.New("reader already connected")

	// ErrWriterAlreadyConnected is reported when a writer connects to a
	// ring that already has a live writer.
	ErrWriterAlreadyConnected = errors.New("writer already connected")

	// ErrNoReader is reported when a writer connects to a ring whose
	// reader is gone.
	ErrNoReader = errors.New("no reader connected")

	// ErrReaderDead is reported by the writer when the reader process died.
	ErrReaderDead = errors.New("reader process died")

	// ErrWriterDead is reported by the reader when the writer process died
	// or disconnected with all frames drained.
	ErrWriterDead = errors.New("writer process died")

	// ErrBufferFull is reported by bounded-wait writes that could not
	// reserve space within the caller's budget.
	ErrBufferFull = errors.New("buffer full")

	// ErrFrameTooLarge is reported when a frame record cannot fit the
	// payload ring even when empty.
	ErrFrameTooLarge = errors.New("frame exceeds payload capacity")

	// ErrInvalidFrameSize is reported for zero-sized frames.
	ErrInvalidFrameSize = errors.New("invalid frame size")

	// ErrMetadataAlreadyWritten is reported on a second metadata publish.
	ErrMetadataAlreadyWritten = errors.New("metadata already written")

	// ErrMetadataTooLarge is reported when metadata plus its length prefix
	// exceeds the metadata block.
	ErrMetadataTooLarge = errors.New("metadata exceeds metadata block")

	// ErrInvalidOIEB is reported when the control block has an unexpected
	// size or an incompatible version, or the ring got corrupted.
	ErrInvalidOIEB = errors.New("invalid operation info exchange block")

	// ErrReservationPending is reported when a zero-copy reservation is
	// started while another one is open on the same writer.
	ErrReservationPending = errors.New("frame reservation already pending")

	// ErrNoReservation is reported when a commit has no open reservation.
	ErrNoReservation = errors.New("no pending reservation")
)

// SequenceError is reported when a frame arrives with an unexpected sequence
// number. It is terminal for the ring.
type SequenceError struct {
	Expected uint64
	Got      uint64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("sequence mismatch: expected %d, got %d", e.Expected, e.Got)
}
