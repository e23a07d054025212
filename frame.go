package zerobuffer

import (
	"sync/atomic"
)

// Frame is a zero-copy borrow of one record's payload inside the mapped
// ring. It stays valid until it is released or its Reader is closed,
// whichever comes first. Releasing the frame is the only mechanism that
// returns its bytes to the writer: the reader advances its position as soon
// as the frame is handed out, but the writer regains the space only on
// Release.
type Frame struct {
	data       []byte
	seq        uint64
	recordSize uint64
	reader     *Reader
	released   atomic.Bool
}

// Data returns the payload bytes. The slice aliases shared memory; it must
// not be used after Release.
func (f *Frame) Data() []byte {
	return f.data
}

// Size returns the payload length in bytes.
func (f *Frame) Size() int {
	return len(f.data)
}

// Sequence returns the frame's 1-based sequence number.
func (f *Frame) Sequence() uint64 {
	return f.seq
}

// Release returns the frame's bytes to the writer and signals it once.
// It never blocks and is safe to call more than once; only the first call
// has an effect.
func (f *Frame) Release() {
	if !f.released.CompareAndSwap(false, true) {
		return
	}
	f.reader.releaseRecord(f.recordSize)
	f.data = nil
}

// Close releases the frame. It implements io.Closer so a frame can ride a
// defer like any other resource.
func (f *Frame) Close() error {
	f.Release()
	return nil
}
