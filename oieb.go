package zerobuffer

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// The operation info exchange block is the first 128 bytes of the
// shared-memory object. All integers are little-endian; the structure is
// aligned to a 64-byte boundary by construction (offset 0 of the mapping).
const (
	oiebSize = 128

	offOIEBSize        = 0x00 // u32, always 128 for v1
	offVersion         = 0x04 // 4 bytes: major, minor, patch, 0
	offMetadataSize    = 0x08 // u64, aligned size of the metadata block
	offMetadataFree    = 0x10 // u64
	offMetadataWritten = 0x18 // u64
	offPayloadSize     = 0x20 // u64, aligned size of the payload ring
	offPayloadFree     = 0x28 // u64
	offWritePos        = 0x30 // u64
	offReadPos         = 0x38 // u64
	offWrittenCount    = 0x40 // u64
	offReadCount       = 0x48 // u64
	offWriterPID       = 0x50 // u64
	offReaderPID       = 0x58 // u64
	// 0x60..0x7F reserved, zero
)

const (
	versionMajor = 1
	versionMinor = 0
	versionPatch = 0
)

// oieb is a view over the control block of a mapped ring. The immutable
// geometry fields are read through encoding/binary; the fields both peers
// mutate are accessed through sync/atomic on the mapped words, which are
// 8-byte aligned because the mapping is page aligned. The semaphores carry
// the acquire/release ordering between processes; the atomics keep every
// individual load and store untorn.
type oieb struct {
	mem []byte
}

func (b oieb) word(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&b.mem[off]))
}

// initialize lays out a fresh control block. Sizes must already be aligned.
func (b oieb) initialize(metadataSize, payloadSize, readerPID uint64) {
	clear(b.mem[:oiebSize])
	binary.LittleEndian.PutUint32(b.mem[offOIEBSize:], oiebSize)
	b.mem[offVersion+0] = versionMajor
	b.mem[offVersion+1] = versionMinor
	b.mem[offVersion+2] = versionPatch
	binary.LittleEndian.PutUint64(b.mem[offMetadataSize:], metadataSize)
	binary.LittleEndian.PutUint64(b.mem[offMetadataFree:], metadataSize)
	binary.LittleEndian.PutUint64(b.mem[offPayloadSize:], payloadSize)
	binary.LittleEndian.PutUint64(b.mem[offPayloadFree:], payloadSize)
	binary.LittleEndian.PutUint64(b.mem[offReaderPID:], readerPID)
}

// validate refuses control blocks this implementation cannot speak to.
func (b oieb) validate() error {
	if got := binary.LittleEndian.Uint32(b.mem[offOIEBSize:]); got != oiebSize {
		return fmt.Errorf("%w: oieb size %d", ErrInvalidOIEB, got)
	}
	if major := b.mem[offVersion]; major != versionMajor {
		return fmt.Errorf("%w: protocol version %d.%d.%d",
			ErrInvalidOIEB, major, b.mem[offVersion+1], b.mem[offVersion+2])
	}
	return nil
}

func (b oieb) metadataSize() uint64 {
	return binary.LittleEndian.Uint64(b.mem[offMetadataSize:])
}

func (b oieb) payloadSize() uint64 {
	return binary.LittleEndian.Uint64(b.mem[offPayloadSize:])
}

func (b oieb) metadataFree() uint64 {
	return atomic.LoadUint64(b.word(offMetadataFree))
}

func (b oieb) metadataWritten() uint64 {
	return atomic.LoadUint64(b.word(offMetadataWritten))
}

// publishMetadata records n written metadata bytes (prefix included).
func (b oieb) publishMetadata(n uint64) {
	atomic.StoreUint64(b.word(offMetadataFree), b.metadataSize()-n)
	atomic.StoreUint64(b.word(offMetadataWritten), n)
}

func (b oieb) payloadFree() uint64 {
	return atomic.LoadUint64(b.word(offPayloadFree))
}

func (b oieb) creditPayloadFree(n uint64) {
	atomic.AddUint64(b.word(offPayloadFree), n)
}

func (b oieb) debitPayloadFree(n uint64) {
	atomic.AddUint64(b.word(offPayloadFree), ^(n - 1))
}

func (b oieb) writePos() uint64 {
	return atomic.LoadUint64(b.word(offWritePos))
}

func (b oieb) storeWritePos(pos uint64) {
	atomic.StoreUint64(b.word(offWritePos), pos)
}

func (b oieb) readPos() uint64 {
	return atomic.LoadUint64(b.word(offReadPos))
}

func (b oieb) storeReadPos(pos uint64) {
	atomic.StoreUint64(b.word(offReadPos), pos)
}

func (b oieb) writtenCount() uint64 {
	return atomic.LoadUint64(b.word(offWrittenCount))
}

func (b oieb) incWrittenCount() {
	atomic.AddUint64(b.word(offWrittenCount), 1)
}

func (b oieb) readCount() uint64 {
	return atomic.LoadUint64(b.word(offReadCount))
}

func (b oieb) incReadCount() {
	atomic.AddUint64(b.word(offReadCount), 1)
}

func (b oieb) writerPID() uint64 {
	return atomic.LoadUint64(b.word(offWriterPID))
}

func (b oieb) storeWriterPID(pid uint64) {
	atomic.StoreUint64(b.word(offWriterPID), pid)
}

func (b oieb) readerPID() uint64 {
	return atomic.LoadUint64(b.word(offReaderPID))
}

func (b oieb) storeReaderPID(pid uint64) {
	atomic.StoreUint64(b.word(offReaderPID), pid)
}

// ringLayout carves a mapping into its three regions.
type ringLayout struct {
	oieb     oieb
	metadata []byte // length prefix + payload capacity
	payload  []byte // the ring
}

// layoutOf splits an already initialized mapping using the sizes recorded in
// the control block.
func layoutOf(mem []byte) (ringLayout, error) {
	if len(mem) < oiebSize {
		return ringLayout{}, fmt.Errorf("%w: mapping of %d bytes", ErrInvalidOIEB, len(mem))
	}
	b := oieb{mem: mem}
	if err := b.validate(); err != nil {
		return ringLayout{}, err
	}

	metaSize, payloadSize := b.metadataSize(), b.payloadSize()
	if metaSize%blockAlign != 0 || payloadSize%blockAlign != 0 ||
		uint64(len(mem)) < oiebSize+metaSize+payloadSize {
		return ringLayout{}, fmt.Errorf("%w: geometry %d+%d exceeds mapping of %d bytes",
			ErrInvalidOIEB, metaSize, payloadSize, len(mem))
	}

	payloadOff := oiebSize + metaSize
	return ringLayout{
		oieb:     b,
		metadata: mem[oiebSize:payloadOff],
		payload:  mem[payloadOff : payloadOff+payloadSize],
	}, nil
}
