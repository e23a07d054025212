package zerobuffer

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOIEBLayout(t *testing.T) {
	// The wire layout is normative: field offsets are fixed for version 1.
	assert.Equal(t, 0x00, offOIEBSize)
	assert.Equal(t, 0x04, offVersion)
	assert.Equal(t, 0x08, offMetadataSize)
	assert.Equal(t, 0x10, offMetadataFree)
	assert.Equal(t, 0x18, offMetadataWritten)
	assert.Equal(t, 0x20, offPayloadSize)
	assert.Equal(t, 0x28, offPayloadFree)
	assert.Equal(t, 0x30, offWritePos)
	assert.Equal(t, 0x38, offReadPos)
	assert.Equal(t, 0x40, offWrittenCount)
	assert.Equal(t, 0x48, offReadCount)
	assert.Equal(t, 0x50, offWriterPID)
	assert.Equal(t, 0x58, offReaderPID)
	assert.Equal(t, 128, oiebSize)
}

func TestOIEBInitialize(t *testing.T) {
	mem := make([]byte, oiebSize+256+1024)
	b := oieb{mem: mem}
	b.initialize(256, 1024, 42)

	require.NoError(t, b.validate())
	assert.Equal(t, uint32(128), binary.LittleEndian.Uint32(mem[offOIEBSize:]))
	assert.Equal(t, []byte{1, 0, 0, 0}, mem[offVersion:offVersion+4])

	assert.Equal(t, uint64(256), b.metadataSize())
	assert.Equal(t, uint64(256), b.metadataFree())
	assert.Equal(t, uint64(0), b.metadataWritten())
	assert.Equal(t, uint64(1024), b.payloadSize())
	assert.Equal(t, uint64(1024), b.payloadFree())
	assert.Equal(t, uint64(0), b.writePos())
	assert.Equal(t, uint64(0), b.readPos())
	assert.Equal(t, uint64(0), b.writtenCount())
	assert.Equal(t, uint64(0), b.readCount())
	assert.Equal(t, uint64(0), b.writerPID())
	assert.Equal(t, uint64(42), b.readerPID())

	for _, v := range mem[0x60:0x80] {
		assert.Zero(t, v, "reserved bytes must be zero")
	}
}

func TestOIEBValidateRejectsForeignBlocks(t *testing.T) {
	mem := make([]byte, oiebSize+128)
	b := oieb{mem: mem}
	b.initialize(64, 64, 1)

	binary.LittleEndian.PutUint32(mem[offOIEBSize:], 256)
	assert.ErrorIs(t, b.validate(), ErrInvalidOIEB)

	b.initialize(64, 64, 1)
	mem[offVersion] = 2
	assert.ErrorIs(t, b.validate(), ErrInvalidOIEB)
}

func TestLayoutOfRejectsTruncatedMappings(t *testing.T) {
	mem := make([]byte, oiebSize+64)
	b := oieb{mem: mem}
	b.initialize(64, 1024, 1)

	_, err := layoutOf(mem)
	assert.ErrorIs(t, err, ErrInvalidOIEB)
}

func TestAlign64(t *testing.T) {
	assert.Equal(t, uint64(0), align64(0))
	assert.Equal(t, uint64(64), align64(1))
	assert.Equal(t, uint64(64), align64(64))
	assert.Equal(t, uint64(128), align64(65))
	assert.Equal(t, uint64(10240), align64(10240))
}
