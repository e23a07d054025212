package zerobuffer

import (
	"fmt"

	"github.com/c2h5oh/datasize"
)

// BufferConfig describes the geometry of a ring. Both sizes are rounded up
// to the 64-byte block alignment when the ring is laid out.
type BufferConfig struct {
	// MetadataSize is the capacity of the write-once metadata block,
	// including its 8-byte length prefix.
	MetadataSize datasize.ByteSize `yaml:"metadata_size"`
	// PayloadSize is the capacity of the payload ring.
	PayloadSize datasize.ByteSize `yaml:"payload_size"`
}

// DefaultBufferConfig returns a geometry suitable for small-message IPC.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		MetadataSize: 4 * datasize.KB,
		PayloadSize:  datasize.MB,
	}
}

func (c BufferConfig) validate() error {
	if c.PayloadSize == 0 {
		return fmt.Errorf("payload size must be positive")
	}
	// The smallest useful ring holds one header plus one payload byte.
	if uint64(c.PayloadSize) <= frameHeaderSize {
		return fmt.Errorf("payload size %d cannot hold a frame", c.PayloadSize)
	}
	return nil
}
