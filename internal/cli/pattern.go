package cli

import (
	"fmt"
	"math/rand/v2"

	"github.com/cloudwego/gopkg/lang/dirtmake"
)

// Pattern names a deterministic payload generator. The writer fills frames
// with it and the reader regenerates the expectation to verify, so both
// sides derive the bytes from the frame's sequence number and payload length
// alone.
type Pattern string

const (
	// PatternSequential sets byte i of frame seq to (i + seq) mod 256.
	PatternSequential Pattern = "sequential"
	// PatternRandom derives the bytes from a PRNG seeded by the sequence and
	// the payload length.
	PatternRandom Pattern = "random"
	// PatternZero fills zeroes.
	PatternZero Pattern = "zero"
)

// ParsePattern validates a --pattern flag value.
func ParsePattern(s string) (Pattern, error) {
	switch p := Pattern(s); p {
	case PatternSequential, PatternRandom, PatternZero:
		return p, nil
	}
	return "", fmt.Errorf("unknown pattern %q", s)
}

// Fill writes the pattern for frame seq into buf.
func (p Pattern) Fill(seq uint64, buf []byte) {
	switch p {
	case PatternSequential:
		for i := range buf {
			buf[i] = byte((uint64(i) + seq) % 256)
		}
	case PatternRandom:
		rng := rand.New(rand.NewPCG(seq, uint64(len(buf))))
		for i := range buf {
			buf[i] = byte(rng.Uint32())
		}
	case PatternZero:
		clear(buf)
	}
}

// Make allocates a frame payload and fills it. The buffer is fully
// overwritten, so it is taken unzeroed.
func (p Pattern) Make(seq uint64, size int) []byte {
	buf := dirtmake.Bytes(size, size)
	p.Fill(seq, buf)
	return buf
}

// Verify checks data against the pattern for frame seq.
func (p Pattern) Verify(seq uint64, data []byte) error {
	expected := p.Make(seq, len(data))
	for i := range data {
		if data[i] != expected[i] {
			return fmt.Errorf("frame %d: byte %d is 0x%02x, expected 0x%02x",
				seq, i, data[i], expected[i])
		}
	}
	return nil
}
