package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePattern(t *testing.T) {
	for _, name := range []string{"sequential", "random", "zero"} {
		p, err := ParsePattern(name)
		require.NoError(t, err)
		assert.Equal(t, Pattern(name), p)
	}

	_, err := ParsePattern("noise")
	assert.Error(t, err)
}

func TestPatternRoundTrip(t *testing.T) {
	for _, p := range []Pattern{PatternSequential, PatternRandom, PatternZero} {
		t.Run(string(p), func(t *testing.T) {
			for _, seq := range []uint64{1, 2, 1000} {
				buf := p.Make(seq, 4096)
				require.Len(t, buf, 4096)
				assert.NoError(t, p.Verify(seq, buf))
			}
		})
	}
}

func TestSequentialPatternShape(t *testing.T) {
	buf := PatternSequential.Make(1, 256)
	for i, v := range buf {
		assert.Equal(t, byte((i+1)%256), v)
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	buf := PatternSequential.Make(3, 128)
	buf[100] ^= 0xFF
	assert.Error(t, PatternSequential.Verify(3, buf))

	// Random frames differ across sequences, so a shifted sequence fails.
	buf = PatternRandom.Make(7, 128)
	assert.Error(t, PatternRandom.Verify(8, buf))
}
