package zerobuffer

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// testBufferName derives a per-test, per-process buffer name so parallel
// test runs do not collide on the system namespace.
func testBufferName(t *testing.T) string {
	t.Helper()
	name := strings.ToLower(strings.ReplaceAll(t.Name(), "/", "-"))
	return fmt.Sprintf("zbt-%s-%d", name, os.Getpid())
}

// newTestRing creates a ring and attaches a writer to it, tearing both down
// with the test.
func newTestRing(t *testing.T, cfg BufferConfig) (*Reader, *Writer) {
	t.Helper()

	name := testBufferName(t)
	reader, err := NewReader(name, cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })

	writer, err := ConnectWriter(name, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })

	return reader, writer
}

func TestSimpleRoundTrip(t *testing.T) {
	reader, writer := newTestRing(t, BufferConfig{MetadataSize: 1024, PayloadSize: 10240})

	metadata := make([]byte, 100)
	for i := range metadata {
		metadata[i] = byte(i)
	}
	require.NoError(t, writer.SetMetadata(metadata))
	assert.Equal(t, metadata, reader.Metadata())

	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte((i + 1) % 256)
	}
	seq, err := writer.WriteFrame(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	frame, err := reader.ReadFrame(time.Second)
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, uint64(1), frame.Sequence())
	assert.Equal(t, 1024, frame.Size())
	assert.Equal(t, payload, frame.Data())

	// Reading advances the position, but the writer regains the bytes only
	// on release.
	assert.Equal(t, uint64(10240-1040), reader.layout.oieb.payloadFree())
	frame.Release()
	assert.Equal(t, uint64(10240), reader.layout.oieb.payloadFree())
}

func TestMultiFrameOrdering(t *testing.T) {
	reader, writer := newTestRing(t, BufferConfig{MetadataSize: 1024, PayloadSize: 100 * 1024})

	const frames = 10
	const size = 5120
	for i := 1; i <= frames; i++ {
		payload := make([]byte, size)
		for j := range payload {
			payload[j] = byte((j + i) % 256)
		}
		seq, err := writer.WriteFrame(payload)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)
	}

	for i := 1; i <= frames; i++ {
		frame, err := reader.ReadFrame(time.Second)
		require.NoError(t, err)
		require.NotNil(t, frame)
		assert.Equal(t, uint64(i), frame.Sequence())
		assert.Equal(t, size, frame.Size())
		for j, v := range frame.Data() {
			if int(v) != (j+i)%256 {
				t.Fatalf("frame %d: byte %d is %d", i, j, v)
			}
		}
		frame.Release()
	}
}

func TestZeroCopyWriteMatchesCopyWrite(t *testing.T) {
	reader, writer := newTestRing(t, BufferConfig{MetadataSize: 1024, PayloadSize: 10240})

	payload := []byte("the quick brown fox")
	_, err := writer.WriteFrame(payload)
	require.NoError(t, err)

	seq, buf, err := writer.GetFrameBuffer(len(payload))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
	copy(buf, payload)
	require.NoError(t, writer.CommitFrame())

	for i := 1; i <= 2; i++ {
		frame, err := reader.ReadFrame(time.Second)
		require.NoError(t, err)
		require.NotNil(t, frame)
		assert.Equal(t, uint64(i), frame.Sequence())
		assert.Equal(t, payload, frame.Data())
		frame.Release()
	}
}

func TestReservationDiscipline(t *testing.T) {
	_, writer := newTestRing(t, BufferConfig{MetadataSize: 1024, PayloadSize: 10240})

	assert.ErrorIs(t, writer.CommitFrame(), ErrNoReservation)

	_, _, err := writer.GetFrameBuffer(64)
	require.NoError(t, err)
	_, _, err = writer.GetFrameBuffer(64)
	assert.ErrorIs(t, err, ErrReservationPending)
	require.NoError(t, writer.CommitFrame())
}

func TestEmptyMetadataIsLegal(t *testing.T) {
	reader, writer := newTestRing(t, BufferConfig{MetadataSize: 1024, PayloadSize: 10240})

	assert.Nil(t, reader.Metadata())
	require.NoError(t, writer.SetMetadata(nil))
	assert.Empty(t, reader.Metadata())

	// Publishing is once per ring lifetime, even when empty.
	assert.ErrorIs(t, writer.SetMetadata([]byte("late")), ErrMetadataAlreadyWritten)
}

func TestMetadataLimits(t *testing.T) {
	reader, writer := newTestRing(t, BufferConfig{MetadataSize: 64, PayloadSize: 10240})

	// 64-byte block: 8 bytes of length prefix leave 56 for the payload.
	tooBig := make([]byte, 57)
	assert.ErrorIs(t, writer.SetMetadata(tooBig), ErrMetadataTooLarge)

	exact := make([]byte, 56)
	for i := range exact {
		exact[i] = byte(i * 3)
	}
	require.NoError(t, writer.SetMetadata(exact))
	assert.Equal(t, exact, reader.Metadata())
}

func TestFrameSizeLimits(t *testing.T) {
	reader, writer := newTestRing(t, BufferConfig{MetadataSize: 1024, PayloadSize: 10240})

	_, err := writer.WriteFrame(nil)
	assert.ErrorIs(t, err, ErrInvalidFrameSize)

	_, err = writer.WriteFrame(make([]byte, 10240-frameHeaderSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	// The largest frame fills the whole ring, but only while it is empty.
	seq, err := writer.WriteFrame(make([]byte, 10240-frameHeaderSize))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	frame, err := reader.ReadFrame(time.Second)
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, 10240-frameHeaderSize, frame.Size())
	frame.Release()
	assert.Equal(t, uint64(10240), reader.layout.oieb.payloadFree())
}

func TestBoundedWaitWriteReportsFullBuffer(t *testing.T) {
	reader, writer := newTestRing(t, BufferConfig{MetadataSize: 64, PayloadSize: 4096})

	_, err := writer.WriteFrame(make([]byte, 4096-frameHeaderSize))
	require.NoError(t, err)

	start := time.Now()
	_, err = writer.WriteFrameTimeout([]byte("overflow"), 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.Less(t, time.Since(start), time.Second)

	// Draining the ring makes the same write fit.
	frame, err := reader.ReadFrame(time.Second)
	require.NoError(t, err)
	frame.Release()

	seq, err := writer.WriteFrameTimeout([]byte("overflow"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
}

func TestCoalescedSignalsLoseNoFrames(t *testing.T) {
	reader, writer := newTestRing(t, BufferConfig{MetadataSize: 1024, PayloadSize: 100 * 1024})

	// Burst-write with no reader activity, then drain: exactly k frames
	// must come out however the semaphore counts coalesced.
	const k = 16
	for i := 0; i < k; i++ {
		_, err := writer.WriteFrame([]byte{byte(i), 1, 2, 3})
		require.NoError(t, err)
	}

	for i := 0; i < k; i++ {
		frame, err := reader.ReadFrame(time.Second)
		require.NoError(t, err)
		require.NotNil(t, frame, "frame %d missing", i+1)
		assert.Equal(t, uint64(i+1), frame.Sequence())
		frame.Release()
	}

	frame, err := reader.ReadFrame(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, frame, "no extra frames may appear")
}

func TestGracefulWriterExitDrains(t *testing.T) {
	reader, writer := newTestRing(t, BufferConfig{MetadataSize: 1024, PayloadSize: 10240})

	for i := 0; i < 3; i++ {
		_, err := writer.WriteFrame([]byte("parting gift"))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	// The backlog drains first; only then is the disconnect surfaced.
	for i := 1; i <= 3; i++ {
		frame, err := reader.ReadFrame(time.Second)
		require.NoError(t, err)
		require.NotNil(t, frame)
		assert.Equal(t, uint64(i), frame.Sequence())
		frame.Release()
	}

	_, err := reader.ReadFrame(time.Second)
	assert.ErrorIs(t, err, ErrWriterDead)
}

func TestReadTimeoutIsNotAnError(t *testing.T) {
	reader, _ := newTestRing(t, BufferConfig{MetadataSize: 1024, PayloadSize: 10240})

	start := time.Now()
	frame, err := reader.ReadFrame(100 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, frame)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestReaderSlotIsExclusive(t *testing.T) {
	name := testBufferName(t)
	reader, err := NewReader(name, BufferConfig{MetadataSize: 64, PayloadSize: 4096})
	require.NoError(t, err)
	defer reader.Close()

	_, err = NewReader(name, BufferConfig{MetadataSize: 64, PayloadSize: 4096})
	assert.ErrorIs(t, err, ErrReaderAlreadyConnected)
}

func TestWriterSlotIsExclusive(t *testing.T) {
	_, _ = newTestRing(t, BufferConfig{MetadataSize: 64, PayloadSize: 4096})

	_, err := ConnectWriter(testBufferName(t))
	assert.ErrorIs(t, err, ErrWriterAlreadyConnected)
}

func TestWriterRequiresRing(t *testing.T) {
	_, err := ConnectWriter(testBufferName(t))
	assert.ErrorIs(t, err, ErrBufferNotFound)
}

func TestWriterReconnectRestartsSequence(t *testing.T) {
	reader, writer := newTestRing(t, BufferConfig{MetadataSize: 64, PayloadSize: 4096})

	_, err := writer.WriteFrame([]byte("from the first writer"))
	require.NoError(t, err)
	frame, err := reader.ReadFrame(time.Second)
	require.NoError(t, err)
	frame.Release()
	require.NoError(t, writer.Close())

	// The ring is one-shot from the reader's perspective: its expected
	// sequence was set at creation, so a reconnecting writer starting over
	// at 1 collides with it.
	writer2, err := ConnectWriter(testBufferName(t))
	require.NoError(t, err)
	defer writer2.Close()

	_, err = writer2.WriteFrame([]byte("from the second writer"))
	require.NoError(t, err)

	_, err = reader.ReadFrame(time.Second)
	var seqErr *SequenceError
	require.ErrorAs(t, err, &seqErr)
	assert.Equal(t, uint64(2), seqErr.Expected)
	assert.Equal(t, uint64(1), seqErr.Got)

	// Protocol failures latch: the ring is unusable until teardown.
	_, err = reader.ReadFrame(time.Second)
	assert.ErrorAs(t, err, &seqErr)
}
