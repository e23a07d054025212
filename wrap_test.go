package zerobuffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestForcedWrapWithWaste(t *testing.T) {
	reader, writer := newTestRing(t, BufferConfig{MetadataSize: 1024, PayloadSize: 10240})

	first := make([]byte, 6144)
	for i := range first {
		first[i] = byte(i % 251)
	}
	_, err := writer.WriteFrame(first)
	require.NoError(t, err)

	// Hold the first frame so the second write has to block on its release.
	frame, err := reader.ReadFrame(time.Second)
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, first, frame.Data())

	second := make([]byte, 7168)
	for i := range second {
		second[i] = byte(i % 239)
	}

	wg := errgroup.Group{}
	wg.Go(func() error {
		_, err := writer.WriteFrame(second)
		return err
	})

	// The 7184-byte record fits neither the 4080-byte tail nor the space
	// the held frame still owns; the reservation stays blocked until the
	// release below.
	time.Sleep(100 * time.Millisecond)
	frame.Release()
	require.NoError(t, wg.Wait())

	got, err := reader.ReadFrame(time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(2), got.Sequence())
	assert.Equal(t, second, got.Data())
	got.Release()

	b := reader.layout.oieb
	// Three records passed through: two frames and the wrap marker that
	// retired the 4080-byte tail.
	assert.Equal(t, uint64(3), b.writtenCount())
	assert.Equal(t, uint64(3), b.readCount())
	// Quiescent accounting: every committed, wasted and released byte nets
	// out to an empty ring.
	assert.Equal(t, uint64(10240), b.payloadFree())
	assert.Less(t, b.writePos(), uint64(10240))
	assert.Less(t, b.readPos(), uint64(10240))
}

func TestWrapMarkerSurvivesWithLiveFrames(t *testing.T) {
	reader, writer := newTestRing(t, BufferConfig{MetadataSize: 1024, PayloadSize: 10240})

	// Two 4016-byte records leave a 2208-byte tail. Releasing only the
	// first frame lets a third record wrap while the second is still live,
	// so the marker is written below the live span and survives intact.
	for i := 0; i < 2; i++ {
		_, err := writer.WriteFrame(make([]byte, 4000))
		require.NoError(t, err)
	}

	frameA, err := reader.ReadFrame(time.Second)
	require.NoError(t, err)
	frameA.Release()

	third := make([]byte, 3000)
	for i := range third {
		third[i] = byte(i % 233)
	}
	_, err = writer.WriteFrame(third)
	require.NoError(t, err)

	frameB, err := reader.ReadFrame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), frameB.Sequence())
	frameB.Release()

	frameC, err := reader.ReadFrame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), frameC.Sequence())
	assert.Equal(t, third, frameC.Data())
	frameC.Release()

	b := reader.layout.oieb
	assert.Equal(t, uint64(4), b.writtenCount(), "three frames plus one marker")
	assert.Equal(t, uint64(4), b.readCount())
	assert.Equal(t, uint64(10240), b.payloadFree())
}

func TestTinyTailIsWastedWithoutMarker(t *testing.T) {
	reader, writer := newTestRing(t, BufferConfig{MetadataSize: 1024, PayloadSize: 10240})

	// A 10226-byte record leaves a 14-byte tail: too short for a marker
	// header, so the writer retires it silently and the reader follows.
	_, err := writer.WriteFrame(make([]byte, 10210))
	require.NoError(t, err)

	frame, err := reader.ReadFrame(time.Second)
	require.NoError(t, err)
	frame.Release()

	second := []byte("after the silent wrap")
	_, err = writer.WriteFrame(second)
	require.NoError(t, err)

	got, err := reader.ReadFrame(time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(2), got.Sequence())
	assert.Equal(t, second, got.Data())
	got.Release()

	b := reader.layout.oieb
	// No marker: the record count stays at two.
	assert.Equal(t, uint64(2), b.writtenCount())
	assert.Equal(t, uint64(2), b.readCount())
	assert.Equal(t, uint64(10240), b.payloadFree())
}

func TestOrderSurvivesManyWraps(t *testing.T) {
	reader, writer := newTestRing(t, BufferConfig{MetadataSize: 64, PayloadSize: 4096})

	// Mixed frame sizes drive the ring through 75 laps, each ending in a
	// wrap marker, with the writer racing the reader.
	sizes := []int{100, 1000, 1500, 37, 2048, 700}

	wg := errgroup.Group{}
	const frames = 300
	wg.Go(func() error {
		for i := 1; i <= frames; i++ {
			payload := make([]byte, sizes[i%len(sizes)])
			for j := range payload {
				payload[j] = byte((j + i) % 256)
			}
			if _, err := writer.WriteFrame(payload); err != nil {
				return err
			}
		}
		return nil
	})

	for i := 1; i <= frames; i++ {
		frame, err := reader.ReadFrame(5 * time.Second)
		require.NoError(t, err)
		require.NotNil(t, frame, "frame %d", i)
		assert.Equal(t, uint64(i), frame.Sequence())
		require.Equal(t, sizes[i%len(sizes)], frame.Size())
		for j, v := range frame.Data() {
			if int(v) != (j+i)%256 {
				t.Fatalf("frame %d: byte %d is %d", i, j, v)
			}
		}
		frame.Release()
	}
	require.NoError(t, wg.Wait())

	b := reader.layout.oieb
	assert.Equal(t, b.writtenCount(), b.readCount())
	assert.Equal(t, uint64(4096), b.payloadFree())
}
