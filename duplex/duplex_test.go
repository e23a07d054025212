package duplex

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	zerobuffer "github.com/modelingevolution/zerobuffer-go"
)

func testChannelName(t *testing.T) string {
	t.Helper()
	name := strings.ToLower(strings.ReplaceAll(t.Name(), "/", "-"))
	return fmt.Sprintf("zbd-%s-%d", name, os.Getpid())
}

var testConfig = zerobuffer.BufferConfig{MetadataSize: 1024, PayloadSize: 64 * 1024}

// startEchoServer runs a server whose handler echoes request bytes back.
func startEchoServer(t *testing.T, channel string) (*Server, *errgroup.Group, context.CancelFunc) {
	t.Helper()

	server, err := NewServer(channel, testConfig, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	wg := &errgroup.Group{}
	wg.Go(func() error {
		return server.Run(ctx, func(req *zerobuffer.Frame, resp *zerobuffer.Writer) error {
			_, err := resp.WriteFrame(req.Data())
			return err
		})
	})
	return server, wg, cancel
}

func TestDuplexEcho(t *testing.T) {
	channel := testChannelName(t)
	server, wg, cancel := startEchoServer(t, channel)

	client, err := NewClient(channel, testConfig, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	request := make([]byte, 1024)
	for i := range request {
		request[i] = byte(i * 7)
	}
	seq, err := client.Send(request)
	require.NoError(t, err)

	response, err := client.Receive(time.Second)
	require.NoError(t, err)
	require.NotNil(t, response, "echo must arrive within a second")
	assert.Equal(t, seq, response.Sequence())
	assert.Equal(t, request, response.Data())
	response.Release()

	client.Close()
	cancel()
	require.NoError(t, wg.Wait())
	server.Close()
}

func TestDuplexCorrelatesManyRequests(t *testing.T) {
	channel := testChannelName(t)
	server, wg, cancel := startEchoServer(t, channel)

	client, err := NewClient(channel, testConfig, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	for i := 1; i <= 32; i++ {
		payload := []byte(fmt.Sprintf("request %d", i))
		seq, err := client.Send(payload)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)

		response, err := client.Receive(time.Second)
		require.NoError(t, err)
		require.NotNil(t, response)
		assert.Equal(t, seq, response.Sequence())
		assert.Equal(t, payload, response.Data())
		response.Release()
	}

	client.Close()
	cancel()
	require.NoError(t, wg.Wait())
	server.Close()
}

func TestDuplexZeroCopyRequest(t *testing.T) {
	channel := testChannelName(t)
	server, wg, cancel := startEchoServer(t, channel)

	client, err := NewClient(channel, testConfig, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	seq, buf, err := client.AcquireBuffer(256)
	require.NoError(t, err)
	for i := range buf {
		buf[i] = byte(255 - i%256)
	}
	require.NoError(t, client.CommitRequest())

	response, err := client.Receive(time.Second)
	require.NoError(t, err)
	require.NotNil(t, response)
	assert.Equal(t, seq, response.Sequence())
	assert.Equal(t, 256, response.Size())
	response.Release()

	client.Close()
	cancel()
	require.NoError(t, wg.Wait())
	server.Close()
}

func TestDuplexHandlerErrorSkipsResponse(t *testing.T) {
	channel := testChannelName(t)

	server, err := NewServer(channel, testConfig, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	wg := &errgroup.Group{}
	wg.Go(func() error {
		return server.Run(ctx, func(req *zerobuffer.Frame, resp *zerobuffer.Writer) error {
			return fmt.Errorf("refusing request %d", req.Sequence())
		})
	})

	client, err := NewClient(channel, testConfig, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	_, err = client.Send([]byte("doomed"))
	require.NoError(t, err)

	// The handler failed, so no response is produced; the client observes
	// only a timeout.
	response, err := client.Receive(300 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, response)

	client.Close()
	cancel()
	require.NoError(t, wg.Wait())
	server.Close()
}
