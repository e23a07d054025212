package duplex

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	zerobuffer "github.com/modelingevolution/zerobuffer-go"
)

// Client is the requesting side of a duplex channel: it writes into the
// server's request ring and owns the response ring the server writes back
// into. Send and Receive are independently serialisable; neither may be
// called concurrently with itself.
type Client struct {
	writer *zerobuffer.Writer
	reader *zerobuffer.Reader
	log    *zap.Logger
}

// NewClient connects to the server's "{channel}_request" ring and creates
// the "{channel}_response" ring with the given geometry. The server must
// already be running. The response ring exists before the first request is
// sent, so the server's lazy connect always finds it.
func NewClient(channel string, respCfg zerobuffer.BufferConfig, opts ...Option) (*Client, error) {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}
	log := o.log.With(zap.String("channel", channel))

	reader, err := zerobuffer.NewReader(channel+responseSuffix, respCfg, zerobuffer.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to create response ring: %w", err)
	}

	writer, err := zerobuffer.ConnectWriter(channel+requestSuffix, zerobuffer.WithLogger(log))
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("failed to connect request ring: %w", err)
	}

	return &Client{
		writer: writer,
		reader: reader,
		log:    log,
	}, nil
}

// Send writes one request frame and returns its sequence number. While every
// earlier request got its response, the matching response frame carries the
// same sequence.
func (c *Client) Send(data []byte) (uint64, error) {
	return c.writer.WriteFrame(data)
}

// AcquireBuffer reserves a request frame for zero-copy filling. The caller
// fills the slice and calls CommitRequest.
func (c *Client) AcquireBuffer(size int) (uint64, []byte, error) {
	return c.writer.GetFrameBuffer(size)
}

// CommitRequest publishes the reservation opened by AcquireBuffer.
func (c *Client) CommitRequest() error {
	return c.writer.CommitFrame()
}

// Receive blocks for the next response frame, or returns (nil, nil) on
// timeout. A request whose handler failed produces no response; the caller
// observes the timeout and decides.
func (c *Client) Receive(timeout time.Duration) (*zerobuffer.Frame, error) {
	return c.reader.ReadFrame(timeout)
}

// Close detaches from the request ring and destroys the response ring.
func (c *Client) Close() error {
	c.writer.Close()
	return c.reader.Close()
}
