package duplex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	zerobuffer "github.com/modelingevolution/zerobuffer-go"
)

const (
	// readCadence bounds how long the request loop stays blocked before it
	// re-checks for shutdown.
	readCadence = time.Second

	// connectInterval and connectBudget pace the lazy connect to the
	// response ring, which the client creates on its own schedule.
	connectInterval = 100 * time.Millisecond
	connectBudget   = 5 * time.Second
)

// Handler serves one request. It writes at most one frame into resp; the
// frame's auto-assigned sequence equals the request sequence because the
// loop produces responses strictly one per request. Returning an error (or
// panicking) skips the response for this request: the client observes a
// timeout, and response sequences no longer line up with request sequences
// for the remainder of the channel's life.
type Handler func(req *zerobuffer.Frame, resp *zerobuffer.Writer) error

// Server owns the request ring of a duplex channel and lazily attaches to
// the response ring created by the client.
type Server struct {
	channel string
	reader  *zerobuffer.Reader
	writer  *zerobuffer.Writer
	log     *zap.Logger
}

// NewServer creates the "{channel}_request" ring and prepares to serve.
func NewServer(channel string, cfg zerobuffer.BufferConfig, opts ...Option) (*Server, error) {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}
	log := o.log.With(zap.String("channel", channel))

	reader, err := zerobuffer.NewReader(channel+requestSuffix, cfg, zerobuffer.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to create request ring: %w", err)
	}

	return &Server{
		channel: channel,
		reader:  reader,
		log:     log,
	}, nil
}

// Run serves requests until ctx is canceled or the channel dies. Each
// request is handled to completion before the next is read; the response
// writer is connected on the first request.
func (s *Server) Run(ctx context.Context, handler Handler) error {
	for {
		req, err := s.reader.ReadFrame(readCadence)
		if err != nil {
			if errors.Is(err, zerobuffer.ErrWriterDead) {
				s.log.Info("request writer is gone, shutting down")
				return nil
			}
			return fmt.Errorf("failed to read request: %w", err)
		}
		if req == nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		if s.writer == nil {
			writer, err := s.connectResponseRing(ctx)
			if err != nil {
				req.Release()
				return fmt.Errorf("failed to connect response ring: %w", err)
			}
			s.writer = writer
		}

		s.serve(req, handler)
	}
}

// serve runs the handler with a panic fence: a broken handler skips its
// response and the loop moves on.
func (s *Server) serve(req *zerobuffer.Frame, handler Handler) {
	defer req.Release()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panicked",
				zap.Uint64("sequence", req.Sequence()),
				zap.Any("panic", r))
		}
	}()

	if err := handler(req, s.writer); err != nil {
		s.log.Error("handler failed",
			zap.Uint64("sequence", req.Sequence()),
			zap.Error(err))
	}
}

// connectResponseRing attaches to "{channel}_response". The client creates
// that ring around the time it sends its first request, so the connect
// retries on a short cadence before giving up.
func (s *Server) connectResponseRing(ctx context.Context) (*zerobuffer.Writer, error) {
	operation := func() (*zerobuffer.Writer, error) {
		return zerobuffer.ConnectWriter(s.channel+responseSuffix, zerobuffer.WithLogger(s.log))
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(connectInterval)),
		backoff.WithMaxElapsedTime(connectBudget),
	)
}

// Close tears down the request ring and detaches from the response ring.
func (s *Server) Close() error {
	if s.writer != nil {
		s.writer.Close()
		s.writer = nil
	}
	return s.reader.Close()
}
