// Package cli carries the glue the test binaries share: the JSON result
// object, the exit-code mapping and the payload patterns.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	zerobuffer "github.com/modelingevolution/zerobuffer-go"
)

// Exit codes of the test binaries.
const (
	ExitOK               = 0
	ExitConnectionFailed = 1
	ExitIOError          = 2
	ExitInvalidArgs      = 3
	ExitValidationError  = 4
)

// Result is the JSON object every test binary reports.
type Result struct {
	Operation       string   `json:"operation"`
	BufferName      string   `json:"buffer_name"`
	FramesWritten   uint64   `json:"frames_written,omitempty"`
	FramesRead      uint64   `json:"frames_read,omitempty"`
	FramesRelayed   uint64   `json:"frames_relayed,omitempty"`
	DurationSeconds float64  `json:"duration_seconds"`
	ThroughputMBPS  float64  `json:"throughput_mbps"`
	Errors          []string `json:"errors"`
}

// Finish stamps the duration and throughput for bytes moved since start.
func (r *Result) Finish(start time.Time, bytes uint64) {
	r.DurationSeconds = time.Since(start).Seconds()
	if r.DurationSeconds > 0 {
		r.ThroughputMBPS = float64(bytes) / (1024 * 1024) / r.DurationSeconds
	}
}

// AddError records a failure in the result object.
func (r *Result) AddError(err error) {
	r.Errors = append(r.Errors, err.Error())
}

// Emit writes the result as indented JSON, or as a short human summary when
// JSON output is off.
func (r *Result) Emit(w io.Writer, jsonOutput bool) error {
	if jsonOutput {
		if r.Errors == nil {
			r.Errors = []string{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	frames := r.FramesWritten + r.FramesRead + r.FramesRelayed
	_, err := fmt.Fprintf(w, "%s %q: %d frames in %.3fs (%.2f MB/s), %d errors\n",
		r.Operation, r.BufferName, frames, r.DurationSeconds, r.ThroughputMBPS, len(r.Errors))
	return err
}

// ExitCodeFor maps an error to the binaries' exit-code contract.
func ExitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, zerobuffer.ErrBufferNotFound),
		errors.Is(err, zerobuffer.ErrNoReader),
		errors.Is(err, zerobuffer.ErrReaderAlreadyConnected),
		errors.Is(err, zerobuffer.ErrWriterAlreadyConnected):
		return ExitConnectionFailed
	case errors.Is(err, zerobuffer.ErrFrameTooLarge),
		errors.Is(err, zerobuffer.ErrInvalidFrameSize),
		errors.Is(err, zerobuffer.ErrMetadataTooLarge),
		errors.Is(err, zerobuffer.ErrMetadataAlreadyWritten):
		return ExitInvalidArgs
	default:
		var seqErr *zerobuffer.SequenceError
		if errors.As(err, &seqErr) {
			return ExitValidationError
		}
		return ExitIOError
	}
}
