package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	zerobuffer "github.com/modelingevolution/zerobuffer-go"
	"github.com/modelingevolution/zerobuffer-go/internal/cli"
	"github.com/modelingevolution/zerobuffer-go/internal/logging"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	Buffer     string
	Frames     uint64
	Size       int
	Pattern    string
	TimeoutMS  int
	Metadata   string
	JSONOutput bool
	Verbose    bool
}

var rootCmd = &cobra.Command{
	Use:   "zerobuffer-writer",
	Short: "Connect to a ring buffer and write test frames",
	Run: func(rawCmd *cobra.Command, args []string) {
		os.Exit(run(cmd))
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.Buffer, "buffer", "b", "", "Name of the ring buffer (required)")
	rootCmd.Flags().Uint64Var(&cmd.Frames, "frames", 1000, "Number of frames to write")
	rootCmd.Flags().IntVar(&cmd.Size, "size", 1024, "Payload size of each frame in bytes")
	rootCmd.Flags().StringVar(&cmd.Pattern, "pattern", "sequential", "Payload pattern: sequential, random or zero")
	rootCmd.Flags().IntVar(&cmd.TimeoutMS, "timeout-ms", 5000, "Timeout for connecting to the reader")
	rootCmd.Flags().StringVar(&cmd.Metadata, "metadata", "", "Metadata to publish before the first frame")
	rootCmd.Flags().BoolVar(&cmd.JSONOutput, "json-output", false, "Report the result as JSON")
	rootCmd.Flags().BoolVarP(&cmd.Verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.MarkFlagRequired("buffer")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(cli.ExitInvalidArgs)
	}
}

func run(cmd Cmd) int {
	cfg := logging.DefaultConfig()
	if cmd.Verbose {
		cfg.Level = zapcore.DebugLevel
	}
	log, _, err := logging.Init(&cfg)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return cli.ExitInvalidArgs
	}
	defer log.Sync()

	result := &cli.Result{Operation: "write", BufferName: cmd.Buffer}

	pattern, err := cli.ParsePattern(cmd.Pattern)
	if err != nil {
		result.AddError(err)
		result.Emit(os.Stdout, cmd.JSONOutput)
		return cli.ExitInvalidArgs
	}
	if cmd.Size <= 0 || cmd.Frames == 0 {
		result.AddError(fmt.Errorf("frames and size must be positive"))
		result.Emit(os.Stdout, cmd.JSONOutput)
		return cli.ExitInvalidArgs
	}

	// Wait up to the timeout for the ring and its reader to appear.
	deadline := time.Now().Add(time.Duration(cmd.TimeoutMS) * time.Millisecond)
	writer, err := zerobuffer.ConnectWriter(cmd.Buffer, zerobuffer.WithLogger(log))
	for err != nil && time.Now().Before(deadline) &&
		(errors.Is(err, zerobuffer.ErrBufferNotFound) || errors.Is(err, zerobuffer.ErrNoReader)) {
		time.Sleep(100 * time.Millisecond)
		writer, err = zerobuffer.ConnectWriter(cmd.Buffer, zerobuffer.WithLogger(log))
	}
	if err != nil {
		log.Error("failed to connect", zap.Error(err))
		result.AddError(err)
		result.Emit(os.Stdout, cmd.JSONOutput)
		return cli.ExitConnectionFailed
	}
	defer writer.Close()

	if cmd.Metadata != "" {
		if err := writer.SetMetadata([]byte(cmd.Metadata)); err != nil {
			result.AddError(err)
			result.Emit(os.Stdout, cmd.JSONOutput)
			return cli.ExitCodeFor(err)
		}
	}

	start := time.Now()
	for seq := uint64(1); seq <= cmd.Frames; seq++ {
		_, buf, err := writer.GetFrameBuffer(cmd.Size)
		if err == nil {
			pattern.Fill(seq, buf)
			err = writer.CommitFrame()
		}
		if err != nil {
			log.Error("write failed", zap.Uint64("frame", seq), zap.Error(err))
			result.AddError(err)
			result.Finish(start, result.FramesWritten*uint64(cmd.Size))
			result.Emit(os.Stdout, cmd.JSONOutput)
			return cli.ExitCodeFor(err)
		}
		result.FramesWritten++
	}

	result.Finish(start, result.FramesWritten*uint64(cmd.Size))
	log.Debug("done",
		zap.Uint64("frames", result.FramesWritten),
		zap.Duration("elapsed", time.Since(start)))
	if err := result.Emit(os.Stdout, cmd.JSONOutput); err != nil {
		return cli.ExitIOError
	}
	return cli.ExitOK
}
