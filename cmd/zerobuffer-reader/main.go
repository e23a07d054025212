package main

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
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
	Buffer       string
	Frames       uint64
	MetadataSize string
	PayloadSize  string
	TimeoutMS    int
	Verify       string
	JSONOutput   bool
	Verbose      bool
}

var rootCmd = &cobra.Command{
	Use:   "zerobuffer-reader",
	Short: "Create a ring buffer and read test frames",
	Run: func(rawCmd *cobra.Command, args []string) {
		os.Exit(run(cmd))
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.Buffer, "buffer", "b", "", "Name of the ring buffer (required)")
	rootCmd.Flags().Uint64Var(&cmd.Frames, "frames", 1000, "Number of frames to read")
	rootCmd.Flags().StringVar(&cmd.MetadataSize, "metadata-size", "4KB", "Capacity of the metadata block")
	rootCmd.Flags().StringVar(&cmd.PayloadSize, "payload-size", "1MB", "Capacity of the payload ring")
	rootCmd.Flags().IntVar(&cmd.TimeoutMS, "timeout-ms", 5000, "Timeout for each frame read")
	rootCmd.Flags().StringVar(&cmd.Verify, "verify", "", "Verify payloads against a pattern: sequential, random or zero")
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

	result := &cli.Result{Operation: "read", BufferName: cmd.Buffer}

	var pattern cli.Pattern
	if cmd.Verify != "" {
		if pattern, err = cli.ParsePattern(cmd.Verify); err != nil {
			result.AddError(err)
			result.Emit(os.Stdout, cmd.JSONOutput)
			return cli.ExitInvalidArgs
		}
	}

	var metaSize, payloadSize datasize.ByteSize
	if err := metaSize.UnmarshalText([]byte(cmd.MetadataSize)); err != nil {
		result.AddError(fmt.Errorf("invalid metadata size: %w", err))
		result.Emit(os.Stdout, cmd.JSONOutput)
		return cli.ExitInvalidArgs
	}
	if err := payloadSize.UnmarshalText([]byte(cmd.PayloadSize)); err != nil {
		result.AddError(fmt.Errorf("invalid payload size: %w", err))
		result.Emit(os.Stdout, cmd.JSONOutput)
		return cli.ExitInvalidArgs
	}

	reader, err := zerobuffer.NewReader(cmd.Buffer, zerobuffer.BufferConfig{
		MetadataSize: metaSize,
		PayloadSize:  payloadSize,
	}, zerobuffer.WithLogger(log))
	if err != nil {
		log.Error("failed to create ring", zap.Error(err))
		result.AddError(err)
		result.Emit(os.Stdout, cmd.JSONOutput)
		return cli.ExitConnectionFailed
	}
	defer reader.Close()

	timeout := time.Duration(cmd.TimeoutMS) * time.Millisecond
	start := time.Now()
	var bytes uint64

	for result.FramesRead < cmd.Frames {
		frame, err := reader.ReadFrame(timeout)
		if err != nil {
			log.Error("read failed", zap.Error(err))
			result.AddError(err)
			result.Finish(start, bytes)
			result.Emit(os.Stdout, cmd.JSONOutput)
			return cli.ExitCodeFor(err)
		}
		if frame == nil {
			result.AddError(fmt.Errorf("timed out after %d frames", result.FramesRead))
			result.Finish(start, bytes)
			result.Emit(os.Stdout, cmd.JSONOutput)
			return cli.ExitIOError
		}

		if cmd.Verify != "" {
			if err := pattern.Verify(frame.Sequence(), frame.Data()); err != nil {
				frame.Release()
				log.Error("verification failed", zap.Error(err))
				result.AddError(err)
				result.Finish(start, bytes)
				result.Emit(os.Stdout, cmd.JSONOutput)
				return cli.ExitValidationError
			}
		}

		bytes += uint64(frame.Size())
		result.FramesRead++
		frame.Release()
	}

	result.Finish(start, bytes)
	log.Debug("done",
		zap.Uint64("frames", result.FramesRead),
		zap.Duration("elapsed", time.Since(start)))
	if err := result.Emit(os.Stdout, cmd.JSONOutput); err != nil {
		return cli.ExitIOError
	}
	return cli.ExitOK
}
