// The relay bridges two rings: it creates an input ring, connects to an
// existing output ring and forwards every frame, preserving payloads while
// the output ring assigns its own sequence numbers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	zerobuffer "github.com/modelingevolution/zerobuffer-go"
	"github.com/modelingevolution/zerobuffer-go/internal/cli"
	"github.com/modelingevolution/zerobuffer-go/internal/logging"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	ConfigPath string
	Input      string
	Output     string
	Frames     uint64
	TimeoutMS  int
	JSONOutput bool
}

var rootCmd = &cobra.Command{
	Use:   "zerobuffer-relay",
	Short: "Relay frames between two ring buffers",
	Run: func(rawCmd *cobra.Command, args []string) {
		os.Exit(run(cmd))
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file")
	rootCmd.Flags().StringVar(&cmd.Input, "input", "", "Name of the input ring (overrides config)")
	rootCmd.Flags().StringVar(&cmd.Output, "output", "", "Name of the output ring (overrides config)")
	rootCmd.Flags().Uint64Var(&cmd.Frames, "frames", 0, "Stop after relaying this many frames (0 = until writer disconnects)")
	rootCmd.Flags().IntVar(&cmd.TimeoutMS, "timeout-ms", 5000, "Timeout for each frame read")
	rootCmd.Flags().BoolVar(&cmd.JSONOutput, "json-output", false, "Report the result as JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(cli.ExitInvalidArgs)
	}
}

func run(cmd Cmd) int {
	cfg := DefaultConfig()
	if cmd.ConfigPath != "" {
		loaded, err := LoadConfig(cmd.ConfigPath)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			return cli.ExitInvalidArgs
		}
		cfg = loaded
	}
	if cmd.Input != "" {
		cfg.Input = cmd.Input
	}
	if cmd.Output != "" {
		cfg.Output = cmd.Output
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return cli.ExitInvalidArgs
	}
	defer log.Sync()

	result := &cli.Result{Operation: "relay", BufferName: cfg.Input}
	if cfg.Input == "" || cfg.Output == "" {
		result.AddError(fmt.Errorf("both input and output rings are required"))
		result.Emit(os.Stdout, cmd.JSONOutput)
		return cli.ExitInvalidArgs
	}

	reader, err := zerobuffer.NewReader(cfg.Input, cfg.Buffer, zerobuffer.WithLogger(log))
	if err != nil {
		log.Error("failed to create input ring", zap.Error(err))
		result.AddError(err)
		result.Emit(os.Stdout, cmd.JSONOutput)
		return cli.ExitConnectionFailed
	}
	defer reader.Close()

	writer, err := zerobuffer.ConnectWriter(cfg.Output, zerobuffer.WithLogger(log))
	if err != nil {
		log.Error("failed to connect output ring", zap.Error(err))
		result.AddError(err)
		result.Emit(os.Stdout, cmd.JSONOutput)
		return cli.ExitConnectionFailed
	}
	defer writer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	timeout := time.Duration(cmd.TimeoutMS) * time.Millisecond
	start := time.Now()
	var bytes uint64

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		for cmd.Frames == 0 || result.FramesRelayed < cmd.Frames {
			if ctx.Err() != nil {
				return nil
			}
			frame, err := reader.ReadFrame(timeout)
			if err != nil {
				if errors.Is(err, zerobuffer.ErrWriterDead) && cmd.Frames == 0 {
					return nil
				}
				return err
			}
			if frame == nil {
				return fmt.Errorf("timed out after %d frames", result.FramesRelayed)
			}

			_, buf, err := writer.GetFrameBuffer(frame.Size())
			if err == nil {
				copy(buf, frame.Data())
				err = writer.CommitFrame()
			}
			bytes += uint64(frame.Size())
			frame.Release()
			if err != nil {
				return err
			}
			result.FramesRelayed++
		}
		return nil
	})

	err = wg.Wait()
	result.Finish(start, bytes)
	if err != nil {
		log.Error("relay failed", zap.Error(err))
		result.AddError(err)
		result.Emit(os.Stdout, cmd.JSONOutput)
		return cli.ExitCodeFor(err)
	}

	log.Info("relay finished", zap.Uint64("frames", result.FramesRelayed))
	if err := result.Emit(os.Stdout, cmd.JSONOutput); err != nil {
		return cli.ExitIOError
	}
	return cli.ExitOK
}
