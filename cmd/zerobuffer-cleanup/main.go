// The cleanup tool sweeps the lock directory and removes rings whose reader
// and writer are both gone, the same sweep every new reader performs for its
// own name space.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gobwas/glob"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	zerobuffer "github.com/modelingevolution/zerobuffer-go"
	"github.com/modelingevolution/zerobuffer-go/internal/cli"
	"github.com/modelingevolution/zerobuffer-go/internal/logging"
	"github.com/modelingevolution/zerobuffer-go/internal/platform"
)

// Rings mid-teardown hold their resources for a moment; passes that could
// not inspect every matching ring are repeated on this cadence before the
// leftovers are reported.
const (
	rescanInterval = 100 * time.Millisecond
	rescanBudget   = 2 * time.Second
)

var errRingsBusy = errors.New("rings could not be inspected")

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	Pattern string
	DryRun  bool
	Verbose bool
}

var rootCmd = &cobra.Command{
	Use:   "zerobuffer-cleanup",
	Short: "Remove stale ring buffers left behind by dead processes",
	Run: func(rawCmd *cobra.Command, args []string) {
		os.Exit(run(cmd))
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.Pattern, "pattern", "p", "*", "Glob pattern of buffer names to sweep")
	rootCmd.Flags().BoolVarP(&cmd.DryRun, "dry-run", "n", false, "Report stale buffers without removing them")
	rootCmd.Flags().BoolVarP(&cmd.Verbose, "verbose", "v", false, "Enable debug logging")
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

	matcher, err := glob.Compile(cmd.Pattern)
	if err != nil {
		log.Error("invalid pattern", zap.String("pattern", cmd.Pattern), zap.Error(err))
		return cli.ExitInvalidArgs
	}

	var swept int
	seen := make(map[string]bool)
	pass := func() (int, error) {
		stale, failed, err := sweepPass(matcher, cmd.DryRun, seen, log)
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		swept += stale
		if failed > 0 {
			return 0, fmt.Errorf("%d %w", failed, errRingsBusy)
		}
		return swept, nil
	}

	_, err = backoff.Retry(context.Background(), pass,
		backoff.WithBackOff(backoff.NewConstantBackOff(rescanInterval)),
		backoff.WithMaxElapsedTime(rescanBudget),
	)
	if err != nil {
		if !errors.Is(err, errRingsBusy) {
			log.Error("failed to scan lock directory", zap.Error(err))
			return cli.ExitIOError
		}
		log.Warn("some rings stayed uninspectable", zap.Error(err))
	}

	log.Info("sweep finished", zap.Int("stale", swept))
	return cli.ExitOK
}

// sweepPass walks the lock directory once. It reports how many matching
// rings were stale (and, unless dry-run, removed) and how many could not be
// inspected this pass. Rings already counted on an earlier pass are skipped
// via seen, so dry-run re-scans do not double-count.
func sweepPass(matcher glob.Glob, dryRun bool, seen map[string]bool, log *zap.Logger) (stale, failed int, err error) {
	entries, err := os.ReadDir(platform.LockDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".lock")
		if !ok || entry.IsDir() || !matcher.Match(name) || seen[name] {
			continue
		}

		isStale, err := zerobuffer.SweepRing(name, dryRun)
		if err != nil {
			if !errors.Is(err, platform.ErrNotFound) {
				failed++
			}
			log.Debug("skipping ring", zap.String("ring", name), zap.Error(err))
			continue
		}
		if isStale {
			stale++
			seen[name] = true
			if dryRun {
				log.Info("stale ring", zap.String("ring", name))
			} else {
				log.Info("removed stale ring", zap.String("ring", name))
			}
		}
	}
	return stale, failed, nil
}
