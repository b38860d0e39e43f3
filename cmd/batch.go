package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skyward-obs/features-cli/internal/lcstats"
	"github.com/skyward-obs/features-cli/internal/model"
	"github.com/skyward-obs/features-cli/internal/pipeline"
	"github.com/skyward-obs/features-cli/internal/store"
)

var (
	batchFile        string
	batchConcurrency int
	batchStopEarly   bool
	batchExtras      bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Generate features for a list of survey units",
	Long:  "Reads a whitespace-delimited job file (columns: job field ccd quad) and processes each unit, limited to the configured concurrency.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		units, err := parseJobFile(batchFile)
		if err != nil {
			return err
		}

		var extras pipeline.ExtraFeaturizer
		if batchExtras {
			extras = lcstats.ExtraFeatures
		}

		env, err := initPipeline(ctx, extras)
		if err != nil {
			return err
		}
		defer env.Close()

		return processBatch(ctx, units, batchConcurrency, func(ctx context.Context, unit model.Unit) (*store.Run, error) {
			return env.Coordinator.Run(ctx, unit, pipeline.RunOptions{StopEarly: batchStopEarly})
		})
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "jobs", "", "path to the job file (required)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 2, "max units processed at once")
	batchCmd.Flags().BoolVar(&batchStopEarly, "stop-early", false, "process only the first listing page per unit")
	batchCmd.Flags().BoolVar(&batchExtras, "extras", false, "compute the supplementary feature set")
	_ = batchCmd.MarkFlagRequired("jobs")
	rootCmd.AddCommand(batchCmd)
}

// parseJobFile reads a whitespace-delimited job list. Each line carries a
// job number followed by field, CCD, and quadrant; blank lines and lines
// starting with # are skipped.
func parseJobFile(path string) ([]model.Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: open job file %s", path)
	}
	defer f.Close() //nolint:errcheck

	var units []model.Unit
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cols := strings.Fields(line)
		if len(cols) < 4 {
			return nil, eris.Errorf("batch: job file line %d: want 4 columns (job field ccd quad), got %d", lineNo, len(cols))
		}

		field, err := strconv.Atoi(cols[1])
		if err != nil {
			return nil, eris.Wrapf(err, "batch: job file line %d: field", lineNo)
		}
		ccd, err := strconv.Atoi(cols[2])
		if err != nil {
			return nil, eris.Wrapf(err, "batch: job file line %d: ccd", lineNo)
		}
		quad, err := strconv.Atoi(cols[3])
		if err != nil {
			return nil, eris.Wrapf(err, "batch: job file line %d: quad", lineNo)
		}

		units = append(units, model.Unit{Field: field, CCD: ccd, Quad: quad})
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "batch: read job file %s", path)
	}
	return units, nil
}

// runFunc is the callback signature for processing one unit.
type runFunc func(ctx context.Context, unit model.Unit) (*store.Run, error)

// processBatch runs the units concurrently with the given processor. An
// individual unit failure is logged and counted but does not abort the
// batch; cancellation does.
func processBatch(ctx context.Context, units []model.Unit, concurrency int, run runFunc) error {
	if len(units) == 0 {
		zap.L().Info("no units in job file")
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("units", len(units)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for _, unit := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			log := zap.L().With(zap.String("unit", unit.String()))
			res, err := run(gctx, unit)
			if err != nil {
				failed.Add(1)
				log.Error("unit failed", zap.Error(err))
				return nil // keep going on individual failure
			}

			succeeded.Add(1)
			log.Info("unit complete",
				zap.String("run_id", res.ID),
				zap.Int("rows", res.Meta.Rows),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}
