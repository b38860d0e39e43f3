package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skyward-obs/features-cli/internal/lcstats"
	"github.com/skyward-obs/features-cli/internal/model"
	"github.com/skyward-obs/features-cli/internal/pipeline"
)

var (
	genField     int
	genCCD       int
	genQuad      int
	genJobFile   string
	genJobIndex  int
	genStopEarly bool
	genDryRun    bool
	genExtras    bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate features for one survey unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyGenerateOverrides(cmd)

		unit := model.Unit{Field: genField, CCD: genCCD, Quad: genQuad}
		if genJobFile != "" {
			units, err := parseJobFile(genJobFile)
			if err != nil {
				return err
			}
			if genJobIndex < 0 || genJobIndex >= len(units) {
				return eris.Errorf("generate: job index %d out of range (%d jobs)", genJobIndex, len(units))
			}
			unit = units[genJobIndex]
		}

		var extras pipeline.ExtraFeaturizer
		if genExtras {
			extras = lcstats.ExtraFeatures
		}

		env, err := initPipeline(ctx, extras)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Coordinator.Run(ctx, unit, pipeline.RunOptions{
			StopEarly: genStopEarly,
			DryRun:    genDryRun,
		})
		if err != nil {
			return err
		}

		zap.L().Info("generate complete",
			zap.String("unit", unit.String()),
			zap.String("run_id", run.ID),
			zap.Int("rows", run.Meta.Rows),
			zap.Bool("dry_run", genDryRun),
		)
		return nil
	},
}

// applyGenerateOverrides copies explicitly set flags over the loaded config
// so the flag surface mirrors the config file key for key.
func applyGenerateOverrides(cmd *cobra.Command) {
	f := cmd.Flags()

	if f.Changed("source-catalog") {
		cfg.Catalogs.Sources, _ = f.GetString("source-catalog")
	}
	if f.Changed("alerts-catalog") {
		cfg.Catalogs.Alerts, _ = f.GetString("alerts-catalog")
	}
	if f.Changed("gaia-catalog") {
		cfg.Catalogs.Gaia, _ = f.GetString("gaia-catalog")
	}
	if f.Changed("query-radius") {
		cfg.Query.BrightStarRadiusArcsec, _ = f.GetFloat64("query-radius")
	}
	if f.Changed("xmatch-radius") {
		r, _ := f.GetFloat64("xmatch-radius")
		cfg.Query.XMatchRadiusArcsec = r
		cfg.XMatch.RadiusArcsec = r
	}
	if f.Changed("limit") {
		cfg.Query.Limit, _ = f.GetInt("limit")
	}
	if f.Changed("algorithms") {
		cfg.Period.Algorithms, _ = f.GetStringSlice("algorithms")
	}
	if f.Changed("cpu") {
		cfg.Period.CPU, _ = f.GetBool("cpu")
	}
	if f.Changed("accel") {
		cfg.Period.Accelerated, _ = f.GetBool("accel")
	}
	if f.Changed("samples-per-peak") {
		cfg.Period.SamplesPerPeak, _ = f.GetInt("samples-per-peak")
	}
	if f.Changed("long-period") {
		cfg.Period.LongPeriod, _ = f.GetBool("long-period")
	}
	if f.Changed("remove-terrestrial") {
		cfg.Period.RemoveTerrestrial, _ = f.GetBool("remove-terrestrial")
	}
	if f.Changed("parallel") {
		cfg.Period.Parallel, _ = f.GetBool("parallel")
	}
	if f.Changed("ncore") {
		cfg.Period.Ncore, _ = f.GetInt("ncore")
	}
	if f.Changed("min-points") {
		cfg.Filter.MinPoints, _ = f.GetInt("min-points")
	}
	if f.Changed("cadence-minutes") {
		cfg.Filter.CadenceMinutes, _ = f.GetFloat64("cadence-minutes")
	}
	if f.Changed("dirname") {
		cfg.Output.Dirname, _ = f.GetString("dirname")
	}
	if f.Changed("filename") {
		cfg.Output.Filename, _ = f.GetString("filename")
	}
	if f.Changed("xmatch-file") {
		cfg.XMatch.CatalogsFile, _ = f.GetString("xmatch-file")
	}
}

func init() {
	f := generateCmd.Flags()

	f.IntVar(&genField, "field", 296, "survey field to process")
	f.IntVar(&genCCD, "ccd", 1, "CCD to process")
	f.IntVar(&genQuad, "quad", 1, "readout quadrant to process")
	f.StringVar(&genJobFile, "job-file", "", "job-list file; overrides --field/--ccd/--quad")
	f.IntVar(&genJobIndex, "job-index", 0, "zero-based line to pick from the job file")

	f.String("source-catalog", "", "source catalog collection")
	f.String("alerts-catalog", "", "alerts catalog collection")
	f.String("gaia-catalog", "", "Gaia catalog collection")
	f.Float64("query-radius", 0, "bright-star query radius in arcsec")
	f.Float64("xmatch-radius", 0, "cross-match radius in arcsec")
	f.Int("limit", 0, "page/batch size for catalog queries")

	f.StringSlice("algorithms", nil, "period-search backends to run, overriding --cpu/--accel")
	f.Bool("cpu", false, "run the CPU period search")
	f.Bool("accel", false, "run the accelerated period search")
	f.Int("samples-per-peak", 0, "frequency grid oversampling factor")
	f.Bool("long-period", false, "cap the frequency grid at 48 cycles/day")
	f.Bool("remove-terrestrial", false, "mask terrestrial frequency bands")
	f.Bool("parallel", false, "fan the period search out across cores")
	f.Int("ncore", 0, "worker count for the parallel period search")

	f.Int("min-points", 0, "minimum cleaned light-curve length")
	f.Float64("cadence-minutes", 0, "high-cadence collapse window in minutes")

	f.String("dirname", "", "output directory")
	f.String("filename", "", "output file prefix")
	f.String("xmatch-file", "", "external cross-match catalogs yaml")
	f.BoolVar(&genExtras, "extras", false, "compute the supplementary feature set")
	f.BoolVar(&genDryRun, "dry-run", false, "compute features but write nothing")
	f.BoolVar(&genStopEarly, "stop-early", false, "process only the first listing page")

	rootCmd.AddCommand(generateCmd)
}
