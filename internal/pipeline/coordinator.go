package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/skyward-obs/features-cli/internal/config"
	"github.com/skyward-obs/features-cli/internal/match"
	"github.com/skyward-obs/features-cli/internal/model"
	"github.com/skyward-obs/features-cli/internal/output"
	"github.com/skyward-obs/features-cli/internal/periodsearch"
	"github.com/skyward-obs/features-cli/internal/store"
	"github.com/skyward-obs/features-cli/pkg/kowalski"
)

// Version is stamped into run records; overridden at build time.
var Version = "dev"

// Coordinator runs the full feature-generation pipeline for survey units.
type Coordinator struct {
	cfg    *config.Config
	store  store.Store
	src    kowalski.Client
	gaia   kowalski.Client
	alerts kowalski.Client
	xmatch []XMatchCatalog
	extras ExtraFeaturizer
}

// NewCoordinator creates a Coordinator with all dependencies.
func NewCoordinator(cfg *config.Config, st store.Store, src, gaia, alerts kowalski.Client, xmatch []XMatchCatalog, extras ExtraFeaturizer) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		store:  st,
		src:    src,
		gaia:   gaia,
		alerts: alerts,
		xmatch: xmatch,
		extras: extras,
	}
}

// RunOptions controls one coordinator run.
type RunOptions struct {
	// StopEarly limits the source listing to its first page for small test
	// runs.
	StopEarly bool
	// DryRun computes everything but writes no artifact and records nothing.
	DryRun bool
}

// Run processes one unit end to end and records the run.
func (c *Coordinator) Run(ctx context.Context, unit model.Unit, opts RunOptions) (*store.Run, error) {
	// Both modes at once is a configuration error, caught before the first
	// catalog query.
	if c.cfg.Period.CPU && c.cfg.Period.Accelerated {
		return nil, periodsearch.ErrExclusiveMode
	}

	log := zap.L().With(zap.String("unit", unit.String()))
	log.Info("pipeline: starting run")
	start := time.Now().UTC()

	matchParams := match.DefaultParams(c.cfg.Catalogs.Gaia)
	matchParams.QueryRadiusArcsec = c.cfg.Query.BrightStarRadiusArcsec
	matchParams.XMatchRadiusArcsec = c.cfg.Query.XMatchRadiusArcsec
	matchParams.Limit = c.cfg.Query.Limit
	matchParams.MagLimit = c.cfg.Query.BrightStarMagLimit

	sources, err := SelectSources(ctx, c.src, c.gaia, SelectOptions{
		Unit:          unit,
		SourceCatalog: c.cfg.Catalogs.Sources,
		PageSize:      c.cfg.Query.Limit,
		MinObs:        c.cfg.Query.MinObs,
		StopEarly:     opts.StopEarly,
		Match:         matchParams,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(sources))
	for id := range sources {
		ids = append(ids, id)
	}
	lcs, err := c.src.Lightcurves(ctx, c.cfg.Catalogs.Sources, ids, c.cfg.Query.Limit)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: fetch light curves for %s", unit)
	}
	log.Info("pipeline: light curves fetched", zap.Int("count", len(lcs)))

	table, err := ComputeFeatures(ctx, lcs, sources, FeatureOptions{
		Algorithms:        c.cfg.Period.Algorithms,
		MinPoints:         c.cfg.Filter.MinPoints,
		CadenceMinutes:    c.cfg.Filter.CadenceMinutes,
		CPU:               c.cfg.Period.CPU,
		Accelerated:       c.cfg.Period.Accelerated,
		SamplesPerPeak:    c.cfg.Period.SamplesPerPeak,
		LongPeriod:        c.cfg.Period.LongPeriod,
		RemoveTerrestrial: c.cfg.Period.RemoveTerrestrial,
		Parallel:          c.cfg.Period.Parallel,
		Ncore:             c.cfg.Period.Ncore,
		Extras:            c.extras,
	})
	if err != nil {
		return nil, err
	}

	if err := AnnotateAlerts(ctx, c.alerts, table, sources, AlertOptions{
		Catalog:      c.cfg.Catalogs.Alerts,
		RadiusArcsec: c.cfg.Query.XMatchRadiusArcsec,
		Limit:        c.cfg.Query.Limit,
	}); err != nil {
		return nil, err
	}

	if err := CrossMatch(ctx, c.gaia, table, sources, c.xmatch, c.cfg.XMatch.RadiusArcsec, c.cfg.Query.Limit); err != nil {
		return nil, err
	}

	meta := model.RunMeta{
		Unit:          unit,
		MinPoints:     c.cfg.Filter.MinPoints,
		Start:         start,
		End:           time.Now().UTC(),
		SourceCatalog: c.cfg.Catalogs.Sources,
		AlertsCatalog: c.cfg.Catalogs.Alerts,
		GaiaCatalog:   c.cfg.Catalogs.Gaia,
		Rows:          table.Len(),
		CodeVersion:   Version,
	}

	if opts.DryRun {
		log.Info("pipeline: dry run, skipping artifact and ledger",
			zap.Int("rows", table.Len()),
			zap.Duration("elapsed", meta.End.Sub(meta.Start)),
		)
		return &store.Run{Meta: meta}, nil
	}

	if err := os.MkdirAll(c.cfg.Output.Dirname, 0o755); err != nil {
		return nil, eris.Wrapf(err, "pipeline: create output dir %s", c.cfg.Output.Dirname)
	}
	artifact := filepath.Join(c.cfg.Output.Dirname, fmt.Sprintf("%s_field_%d_ccd_%d_quad_%d.parquet",
		c.cfg.Output.Filename, unit.Field, unit.CCD, unit.Quad))
	if err := output.WriteTable(artifact, table, meta); err != nil {
		return nil, err
	}
	log.Info("pipeline: artifact written", zap.String("path", artifact), zap.Int("rows", table.Len()))

	// The manifest is best effort; the run ledger below is authoritative.
	manifest := filepath.Join(c.cfg.Output.Dirname, "meta.json")
	if err := output.UpdateManifest(manifest, meta); err != nil {
		log.Warn("pipeline: manifest update failed", zap.Error(err))
	}

	run, err := c.store.RecordRun(ctx, meta)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: record run for %s", unit)
	}
	log.Info("pipeline: run recorded",
		zap.String("run_id", run.ID),
		zap.Int("rows", table.Len()),
		zap.Duration("elapsed", meta.End.Sub(meta.Start)),
	)
	return run, nil
}
