// Package pipeline orchestrates feature generation for one survey unit:
// source selection, light-curve cleaning, statistics, period search, and
// artifact output.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/skyward-obs/features-cli/internal/lcstats"
	"github.com/skyward-obs/features-cli/internal/lightcurve"
	"github.com/skyward-obs/features-cli/internal/model"
	"github.com/skyward-obs/features-cli/internal/periodsearch"
	"github.com/skyward-obs/features-cli/pkg/kowalski"
)

// ExtraFeaturizer computes additional named features from a cleaned time
// series. Nil disables the hook.
type ExtraFeaturizer func(t, m []float64) map[string]float64

// FeatureOptions controls the per-batch feature computation.
type FeatureOptions struct {
	MinPoints      int
	CadenceMinutes float64

	// Algorithms names the period-search backends to run, overriding the
	// mode-derived selection when non-empty.
	Algorithms []string

	// CPU and Accelerated select the period-search execution mode. Setting
	// both is a configuration error; setting neither skips the search and
	// records a unit period.
	CPU         bool
	Accelerated bool

	SamplesPerPeak    int
	LongPeriod        bool
	RemoveTerrestrial bool
	Parallel          bool
	Ncore             int

	Extras ExtraFeaturizer
}

// algorithms maps the execution mode to registered backends. The "Ones"
// pseudo-algorithm marks runs where no search was requested.
func (o FeatureOptions) algorithms() ([]string, error) {
	if o.CPU && o.Accelerated {
		return nil, periodsearch.ErrExclusiveMode
	}
	if len(o.Algorithms) > 0 {
		return o.Algorithms, nil
	}
	switch {
	case o.CPU:
		return []string{"LS"}, nil
	case o.Accelerated:
		return []string{"PDM"}, nil
	default:
		return []string{"Ones"}, nil
	}
}

// ComputeFeatures cleans each light curve, computes the statistics battery
// for the survivors, runs the period search, and returns the populated
// feature table. Sources are dropped silently when their cleaned series is
// shorter than MinPoints; a malformed light curve drops its source with a
// warning instead of failing the batch. An empty result is valid.
func ComputeFeatures(ctx context.Context, lcs []kowalski.Lightcurve, sources map[uint64]model.Source, opts FeatureOptions) (*model.FeatureTable, error) {
	// Mode conflicts surface before any work happens.
	algos, err := opts.algorithms()
	if err != nil {
		return nil, err
	}

	log := zap.L()
	table := model.NewFeatureTable()

	sort.Slice(lcs, func(i, j int) bool { return lcs[i].ID < lcs[j].ID })

	var (
		survivorIDs []uint64
		series      []lightcurve.TimeSeries
		maxBaseline float64
	)

	dtEdges, dmEdges := lcstats.DefaultDmdtBins()

	// The statistics battery and the frequency grid both need a real time
	// baseline, whatever floor the configuration sets.
	minPoints := opts.MinPoints
	if minPoints < 2 {
		minPoints = 2
	}

	for _, lc := range lcs {
		src, ok := sources[lc.ID]
		if !ok {
			log.Warn("pipeline: light curve for unselected source", zap.Uint64("id", lc.ID))
			continue
		}

		ts, err := lightcurve.FromEpochs(lc.Data)
		if err != nil {
			log.Warn("pipeline: dropping malformed light curve", zap.Uint64("id", lc.ID), zap.Error(err))
			continue
		}
		ts = ts.CollapseHighCadence(opts.CadenceMinutes)
		if ts.Len() < minPoints {
			continue
		}

		table.Add(lc.ID)
		table.SetInt(lc.ID, "_id", int64(lc.ID))
		table.Set(lc.ID, "ra", src.Pos.RA())
		table.Set(lc.ID, "dec", src.Pos.Dec)
		table.SetInt(lc.ID, "field", int64(src.Unit.Field))
		table.SetInt(lc.ID, "ccd", int64(src.Unit.CCD))
		table.SetInt(lc.ID, "quad", int64(src.Unit.Quad))
		table.SetInt(lc.ID, "filter", int64(lc.Filter))

		setBasicStats(table, lc.ID, lcstats.CalcBasicStats(ts.T, ts.M, ts.E))

		if opts.Extras != nil {
			setExtras(table, lc.ID, opts.Extras(ts.T, ts.M))
		}

		hist := lcstats.ComputeDmdt(ts.T, ts.M, dtEdges, dmEdges)
		histJSON, err := json.Marshal(hist)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: marshal dmdt for %d", lc.ID)
		}
		table.SetString(lc.ID, "dmdt", string(histJSON))

		survivorIDs = append(survivorIDs, lc.ID)
		series = append(series, ts)
		if b := ts.Baseline(); b > maxBaseline {
			maxBaseline = b
		}
	}

	if len(survivorIDs) == 0 {
		log.Info("pipeline: no sources survived cleaning", zap.Int("input", len(lcs)))
		return table, nil
	}

	grid := periodsearch.BuildGrid(maxBaseline, float64(opts.SamplesPerPeak), opts.LongPeriod)
	searchOpts := periodsearch.Options{
		Parallel: opts.Parallel,
		Ncore:    opts.Ncore,
	}
	if opts.RemoveTerrestrial {
		searchOpts.ExcludeBands = periodsearch.TerrestrialBands()
	}

	for _, algo := range algos {
		results, err := runAlgorithm(ctx, algo, series, grid, searchOpts)
		if err != nil {
			return nil, err
		}
		for i, id := range survivorIDs {
			r := results[i]
			table.Set(id, "period_"+algo, r.Period)
			table.Set(id, "significance_"+algo, r.Significance)
			table.Set(id, "pdot_"+algo, r.Pdot)
			setFourierStats(table, id, algo, lcstats.CalcFourierStats(series[i].T, series[i].M, series[i].E, r.Period))
		}
	}

	log.Info("pipeline: features computed",
		zap.Int("input", len(lcs)),
		zap.Int("survived", len(survivorIDs)),
		zap.Float64("baseline_days", maxBaseline),
	)
	return table, nil
}

func runAlgorithm(ctx context.Context, algo string, series []lightcurve.TimeSeries, grid periodsearch.Grid, opts periodsearch.Options) ([]periodsearch.Result, error) {
	if algo == "Ones" {
		zap.L().Warn("pipeline: no period search mode selected, recording unit periods")
		results := make([]periodsearch.Result, len(series))
		for i := range results {
			results[i] = periodsearch.Result{Period: 1.0}
		}
		return results, nil
	}

	strategy, ok := periodsearch.Lookup(algo)
	if !ok {
		return nil, eris.Errorf("pipeline: unknown period algorithm %q", algo)
	}
	results, err := strategy.FindPeriods(ctx, series, grid, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: %s period search", algo)
	}
	return results, nil
}

func setBasicStats(table *model.FeatureTable, id uint64, s lcstats.BasicStats) {
	table.SetInt(id, "n", int64(s.N))
	table.Set(id, "median", s.Median)
	table.Set(id, "wmean", s.WMean)
	table.Set(id, "chi2red", s.Chi2Red)
	table.Set(id, "roms", s.RoMS)
	table.Set(id, "wstd", s.WStd)
	table.Set(id, "norm_peak_to_peak_amp", s.NormPeakToPeakAmp)
	table.Set(id, "norm_excess_var", s.NormExcessVar)
	table.Set(id, "median_abs_dev", s.MedianAbsDev)
	table.Set(id, "iqr", s.IQR)
	table.Set(id, "i60r", s.I60R)
	table.Set(id, "i70r", s.I70R)
	table.Set(id, "i80r", s.I80R)
	table.Set(id, "i90r", s.I90R)
	table.Set(id, "skew", s.Skew)
	table.Set(id, "smallkurt", s.SmallKurt)
	table.Set(id, "inv_vonneumannratio", s.InvNeumann)
	table.Set(id, "welch_i", s.WelchI)
	table.Set(id, "stetson_j", s.StetsonJ)
	table.Set(id, "stetson_k", s.StetsonK)
	table.Set(id, "ad", s.AD)
	table.Set(id, "sw", s.SW)
}

func setExtras(table *model.FeatureTable, id uint64, extras map[string]float64) {
	names := make([]string, 0, len(extras))
	for name := range extras {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		table.Set(id, name, extras[name])
	}
}

func setFourierStats(table *model.FeatureTable, id uint64, algo string, f lcstats.FourierStats) {
	table.Set(id, "f1_power_"+algo, f.Power)
	table.Set(id, "f1_BIC_"+algo, f.BIC)
	table.Set(id, "f1_a_"+algo, f.A)
	table.Set(id, "f1_b_"+algo, f.B)
	table.Set(id, "f1_amp_"+algo, f.Amp)
	table.Set(id, "f1_phi0_"+algo, f.Phi0)
	for k := 0; k < len(f.RelAmp); k++ {
		table.Set(id, fmt.Sprintf("f1_relamp%d_%s", k+1, algo), f.RelAmp[k])
		table.Set(id, fmt.Sprintf("f1_relphi%d_%s", k+1, algo), f.RelPhi[k])
	}
}
