package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/skyward-obs/features-cli/internal/match"
	"github.com/skyward-obs/features-cli/internal/model"
	"github.com/skyward-obs/features-cli/pkg/kowalski"
)

// SelectOptions controls source selection for one unit.
type SelectOptions struct {
	Unit          model.Unit
	SourceCatalog string
	PageSize      int
	MinObs        int
	// StopEarly processes only the first listing page, for small test runs.
	StopEarly bool
	// Match configures the bright-star contamination filter.
	Match match.Params
}

// SelectSources lists every source of the unit and removes those too
// close to a bright star. The returned map is the working set for the
// rest of the run.
func SelectSources(ctx context.Context, src kowalski.Client, gaia match.ConeSearcher, opts SelectOptions) (map[uint64]model.Source, error) {
	log := zap.L().With(zap.String("unit", opts.Unit.String()))

	listed, err := src.FieldSources(ctx, opts.SourceCatalog,
		opts.Unit.Field, opts.Unit.CCD, opts.Unit.Quad,
		opts.PageSize, opts.MinObs, opts.StopEarly)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: list sources for %s", opts.Unit)
	}
	log.Info("pipeline: sources listed", zap.Int("count", len(listed)))

	sources := make(map[uint64]model.Source, len(listed))
	for _, fs := range listed {
		sources[fs.ID] = model.Source{
			ID:   fs.ID,
			Pos:  model.SkyPosition{Lon: fs.Lon, Dec: fs.Dec},
			Unit: opts.Unit,
		}
	}

	kept, dropped, err := match.DropCloseBrightStars(ctx, gaia, sources, opts.Match)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: bright-star filter for %s", opts.Unit)
	}
	log.Info("pipeline: selection done", zap.Int("kept", len(kept)), zap.Int("dropped", dropped))
	return kept, nil
}
