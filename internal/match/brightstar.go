// Package match implements the bright-star contamination filter: sources
// whose photometry would be corrupted by a nearby bright star are removed
// from the batch before feature generation.
package match

import (
	"context"
	"math"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/skyward-obs/features-cli/internal/astro"
	"github.com/skyward-obs/features-cli/internal/model"
	"github.com/skyward-obs/features-cli/pkg/kowalski"
)

// ConeSearcher is the slice of the catalog client this filter needs.
type ConeSearcher interface {
	ConeSearch(ctx context.Context, req kowalski.ConeSearchRequest) (map[string][]kowalski.Record, error)
}

// Params controls the bright-star filter.
type Params struct {
	// Catalog is the bright-star catalog to query.
	Catalog string
	// QueryRadiusArcsec is the cone radius searched around each source; the
	// default 300 matches the largest exclusion radius any star can have.
	QueryRadiusArcsec float64
	// XMatchRadiusArcsec is the radius within which the nearest returned
	// star is treated as the catalog's own detection of the source.
	XMatchRadiusArcsec float64
	// Limit is the number of sources per cone-search request.
	Limit int
	// MagLimit keeps the query to stars bright enough to matter. The
	// Tycho conversion is only valid below it.
	MagLimit float64
}

// DefaultParams returns the standard filter parameters for a Gaia catalog.
func DefaultParams(catalog string) Params {
	return Params{
		Catalog:            catalog,
		QueryRadiusArcsec:  300.0,
		XMatchRadiusArcsec: 2.0,
		Limit:              10000,
		MagLimit:           13.0,
	}
}

// DropCloseBrightStars returns the subset of sources far enough from any
// bright star, plus the number dropped. Sources with no returned
// candidates are always kept. The drop set is computed first and applied
// in one pass afterwards.
func DropCloseBrightStars(ctx context.Context, client ConeSearcher, sources map[uint64]model.Source, p Params) (map[uint64]model.Source, int, error) {
	if p.Limit <= 0 {
		p.Limit = 10000
	}

	ids := make([]uint64, 0, len(sources))
	for id := range sources {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	nBatches := (len(ids) + p.Limit - 1) / p.Limit
	log := zap.L().With(zap.String("catalog", p.Catalog))
	log.Info("match: querying bright-star catalog in batches", zap.Int("sources", len(ids)), zap.Int("batches", nBatches))

	results := make(map[string][]kowalski.Record, len(ids))
	for i := 0; i < nBatches; i++ {
		batch := ids[i*p.Limit : min((i+1)*p.Limit, len(ids))]

		positions := make(map[string][2]float64, len(batch))
		for _, id := range batch {
			pos := sources[id].Pos
			positions[strconv.FormatUint(id, 10)] = [2]float64{pos.Lon, pos.Dec}
		}

		res, err := client.ConeSearch(ctx, kowalski.ConeSearchRequest{
			Positions:    positions,
			RadiusArcsec: p.QueryRadiusArcsec,
			Catalog:      p.Catalog,
			Filter:       map[string]any{"phot_g_mean_mag": map[string]any{"$lt": p.MagLimit}},
			Projection: map[string]int{
				"phot_g_mean_mag": 1,
				"bp_rp":           1,
				"coordinates.radec_geojson.coordinates": 1,
			},
		})
		if err != nil {
			return nil, 0, err
		}
		for k, v := range res {
			results[k] = v
		}
		log.Info("match: batch done", zap.Int("iteration", i+1), zap.Int("of", nBatches))
	}

	log.Info("match: identifying sources too close to bright stars")
	drop := make(map[uint64]bool)
	for _, id := range ids {
		recs, ok := results[strconv.FormatUint(id, 10)]
		if !ok {
			// The query should echo every input id; a hole here means the
			// batching went wrong, which must not take the run down.
			log.Warn("match: cone search returned no entry for id", zap.Uint64("id", id))
			continue
		}
		if contaminated(sources[id].Pos, recs, p.XMatchRadiusArcsec) {
			drop[id] = true
		}
	}

	kept := make(map[uint64]model.Source, len(sources)-len(drop))
	for id, src := range sources {
		if !drop[id] {
			kept[id] = src
		}
	}
	log.Info("match: dropped sources near bright stars", zap.Int("dropped", len(drop)), zap.Int("kept", len(kept)))
	return kept, len(drop), nil
}

// contaminated decides whether any candidate bright star sits inside its
// own exclusion radius around the source.
func contaminated(pos model.SkyPosition, recs []kowalski.Record, xmatchRadius float64) bool {
	if len(recs) == 0 {
		return false
	}

	cands := make([]model.CandidateMatch, 0, len(recs))
	for _, rec := range recs {
		lon, dec, ok := rec.Coordinates()
		if !ok {
			continue
		}
		mag, ok := rec.Float("phot_g_mean_mag")
		if !ok {
			mag = math.NaN()
		}
		color, ok := rec.Float("bp_rp")
		if !ok {
			color = math.NaN()
		}
		cands = append(cands, model.CandidateMatch{
			Mag:   mag,
			Color: color,
			Pos:   model.SkyPosition{Lon: lon, Dec: dec},
		})
	}
	if len(cands) == 0 {
		return false
	}

	// Closest candidate first: if it falls within the crossmatch radius it
	// is the catalog's detection of this source, not a contaminant.
	nearest := 0
	nearestSep := astro.Separation(pos, cands[0].Pos)
	for i := 1; i < len(cands); i++ {
		if sep := astro.Separation(pos, cands[i].Pos); sep < nearestSep {
			nearest, nearestSep = i, sep
		}
	}

	ref := pos
	if nearestSep < xmatchRadius {
		// Prefer the catalog's own astrometry for the reference position.
		ref = cands[nearest].Pos
		cands = append(cands[:nearest], cands[nearest+1:]...)
	}

	for _, cand := range cands {
		b, v, ok := astro.TychoBVFromGaia(cand.Mag, cand.Color)
		if !ok {
			continue
		}
		radius := astro.ExcludeRadius(b, v)
		if radius <= 0 {
			continue
		}
		sep := astro.Separation(ref, cand.Pos)
		// A zero separation is the same physical star, never a contaminant.
		if sep > 0 && sep < radius {
			return true
		}
	}
	return false
}
