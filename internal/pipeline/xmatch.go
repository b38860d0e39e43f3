package pipeline

import (
	"context"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/skyward-obs/features-cli/internal/astro"
	"github.com/skyward-obs/features-cli/internal/match"
	"github.com/skyward-obs/features-cli/internal/model"
	"github.com/skyward-obs/features-cli/pkg/kowalski"
)

// XMatchCatalog describes one external catalog to cross match against.
type XMatchCatalog struct {
	Name string `yaml:"name"`
	// Projection lists the fields copied into the feature table as
	// "<catalog>__<field>" columns.
	Projection []string `yaml:"projection"`
	// RadiusArcsec overrides the default match radius when positive.
	RadiusArcsec float64 `yaml:"radius_arcsec"`
	// Filter is an optional predicate forwarded to the query.
	Filter map[string]any `yaml:"filter"`
}

type xmatchFile struct {
	Catalogs []XMatchCatalog `yaml:"catalogs"`
}

// LoadXMatchCatalogs reads the external-catalog configuration. An empty
// path disables cross matching.
func LoadXMatchCatalogs(path string) ([]XMatchCatalog, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read xmatch config %s", path)
	}

	var f xmatchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse xmatch config %s", path)
	}
	for _, c := range f.Catalogs {
		if c.Name == "" {
			return nil, eris.Errorf("pipeline: xmatch catalog without a name in %s", path)
		}
	}
	return f.Catalogs, nil
}

// CrossMatch annotates each surviving source with the nearest record from
// every configured external catalog. Unmatched sources keep null columns.
func CrossMatch(ctx context.Context, client match.ConeSearcher, table *model.FeatureTable, sources map[uint64]model.Source, catalogs []XMatchCatalog, defaultRadius float64, limit int) error {
	ids := table.IDs()
	if len(ids) == 0 || len(catalogs) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = 10000
	}

	for _, cat := range catalogs {
		radius := cat.RadiusArcsec
		if radius <= 0 {
			radius = defaultRadius
		}

		projection := map[string]int{"coordinates.radec_geojson.coordinates": 1}
		for _, field := range cat.Projection {
			projection[field] = 1
		}

		log := zap.L().With(zap.String("catalog", cat.Name))
		log.Info("pipeline: cross matching", zap.Int("sources", len(ids)), zap.Float64("radius_arcsec", radius))

		results, err := batchedConeSearch(ctx, client, ids, sources, kowalski.ConeSearchRequest{
			RadiusArcsec: radius,
			Catalog:      cat.Name,
			Filter:       cat.Filter,
			Projection:   projection,
		}, limit)
		if err != nil {
			return eris.Wrapf(err, "pipeline: cross match %s", cat.Name)
		}

		matched := 0
		for _, id := range ids {
			recs := results[strconv.FormatUint(id, 10)]
			rec, ok := nearestRecord(sources[id].Pos, recs)
			if !ok {
				continue
			}
			matched++
			for _, field := range cat.Projection {
				col := cat.Name + "__" + field
				switch v := rec[field].(type) {
				case float64:
					table.Set(id, col, v)
				case string:
					table.SetString(id, col, v)
				}
			}
		}
		log.Info("pipeline: cross match done", zap.Int("matched", matched))
	}
	return nil
}

// nearestRecord picks the record closest to the source. Records without
// coordinates fall back to the service ordering.
func nearestRecord(pos model.SkyPosition, recs []kowalski.Record) (kowalski.Record, bool) {
	if len(recs) == 0 {
		return nil, false
	}

	best := -1
	bestSep := 0.0
	for i, rec := range recs {
		lon, dec, ok := rec.Coordinates()
		if !ok {
			continue
		}
		sep := astro.Separation(pos, model.SkyPosition{Lon: lon, Dec: dec})
		if best == -1 || sep < bestSep {
			best, bestSep = i, sep
		}
	}
	if best == -1 {
		return recs[0], true
	}
	return recs[best], true
}
