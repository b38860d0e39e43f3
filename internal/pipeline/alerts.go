package pipeline

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/skyward-obs/features-cli/internal/match"
	"github.com/skyward-obs/features-cli/internal/model"
	"github.com/skyward-obs/features-cli/pkg/kowalski"
)

// AlertOptions controls the alert-stream annotation.
type AlertOptions struct {
	Catalog      string
	RadiusArcsec float64
	Limit        int
}

// AnnotateAlerts counts alert-stream detections near each surviving source
// and records the mean real-bogus score. Sources with no alerts get a zero
// count and a NaN score.
func AnnotateAlerts(ctx context.Context, client match.ConeSearcher, table *model.FeatureTable, sources map[uint64]model.Source, opts AlertOptions) error {
	ids := table.IDs()
	if len(ids) == 0 {
		return nil
	}
	if opts.Limit <= 0 {
		opts.Limit = 10000
	}

	log := zap.L().With(zap.String("catalog", opts.Catalog))
	log.Info("pipeline: annotating alert counts", zap.Int("sources", len(ids)))

	results, err := batchedConeSearch(ctx, client, ids, sources, kowalski.ConeSearchRequest{
		RadiusArcsec: opts.RadiusArcsec,
		Catalog:      opts.Catalog,
		Projection: map[string]int{
			"_id":                   1,
			"classifications.braai": 1,
		},
	}, opts.Limit)
	if err != nil {
		return err
	}

	for _, id := range ids {
		recs := results[strconv.FormatUint(id, 10)]
		table.SetInt(id, "n_ztf_alerts", int64(len(recs)))

		var sum float64
		var n int
		for _, rec := range recs {
			if braai, ok := nestedFloat(rec, "classifications.braai"); ok {
				sum += braai
				n++
			}
		}
		if n > 0 {
			table.Set(id, "mean_ztf_alert_braai", sum/float64(n))
		} else {
			table.Set(id, "mean_ztf_alert_braai", math.NaN())
		}
	}
	return nil
}

// batchedConeSearch runs the request once per chunk of limit ids, merging
// the per-id results.
func batchedConeSearch(ctx context.Context, client match.ConeSearcher, ids []uint64, sources map[uint64]model.Source, req kowalski.ConeSearchRequest, limit int) (map[string][]kowalski.Record, error) {
	sorted := make([]uint64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	merged := make(map[string][]kowalski.Record, len(sorted))
	for start := 0; start < len(sorted); start += limit {
		end := min(start+limit, len(sorted))

		positions := make(map[string][2]float64, end-start)
		for _, id := range sorted[start:end] {
			src, ok := sources[id]
			if !ok {
				continue
			}
			positions[strconv.FormatUint(id, 10)] = [2]float64{src.Pos.Lon, src.Pos.Dec}
		}
		if len(positions) == 0 {
			continue
		}

		batchReq := req
		batchReq.Positions = positions
		res, err := client.ConeSearch(ctx, batchReq)
		if err != nil {
			return nil, err
		}
		for k, v := range res {
			merged[k] = v
		}
	}
	return merged, nil
}

// nestedFloat walks a dotted path through nested record documents.
func nestedFloat(rec kowalski.Record, path string) (float64, bool) {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(rec)
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return 0, false
		}
		cur, ok = m[part]
		if !ok {
			return 0, false
		}
	}
	f, ok := cur.(float64)
	return f, ok
}
