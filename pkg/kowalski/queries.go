package kowalski

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"
)

type queryEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type coneSearchResponse struct {
	queryEnvelope
	Data map[string]map[string][]Record `json:"data"`
}

func (c *httpClient) ConeSearch(ctx context.Context, req ConeSearchRequest) (map[string][]Record, error) {
	radec := make(map[string][2]float64, len(req.Positions))
	for id, pos := range req.Positions {
		// No negative longitudes on the wire.
		radec[id] = [2]float64{pos[0] + 180.0, pos[1]}
	}

	catalogSpec := map[string]any{
		"projection": req.Projection,
	}
	if req.Filter != nil {
		catalogSpec["filter"] = req.Filter
	} else {
		catalogSpec["filter"] = map[string]any{}
	}

	payload := map[string]any{
		"query_type": "cone_search",
		"query": map[string]any{
			"object_coordinates": map[string]any{
				"radec":              radec,
				"cone_search_radius": req.RadiusArcsec,
				"cone_search_unit":   "arcsec",
			},
			"catalogs": map[string]any{
				req.Catalog: catalogSpec,
			},
			"filter": map[string]any{},
		},
	}

	var resp coneSearchResponse
	if err := c.postQuery(ctx, payload, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, eris.Errorf("kowalski: cone search failed: %s", resp.Message)
	}
	return resp.Data[req.Catalog], nil
}

type findResponse struct {
	queryEnvelope
	Data []Record `json:"data"`
}

func (c *httpClient) FieldSources(ctx context.Context, catalog string, field, ccd, quad, pageSize, minObs int, stopEarly bool) ([]FieldSource, error) {
	var out []FieldSource
	for page := 0; ; page++ {
		filter := map[string]any{
			"field": field,
			"ccd":   ccd,
			"quad":  quad,
		}
		if minObs > 0 {
			filter["n"] = map[string]any{"$gte": minObs}
		}

		payload := map[string]any{
			"query_type": "find",
			"query": map[string]any{
				"catalog": catalog,
				"filter":  filter,
				"projection": map[string]int{
					"_id": 1,
					"coordinates.radec_geojson.coordinates": 1,
				},
			},
			"kwargs": map[string]any{
				"limit": pageSize,
				"skip":  page * pageSize,
			},
		}

		var resp findResponse
		if err := c.postQuery(ctx, payload, &resp); err != nil {
			return nil, err
		}
		if resp.Status != "success" {
			return nil, eris.Errorf("kowalski: field source query failed: %s", resp.Message)
		}

		for _, rec := range resp.Data {
			id, ok := recordID(rec)
			if !ok {
				continue
			}
			lon, dec, ok := rec.Coordinates()
			if !ok {
				continue
			}
			out = append(out, FieldSource{ID: id, Lon: lon, Dec: dec})
		}

		if stopEarly || len(resp.Data) < pageSize {
			return out, nil
		}
	}
}

func (c *httpClient) Lightcurves(ctx context.Context, catalog string, ids []uint64, batchSize int) ([]Lightcurve, error) {
	if batchSize <= 0 {
		batchSize = len(ids)
	}

	var out []Lightcurve
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))

		payload := map[string]any{
			"query_type": "find",
			"query": map[string]any{
				"catalog": catalog,
				"filter": map[string]any{
					"_id": map[string]any{"$in": ids[start:end]},
				},
				"projection": map[string]int{
					"_id":           1,
					"filter":        1,
					"data.hjd":      1,
					"data.mag":      1,
					"data.magerr":   1,
					"data.catflags": 1,
				},
			},
		}

		var resp struct {
			queryEnvelope
			Data []Lightcurve `json:"data"`
		}
		if err := c.postQuery(ctx, payload, &resp); err != nil {
			return nil, err
		}
		if resp.Status != "success" {
			return nil, eris.Errorf("kowalski: lightcurve query failed: %s", resp.Message)
		}
		out = append(out, resp.Data...)
	}
	return out, nil
}

// recordID pulls the _id out of a decoded record. The service returns ids
// as JSON numbers or strings depending on the catalog.
func recordID(rec Record) (uint64, bool) {
	switch v := rec["_id"].(type) {
	case float64:
		return uint64(v), true
	case string:
		id, err := strconv.ParseUint(v, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}
