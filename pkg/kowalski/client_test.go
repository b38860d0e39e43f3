package kowalski

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConeSearch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/queries", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "cone_search", payload["query_type"])

		// Longitudes are shifted by +180 on the wire.
		query := payload["query"].(map[string]any)
		coords := query["object_coordinates"].(map[string]any)
		radec := coords["radec"].(map[string]any)
		pair := radec["1"].([]any)
		assert.InDelta(t, 215.0, pair[0].(float64), 1e-9)
		assert.InDelta(t, -12.5, pair[1].(float64), 1e-9)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data": map[string]any{
				"Gaia_EDR3": map[string]any{
					"1": []map[string]any{{"phot_g_mean_mag": 11.5}},
				},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	res, err := client.ConeSearch(context.Background(), ConeSearchRequest{
		Positions:    map[string][2]float64{"1": {35.0, -12.5}},
		RadiusArcsec: 300.0,
		Catalog:      "Gaia_EDR3",
		Projection:   map[string]int{"phot_g_mean_mag": 1},
	})
	require.NoError(t, err)
	require.Len(t, res["1"], 1)

	mag, ok := res["1"][0].Float("phot_g_mean_mag")
	require.True(t, ok)
	assert.Equal(t, 11.5, mag)
}

func TestConeSearch_ServiceError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "error", "message": "catalog unknown"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	_, err := client.ConeSearch(context.Background(), ConeSearchRequest{Catalog: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog unknown")
}

func fieldRecord(id, lon, dec float64) map[string]any {
	return map[string]any{
		"_id": id,
		"coordinates": map[string]any{
			"radec_geojson": map[string]any{"coordinates": []any{lon, dec}},
		},
	}
}

func TestFieldSources_Pagination(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "find", payload["query_type"])
		kwargs := payload["kwargs"].(map[string]any)
		skip := int(kwargs["skip"].(float64))

		var data []map[string]any
		switch skip {
		case 0:
			data = []map[string]any{
				fieldRecord(1, 35.0, -12.5),
				fieldRecord(2, 35.01, -12.5),
			}
		case 2:
			data = []map[string]any{fieldRecord(3, 35.02, -12.5)}
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": data})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	sources, err := client.FieldSources(context.Background(), "ZTF_sources_20210401", 296, 1, 1, 2, 0, false)
	require.NoError(t, err)
	require.Len(t, sources, 3)
	assert.Equal(t, uint64(1), sources[0].ID)
	assert.InDelta(t, 35.02, sources[2].Lon, 1e-9)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFieldSources_StopEarly(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data": []map[string]any{
				fieldRecord(1, 35.0, -12.5),
				fieldRecord(2, 35.01, -12.5),
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	sources, err := client.FieldSources(context.Background(), "ZTF_sources_20210401", 296, 1, 1, 2, 0, true)
	require.NoError(t, err)
	assert.Len(t, sources, 2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFieldSources_SkipsRecordsWithoutCoordinates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data": []map[string]any{
				fieldRecord(1, 35.0, -12.5),
				{"_id": 2.0},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	sources, err := client.FieldSources(context.Background(), "ZTF_sources_20210401", 296, 1, 1, 10, 0, true)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, uint64(1), sources[0].ID)
}

func TestLightcurves_Batching(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		query := payload["query"].(map[string]any)
		filter := query["filter"].(map[string]any)
		in := filter["_id"].(map[string]any)["$in"].([]any)
		assert.LessOrEqual(t, len(in), 2)

		data := make([]map[string]any, 0, len(in))
		for _, id := range in {
			data = append(data, map[string]any{
				"_id":    id,
				"filter": 2,
				"data": []map[string]any{
					{"hjd": 2458000.1, "mag": 16.2, "magerr": 0.02, "catflags": 0},
				},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": data})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	lcs, err := client.Lightcurves(context.Background(), "ZTF_sources_20210401", []uint64{1, 2, 3, 4, 5}, 2)
	require.NoError(t, err)
	require.Len(t, lcs, 5)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	assert.Equal(t, uint64(1), lcs[0].ID)
	assert.Equal(t, 2, lcs[0].Filter)
	require.Len(t, lcs[0].Data, 1)
	assert.Equal(t, 16.2, lcs[0].Data[0].Mag)
}

func TestPostQuery_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": []map[string]any{}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	_, err := client.FieldSources(context.Background(), "ZTF_sources_20210401", 296, 1, 1, 10, 0, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPostQuery_NoRetryOnBadRequest(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"error","message":"bad query"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	_, err := client.FieldSources(context.Background(), "ZTF_sources_20210401", 296, 1, 1, 10, 0, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
