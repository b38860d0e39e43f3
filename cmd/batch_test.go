package main

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyward-obs/features-cli/internal/model"
	"github.com/skyward-obs/features-cli/internal/store"
)

func writeJobFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseJobFile_Valid(t *testing.T) {
	path := writeJobFile(t, `# job field ccd quad
0 296 1 1
1 296 1 2

2 487 16 4
`)

	units, err := parseJobFile(path)
	require.NoError(t, err)
	require.Len(t, units, 3)
	assert.Equal(t, model.Unit{Field: 296, CCD: 1, Quad: 1}, units[0])
	assert.Equal(t, model.Unit{Field: 296, CCD: 1, Quad: 2}, units[1])
	assert.Equal(t, model.Unit{Field: 487, CCD: 16, Quad: 4}, units[2])
}

func TestParseJobFile_TooFewColumns(t *testing.T) {
	path := writeJobFile(t, "0 296 1\n")

	_, err := parseJobFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want 4 columns")
}

func TestParseJobFile_NonNumericColumn(t *testing.T) {
	path := writeJobFile(t, "0 296 one 1\n")

	_, err := parseJobFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ccd")
}

func TestParseJobFile_Missing(t *testing.T) {
	_, err := parseJobFile(filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
}

func TestProcessBatch_CountsFailuresWithoutAborting(t *testing.T) {
	units := []model.Unit{
		{Field: 296, CCD: 1, Quad: 1},
		{Field: 296, CCD: 1, Quad: 2},
		{Field: 296, CCD: 1, Quad: 3},
	}

	var calls atomic.Int64
	err := processBatch(context.Background(), units, 2, func(ctx context.Context, unit model.Unit) (*store.Run, error) {
		calls.Add(1)
		if unit.Quad == 2 {
			return nil, assert.AnError
		}
		return &store.Run{ID: "run", Meta: model.RunMeta{Unit: unit}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

func TestProcessBatch_EmptyList(t *testing.T) {
	err := processBatch(context.Background(), nil, 4, func(ctx context.Context, unit model.Unit) (*store.Run, error) {
		t.Fatal("processor should not run")
		return nil, nil
	})
	require.NoError(t, err)
}

func TestProcessBatch_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int64
	err := processBatch(ctx, []model.Unit{{Field: 296, CCD: 1, Quad: 1}}, 1, func(ctx context.Context, unit model.Unit) (*store.Run, error) {
		calls.Add(1)
		return &store.Run{Meta: model.RunMeta{Unit: unit}}, nil
	})
	require.Error(t, err)
	assert.Zero(t, calls.Load())
}
