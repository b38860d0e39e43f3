package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/skyward-obs/features-cli/internal/model"
)

// Run is one recorded feature-generation run. The store is the
// authoritative index of processed units; the sidecar JSON manifest next
// to the output files is derived from it.
type Run struct {
	ID        string        `json:"id"`
	Meta      model.RunMeta `json:"meta"`
	CreatedAt time.Time     `json:"created_at"`
}

// RunFilter specifies criteria for listing runs. Zero values match
// everything; survey fields, CCDs, and quadrants are numbered from 1.
type RunFilter struct {
	Field  int `json:"field,omitempty"`
	CCD    int `json:"ccd,omitempty"`
	Quad   int `json:"quad,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Store defines the persistence interface for the run ledger.
type Store interface {
	// RecordRun appends a completed run. Runs are append-only; reprocessing
	// a unit records a new run rather than overwriting the old one.
	RecordRun(ctx context.Context, meta model.RunMeta) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	// LatestForUnit returns the most recent run for a unit, or nil when the
	// unit has never been processed.
	LatestForUnit(ctx context.Context, unit model.Unit) (*Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates a Store for the configured driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
