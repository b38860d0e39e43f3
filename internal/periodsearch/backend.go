package periodsearch

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/skyward-obs/features-cli/internal/lightcurve"
)

// ErrExclusiveMode is returned when both the CPU and the accelerated
// execution modes are requested for one run.
var ErrExclusiveMode = eris.New("periodsearch: set only one of the CPU and accelerated modes")

// Result is the outcome of a period search for one source.
type Result struct {
	Period       float64
	Significance float64
	Pdot         float64
}

// Options controls backend execution.
type Options struct {
	// ExcludeBands removes frequency ranges from peak selection.
	ExcludeBands [][2]float64
	// Parallel fans the per-source searches out across Ncore workers.
	// Parallelism never leaks outside the backend.
	Parallel bool
	Ncore    int
}

// Strategy is one period-search algorithm. Implementations must return one
// Result per input series, in order.
type Strategy interface {
	Name() string
	FindPeriods(ctx context.Context, series []lightcurve.TimeSeries, grid Grid, opts Options) ([]Result, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Strategy)
)

// Register adds a backend under its name. Later registrations replace
// earlier ones.
func Register(s Strategy) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Name()] = s
}

// Lookup finds a registered backend by name.
func Lookup(name string) (Strategy, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[name]
	return s, ok
}

// Names lists the registered backends, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// perSource runs fn for every series, optionally fanned out across Ncore
// workers, writing results in input order.
func perSource(ctx context.Context, series []lightcurve.TimeSeries, opts Options, fn func(s lightcurve.TimeSeries) Result) ([]Result, error) {
	results := make([]Result, len(series))

	if !opts.Parallel || opts.Ncore <= 1 {
		for i, s := range series {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i] = fn(s)
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Ncore)
	for i, s := range series {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = fn(s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
