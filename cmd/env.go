package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/skyward-obs/features-cli/internal/pipeline"
	"github.com/skyward-obs/features-cli/internal/store"
	"github.com/skyward-obs/features-cli/pkg/kowalski"
)

// pipelineEnv holds the initialized store, catalog clients, and the run
// coordinator used by the generate/batch/serve commands.
type pipelineEnv struct {
	Store       store.Store
	Coordinator *pipeline.Coordinator
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initPipeline sets up the store, the three catalog service clients, and
// the coordinator. extras may be nil. Callers should defer env.Close().
func initPipeline(ctx context.Context, extras pipeline.ExtraFeaturizer) (*pipelineEnv, error) {
	if err := cfg.Validate("generate"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	rateOpt := kowalski.WithRateLimit(cfg.Kowalski.QPS)
	src := kowalski.NewClient(cfg.Kowalski.SourcesURL, cfg.Kowalski.Token, rateOpt)
	gaia := kowalski.NewClient(cfg.Kowalski.GaiaURL, cfg.Kowalski.Token, rateOpt)
	alerts := kowalski.NewClient(cfg.Kowalski.AlertsURL, cfg.Kowalski.Token, rateOpt)

	xmatch, err := pipeline.LoadXMatchCatalogs(cfg.XMatch.CatalogsFile)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if len(xmatch) > 0 {
		zap.L().Info("external cross matching enabled", zap.Int("catalogs", len(xmatch)))
	}

	coord := pipeline.NewCoordinator(cfg, st, src, gaia, alerts, xmatch, extras)
	return &pipelineEnv{Store: st, Coordinator: coord}, nil
}
