package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/gramveda/claim-intake/internal/config"
	"github.com/gramveda/claim-intake/internal/gazetteer"
	"github.com/gramveda/claim-intake/internal/ingest"
	"github.com/gramveda/claim-intake/internal/notify"
	"github.com/gramveda/claim-intake/internal/pipeline"
	"github.com/gramveda/claim-intake/internal/store"
)

// appEnv holds the initialized store and services shared by the commands.
type appEnv struct {
	Store    store.Store
	Engine   *pipeline.Engine
	Review   *pipeline.ReviewService
	Ingestor *ingest.Ingestor
	Notifier notify.Notifier
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "claim-intake.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv sets up the store, runs migrations, and builds the pipeline
// services. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	claimTypes, err := config.LoadClaimTypes(cfg.Validate.ClaimTypesPath)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load claim types")
	}

	resolver := gazetteer.NewResolver(st, cfg.Geocode.SimilarityThreshold, cfg.Geocode.LookupsPerSecond, cfg.Geocode.MaxCandidates)

	return &appEnv{
		Store:    st,
		Engine:   pipeline.NewEngine(cfg, st, resolver, claimTypes),
		Review:   pipeline.NewReviewService(st),
		Ingestor: ingest.New(st),
		Notifier: notify.NewWebhook(cfg.Notify),
	}, nil
}
