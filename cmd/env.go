package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/materialshub/catalog-ingest/internal/cost"
	"github.com/materialshub/catalog-ingest/internal/monitor"
	"github.com/materialshub/catalog-ingest/internal/pipeline"
	"github.com/materialshub/catalog-ingest/internal/store"
	"github.com/materialshub/catalog-ingest/pkg/claude"
	"github.com/materialshub/catalog-ingest/pkg/mivaa"
	"github.com/materialshub/catalog-ingest/pkg/voyage"
)

// pipelineEnv holds the initialized store, engine, and monitor used by the
// run/serve/monitor commands.
type pipelineEnv struct {
	Store   store.Store
	Engine  *pipeline.Engine
	Monitor *monitor.Monitor
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// costRates builds pricing from config, falling back to defaults where no
// override is set.
func costRates() cost.Rates {
	rates := cost.DefaultRates()
	for m, p := range cfg.Pricing.Anthropic {
		rates.Anthropic[m] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	if cfg.Pricing.Voyage.PerMTok > 0 {
		rates.Voyage.PerMTok = cfg.Pricing.Voyage.PerMTok
	}
	return rates
}

// initStore opens the configured backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store.database_url is required for the postgres driver")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv sets up the store and all collaborators, and builds the engine and
// monitor. Callers should defer env.Close().
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	invoker := claude.New(claude.Config{
		APIKey:      cfg.Anthropic.Key,
		HaikuModel:  cfg.Anthropic.HaikuModel,
		SonnetModel: cfg.Anthropic.SonnetModel,
		MaxTokens:   int64(cfg.Anthropic.MaxTokens),
		RatePerSec:  cfg.Anthropic.RatePerSec,
		Costs:       cost.NewCalculator(costRates()),
	})
	embedder := voyage.NewClient(cfg.Voyage.Key, cfg.Voyage.Model,
		voyage.WithBaseURL(cfg.Voyage.BaseURL),
		voyage.WithBatchSize(cfg.Voyage.BatchSize),
	)
	extractor := mivaa.NewClient(cfg.Mivaa.BaseURL, cfg.Mivaa.Key,
		mivaa.WithTimeout(time.Duration(cfg.Mivaa.TimeoutSecs)*time.Second),
	)

	gate := pipeline.NewDuplicateGate(cfg.Gate, st)
	router := pipeline.NewConfidenceRouter(cfg.Router, invoker, pipeline.RuleBasedFallback, st)
	engine := pipeline.NewEngine(cfg.Engine, st, gate, router, extractor, embedder)
	mon := monitor.New(cfg.Monitor, st, engine)

	return &pipelineEnv{Store: st, Engine: engine, Monitor: mon}, nil
}
