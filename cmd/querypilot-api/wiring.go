package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/querypilot/querypilot/internal/api"
	catalogpostgres "github.com/querypilot/querypilot/internal/catalog/postgres"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	duckdbengine "github.com/querypilot/querypilot/internal/query/duckdb"
	"github.com/querypilot/querypilot/internal/routing"
	s3store "github.com/querypilot/querypilot/internal/storage/s3"
)

func buildDependencies(ctx context.Context, cfg config.Config, logger *slog.Logger) (api.Dependencies, func(), error) {
	db, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfig{
		DSN:             cfg.Catalog.DSN,
		MaxOpenConns:    cfg.Catalog.MaxOpenConns,
		MaxIdleConns:    cfg.Catalog.MaxIdleConns,
		ConnMaxIdleTime: cfg.Catalog.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Catalog.ConnMaxLifetime,
		Attempts:        cfg.Catalog.ConnectAttempts,
		RetryDelay:      cfg.Catalog.ConnectRetryDelay,
	})
	if err != nil {
		return api.Dependencies{}, nil, fmt.Errorf("open catalog: %w", err)
	}
	closeDB := func() { _ = db.Close() }

	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		closeDB()
		return api.Dependencies{}, nil, fmt.Errorf("open object store: %w", err)
	}

	generator, err := newGenerator(cfg.AI)
	if err != nil {
		closeDB()
		return api.Dependencies{}, nil, err
	}
	if generator == nil {
		logger.Warn("language model disabled; only template questions can be answered")
	}

	repo := catalogpostgres.NewRepository(db)
	return api.Dependencies{
		Logger:      logger,
		Catalog:     repo,
		Store:       store,
		QueryEngine: duckdbengine.NewEngine(store),
		Router:      newRouter(cfg.Routing, generator, logger),
		Readiness: api.ReadinessChecks{
			"catalog":      api.CheckCatalog(repo),
			"object_store": api.CheckObjectStore(cfg, store),
		},
		DependencyTimeout: time.Second,
	}, closeDB, nil
}

func newGenerator(cfg config.AIConfig) (nl2sql.Generator, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	openai, err := nl2sql.NewOpenAIGenerator(nl2sql.OpenAIConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		LowModel:    cfg.LowModel,
		HighModel:   cfg.HighModel,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("configure sql generator: %w", err)
	}
	return observability.InstrumentGenerator(openai), nil
}

func newRouter(cfg config.RoutingConfig, generator nl2sql.Generator, logger *slog.Logger) *routing.Router {
	analyzer := routing.DefaultAnalyzerConfig()
	analyzer.SimpleMaxWords = cfg.SimpleMaxWords
	analyzer.MediumMaxWords = cfg.MediumMaxWords
	return routing.NewRouter(generator, analyzer, observability.RoutingMetrics{}, logger)
}
