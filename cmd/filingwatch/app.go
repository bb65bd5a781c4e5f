package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/seenimoa/filingwatch/internal/discovery"
	"github.com/seenimoa/filingwatch/internal/jobs"
	"github.com/seenimoa/filingwatch/internal/logging"
	"github.com/seenimoa/filingwatch/internal/metrics"
	"github.com/seenimoa/filingwatch/internal/parser"
	"github.com/seenimoa/filingwatch/internal/pipeline"
	"github.com/seenimoa/filingwatch/internal/provider"
	"github.com/seenimoa/filingwatch/internal/providers"
	"github.com/seenimoa/filingwatch/internal/providers/efd"
	"github.com/seenimoa/filingwatch/internal/providers/file"
	"github.com/seenimoa/filingwatch/internal/providers/sec"
	"github.com/seenimoa/filingwatch/internal/reconcile"
	"github.com/seenimoa/filingwatch/internal/securities"
	"github.com/seenimoa/filingwatch/internal/store"
	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

// app holds the components built from the loaded configuration.
type app struct {
	logger     *zap.Logger
	store      *store.Store
	tracker    *jobs.Tracker
	metrics    *metrics.Metrics
	pipeline   *pipeline.Pipeline
	runner     *pipeline.Runner
	planner    *pipeline.Planner
	discoverer *discovery.Discoverer
}

// newApp opens the store and builds the tracker. With fetchers set it also
// wires the provider registry, parser and pipeline.
func newApp(ctx context.Context, withFetchers bool) (*app, error) {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	dialect, err := store.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(ctx, store.Options{
		Dialect:      dialect,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{
		logger:  logger,
		store:   s,
		tracker: jobs.New(s, cfg.Jobs.StaleAfter, logger),
		metrics: metrics.New(),
	}
	if !withFetchers {
		return a, nil
	}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	resolver := securities.NewResolver()
	if path := cfg.Securities.MappingFile; path != "" {
		m, err := securities.LoadMapping(path)
		if err != nil {
			return err
		}
		resolver = securities.NewResolver(m)
	}

	abs, rel, err := cfg.Reconcile.Thresholds()
	if err != nil {
		return err
	}

	retry := provider.RetryPolicy{
		MaxAttempts:     cfg.Fetch.MaxAttempts,
		InitialInterval: cfg.Fetch.InitialInterval,
		MaxInterval:     cfg.Fetch.MaxInterval,
	}

	registry := provider.NewRegistry()
	if dir := cfg.Fetch.ReplayDir; dir != "" {
		a.logger.Info("replaying documents from disk", zap.String("dir", dir))
	}
	listers, err := providers.RegisterAllTo(registry, providers.Options{
		ReplayDir: cfg.Fetch.ReplayDir,
		SEC: sec.Options{
			DataURL:     cfg.SEC.DataURL,
			ArchivesURL: cfg.SEC.ArchivesURL,
			UserAgent:   cfg.SEC.UserAgent,
			RateLimit:   cfg.SEC.RateLimit,
			CacheTTL:    cfg.Fetch.CacheTTL,
			Timeout:     cfg.Fetch.Timeout,
			Retry:       retry,
			Logger:      a.logger,
			Observer:    a.metrics,
		},
		EFD: efd.Options{
			BaseURL:   cfg.EFD.BaseURL,
			UserAgent: cfg.EFD.UserAgent,
			RateLimit: cfg.EFD.RateLimit,
			Timeout:   cfg.Fetch.Timeout,
			PageSize:  cfg.EFD.PageSize,
			Retry:     retry,
			Logger:    a.logger,
			Observer:  a.metrics,
		},
	})
	if err != nil {
		return err
	}
	a.planner = pipeline.NewPlanner()
	for kind, fn := range listers {
		a.planner.Register(kind, fn)
	}

	opts := pipeline.Options{
		Thresholds:        reconcile.Thresholds{Absolute: abs, Relative: rel},
		MaxPersistRetries: cfg.Pipeline.MaxPersistRetries,
		Metrics:           a.metrics,
		Logger:            a.logger,
	}
	if dir := cfg.Fetch.ArchiveDir; dir != "" {
		opts.Archive = fileArchive(dir)
	}
	a.pipeline = pipeline.New(registry, parser.New(resolver, a.logger), a.store, a.tracker, opts)
	a.runner = pipeline.NewRunner(a.pipeline, cfg.Pipeline.Concurrency, a.logger)

	a.discoverer = discovery.New(discovery.Options{
		FeedURL:   cfg.SEC.FeedURL,
		UserAgent: cfg.SEC.UserAgent,
		RateLimit: cfg.SEC.RateLimit,
		Timeout:   cfg.Fetch.Timeout,
		Retry:     retry,
		Logger:    a.logger,
		Observer:  a.metrics,
	})
	return nil
}

// Close releases the store and flushes the logger.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// fileArchive writes every fetched document under a directory laid out the
// way the replay fetcher reads it.
type fileArchive string

func (dir fileArchive) Archive(doc *provider.RawDocument) error {
	_, err := file.New(string(dir), doc.SourceKind).Store(doc, file.ExtensionFor(doc.ContentType))
	return err
}

// trackedEntities returns every registered entity whose kind one of kinds
// serves.
func (a *app) trackedEntities(ctx context.Context, kinds []models.SourceKind) ([]models.Entity, error) {
	want := make(map[models.EntityKind]bool)
	for _, k := range kinds {
		want[k.EntityKind()] = true
	}
	all, err := a.store.ListEntities(ctx, "")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if want[e.Kind] {
			out = append(out, e)
		}
	}
	return out, nil
}

// parseKinds turns --kinds values into source kinds; empty means all.
func parseKinds(values []string) ([]models.SourceKind, error) {
	if len(values) == 0 {
		return models.AllSourceKinds, nil
	}
	out := make([]models.SourceKind, 0, len(values))
	for _, v := range values {
		k := models.SourceKind(v)
		if !k.Valid() {
			return nil, fmt.Errorf("unknown source kind %q (want one of %v)", v, models.AllSourceKinds)
		}
		out = append(out, k)
	}
	return out, nil
}

// window returns the run window: since..today when since is set, otherwise
// the trailing window from config.
func window(since string, days int) (models.Period, error) {
	now := utils.NowET()
	if since != "" {
		start, err := utils.ParseDate(since)
		if err != nil {
			return models.Period{}, err
		}
		return models.NewPeriod(start, now), nil
	}
	if days <= 0 {
		days = cfg.Pipeline.WindowDays
	}
	return pipeline.TrailingWindow(now, days), nil
}
