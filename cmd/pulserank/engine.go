package main

import (
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/artifact"
	"github.com/pulserank/pulserank/internal/briefs"
	"github.com/pulserank/pulserank/internal/cache"
	"github.com/pulserank/pulserank/internal/config"
	"github.com/pulserank/pulserank/internal/discovery"
	"github.com/pulserank/pulserank/internal/identity"
	"github.com/pulserank/pulserank/internal/metrics"
	"github.com/pulserank/pulserank/internal/pricing"
	"github.com/pulserank/pulserank/internal/provider"
	"github.com/pulserank/pulserank/internal/reward"
	"github.com/pulserank/pulserank/internal/snapshot"
)

// engine bundles the wired pipeline shared by serve and cycle.
type engine struct {
	cfg       *config.Config
	pools     map[string]config.Pool
	metrics   *metrics.Registry
	orch      *reward.Orchestrator
	discovery *discovery.Engine
	briefs    *briefs.Fetcher
	caches    map[string]cache.Cache

	closers []func() error
}

// newFetchPool wires the content client behind its cache and worker pool.
func newFetchPool(cfg *config.Config, contentCache cache.Cache) (*provider.Pool, provider.Fetcher, error) {
	client, err := provider.NewClient(provider.Config{
		BaseURL:        cfg.Provider.BaseURL,
		APIKey:         cfg.Provider.APIKey,
		Timeout:        cfg.Provider.Timeout,
		MaxRetries:     cfg.Provider.MaxRetries,
		RetryDelay:     cfg.Provider.RetryDelay,
		RatePerSecond:  cfg.Provider.RatePerSecond,
		RateBurst:      cfg.Provider.RateBurst,
		BreakerTimeout: cfg.Provider.BreakerTimeout,
		MaxPerFetch:    cfg.Provider.MaxPerFetch,
	})
	if err != nil {
		return nil, nil, err
	}
	fetcher := provider.NewCachedFetcher(client, contentCache, cfg.Provider.CacheTTL)
	return provider.NewPool(fetcher, cfg.Provider.Workers), fetcher, nil
}

// buildEngine wires every engine component from config. The identity db and
// Redis are optional and degrade to in-process defaults; a missing content
// API, brief feed, or pricing endpoint is fatal.
func buildEngine(cfg *config.Config, pools map[string]config.Pool) (*engine, error) {
	e := &engine{cfg: cfg, pools: pools, metrics: metrics.NewRegistry()}

	store, err := artifact.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	contentCache := cache.NewAuto(cfg.Redis.Addr, cfg.Redis.DB)
	e.caches = map[string]cache.Cache{"content": contentCache}
	e.closers = append(e.closers, contentCache.Close)

	fetchPool, fetcher, err := newFetchPool(cfg, contentCache)
	if err != nil {
		e.Close()
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		e.closers = append(e.closers, rdb.Close)
	}
	feed, err := briefs.NewFetcher(cfg.Briefs, rdb)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.briefs = feed

	var identities identity.Store
	if cfg.Database.DSN != "" {
		db, err := identity.Connect(cfg.Database)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.closers = append(e.closers, db.Close)
		identities = identity.NewStore(db, cfg.Database.QueryTimeout)
	} else {
		log.Warn().Msg("no identity db configured, all authors will resolve as unmapped")
	}

	lookback := time.Duration(cfg.Provider.InitialDays) * 24 * time.Hour
	e.discovery = discovery.NewEngine(fetchPool, store, cfg.Discovery, lookback)

	registry := reward.NewEvaluatorRegistry()
	if err := registry.Register(reward.ScanEvaluator{}); err != nil {
		e.Close()
		return nil, err
	}
	if err := registry.Register(reward.NewQueryEvaluator(fetcher)); err != nil {
		e.Close()
		return nil, err
	}
	evaluator := reward.NewBriefEvaluator(registry, snapshot.NewStore(store), cfg.Scoring, cfg.Rewards.EmissionPeriodDays)

	prices, err := pricing.NewHTTPSource(cfg.Pricing)
	if err != nil {
		e.Close()
		return nil, err
	}

	deps := reward.CycleDeps{
		Pools:       pools,
		Briefs:      feed,
		Maps:        e.discovery,
		Identities:  identities,
		Content:     fetchPool,
		Evaluator:   evaluator,
		Calculator:  reward.NewCalculator(prices),
		Distributor: reward.NewDistributor(cfg.Rewards),
		Metrics:     e.metrics,
	}
	if cfg.Rewards.PublishURL != "" {
		deps.Publisher = reward.NewHTTPPublisher(cfg.Rewards.PublishURL)
	}
	e.orch = reward.NewOrchestrator(cfg, deps)
	return e, nil
}

// Close releases engine resources in reverse construction order.
func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}
