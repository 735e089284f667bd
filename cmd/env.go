package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/envoyou/crossval/internal/audit"
	"github.com/envoyou/crossval/internal/cache"
	"github.com/envoyou/crossval/internal/confidence"
	"github.com/envoyou/crossval/internal/deviation"
	"github.com/envoyou/crossval/internal/engine"
	"github.com/envoyou/crossval/internal/fallback"
	"github.com/envoyou/crossval/internal/fetch"
	"github.com/envoyou/crossval/internal/health"
	"github.com/envoyou/crossval/internal/matcher"
	"github.com/envoyou/crossval/internal/resilience"
	"github.com/envoyou/crossval/pkg/campd"
	"github.com/envoyou/crossval/pkg/envirofacts"
)

// env bundles the wired validation stack for a command invocation.
type env struct {
	Engine  *engine.Engine
	Tracker *health.Tracker
	Fetcher *fetch.Client
	Sources []fetch.Source

	sink audit.Sink
}

func (e *env) Close() {
	if e.sink != nil {
		_ = e.sink.Close()
	}
}

// initEngine wires the full validation stack from config.
func initEngine(ctx context.Context) (*env, error) {
	facilitySrc := envirofacts.NewSource(cfg.Sources.Envirofacts.Primary, cfg.Sources.Envirofacts.Backup)
	referenceSrc := campd.NewSource(cfg.Sources.CAMPD.Primary, cfg.Sources.CAMPD.Backup)

	tracker := health.NewTracker(cfg.Sources.FailureThreshold)
	fetcher := fetch.NewClient(tracker, fetch.Options{
		Timeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:    cfg.Fetch.MaxAttempts,
			InitialBackoff: time.Duration(cfg.Fetch.InitialBackoffMS) * time.Millisecond,
		},
		RateLimit: cfg.Fetch.RateLimit,
		RateBurst: cfg.Fetch.RateBurst,
		UserAgent: cfg.Fetch.UserAgent,
	}, facilitySrc, referenceSrc)

	store, err := cache.New(cache.Options{
		Capacity:   cfg.Cache.Capacity,
		FreshFor:   time.Duration(cfg.Cache.FreshHours) * time.Hour,
		AgedFor:    time.Duration(cfg.Cache.AgedDays) * 24 * time.Hour,
		AllowStale: cfg.Cache.AllowStale,
	})
	if err != nil {
		return nil, err
	}

	provider, err := fallback.New()
	if err != nil {
		return nil, err
	}

	sink, err := initSink(ctx)
	if err != nil {
		return nil, err
	}

	eng := engine.New(
		fetcher,
		store,
		provider,
		matcher.New(matcher.Options{MinScore: cfg.Matcher.MinScore, StatePenalty: cfg.Matcher.StatePenalty}),
		deviation.New(deviation.Thresholds(cfg.Deviation.Thresholds), cfg.Deviation.FallbackThreshold),
		confidence.New(confidence.Config{}),
		sink,
		facilitySrc,
		referenceSrc,
		engine.Options{
			MinMatches: cfg.Validation.MinMatches,
			FetchLimit: cfg.Fetch.Limit,
		},
	)

	return &env{
		Engine:  eng,
		Tracker: tracker,
		Fetcher: fetcher,
		Sources: []fetch.Source{facilitySrc, referenceSrc},
		sink:    sink,
	}, nil
}

func initSink(ctx context.Context) (audit.Sink, error) {
	switch cfg.Audit.Driver {
	case "", "none":
		return audit.Noop{}, nil
	case "sqlite":
		return audit.NewSQLite(cfg.Audit.DatabaseURL)
	case "postgres":
		return audit.NewPostgres(ctx, cfg.Audit.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown audit driver %q", cfg.Audit.Driver)
	}
}
