package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kapu/artist-radar/internal/api"
	"github.com/kapu/artist-radar/internal/config"
	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/metrics"
	"github.com/kapu/artist-radar/internal/repository"
	"github.com/kapu/artist-radar/internal/service/cache"
	"github.com/kapu/artist-radar/internal/service/database"
	"github.com/kapu/artist-radar/internal/service/discovery"
	"github.com/kapu/artist-radar/internal/service/jobs"
	"github.com/kapu/artist-radar/internal/service/pipeline"
	"github.com/kapu/artist-radar/internal/service/quota"
	"github.com/kapu/artist-radar/internal/service/scheduler"
	"github.com/kapu/artist-radar/internal/service/scoring"
	"github.com/kapu/artist-radar/internal/service/spotify"
	"github.com/kapu/artist-radar/internal/service/trends"
	"github.com/kapu/artist-radar/internal/service/youtube"
	"go.uber.org/zap"
)

// Container bundles the assembled services.
type Container struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Store        domain.Store
	Cache        *cache.CacheService
	Orchestrator *jobs.Orchestrator
	Discovery    *discovery.Service
	Scheduler    *scheduler.Scheduler
	Hub          *api.Hub
	Server       *api.Server

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build assembles every service. A cache that cannot reach Redis is replaced
// by a disabled one; every other failure aborts the build.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (container *Container, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var closers []func()
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	}()

	m := metrics.New()
	httpClient := &http.Client{Timeout: constants.APIConfig.HTTPTimeout}

	// Cache
	cacheSvc, cacheErr := cache.NewCacheService(cache.CacheConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger, m)
	if cacheErr != nil {
		logger.Warn("Redis unavailable, running without cache", zap.Error(cacheErr))
		cacheSvc = cache.NewDisabledCache(logger)
	}
	closers = append(closers, func() {
		_ = cacheSvc.Close()
	})

	// Storage
	store, health, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, func() {
		_ = store.Close()
	})
	health["redis"] = func(ctx context.Context) error {
		if !cacheSvc.Enabled() {
			return nil
		}
		if !cacheSvc.IsConnected(ctx) {
			return fmt.Errorf("redis ping failed")
		}
		return nil
	}

	// Upstream providers
	ytPool, err := quota.NewKeyPool(youtube.ProviderName, cfg.YouTube.APIKeys, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube credential pool: %w", err)
	}
	ytClient := youtube.NewRateLimitedClient(ytPool, cacheSvc, httpClient, cfg.YouTube.BaseURL, logger, m)
	youtubeSvc := youtube.NewYouTubeService(ytClient, logger)
	pools := []*quota.Pool{ytPool}

	var (
		playlists pipeline.PlaylistSource
		profiles  pipeline.ProfileSource
	)
	if len(cfg.Spotify.Credentials) > 0 {
		spPool, poolErr := quota.NewKeyPool(spotify.ProviderName, cfg.Spotify.Credentials, logger)
		if poolErr != nil {
			return nil, fmt.Errorf("failed to create spotify credential pool: %w", poolErr)
		}
		spClient := spotify.NewRateLimitedClient(spotify.ClientConfig{
			BaseURL:    cfg.Spotify.BaseURL,
			TokenURL:   cfg.Spotify.TokenURL,
			HTTPClient: httpClient,
		}, spPool, cacheSvc, logger, m)
		listeners := spotify.NewListenersScraper(cacheSvc, httpClient, cfg.Spotify.WebURL, logger)
		spotifySvc := spotify.NewSpotifyService(spClient, listeners, logger)
		playlists, profiles = spotifySvc, spotifySvc
		pools = append(pools, spPool)
	} else {
		logger.Warn("No Spotify credentials configured, playlists and enrichment disabled")
	}

	var trendProvider trends.Provider
	if cfg.Trends.Enabled {
		trendProvider = trends.NewGoogleTrends(trends.Config{
			BaseURL:     cfg.Trends.BaseURL,
			HTTPClient:  httpClient,
			MinInterval: cfg.Trends.MinInterval,
		}, cacheSvc, logger, m)
	}

	// Pipeline
	engine := scoring.NewEngine(youtubeSvc, trendProvider, logger, m)
	merger := pipeline.NewMerger(store, profiles, youtubeSvc, cfg.Sources.Settings.EnrichNewArtists, logger, m)

	orchestrator := jobs.NewOrchestrator(store, logger, m,
		pipeline.NewFullExtraction(cfg.Sources, playlists, youtubeSvc, merger, logger),
		pipeline.NewIncrementalExtraction(cfg.Jobs.IncrementalWindow, cfg.Sources, playlists, youtubeSvc, merger, logger),
		pipeline.NewRescoringProcessor(store, engine, pipeline.RescoringConfig{
			BatchSize:   cfg.Scoring.BatchSize,
			Concurrency: cfg.Scoring.Concurrency,
			BatchPause:  cfg.Scoring.BatchPause,
		}, logger),
	)

	if recovered, recErr := orchestrator.RecoverStale(ctx); recErr != nil {
		logger.Warn("Failed to recover stale jobs", zap.Error(recErr))
	} else if recovered > 0 {
		logger.Warn("Marked jobs interrupted by a previous run as failed", zap.Int("jobs", recovered))
	}

	discoverySvc := discovery.NewService(store, orchestrator, engine, merger, pools, cacheSvc, discovery.Config{
		Concurrency: cfg.Scoring.Concurrency,
	}, logger)

	// Surface
	hub := api.NewHub(orchestrator, logger)
	server := api.NewServer(api.Config{
		Port:         cfg.Server.Port,
		ReleaseMode:  cfg.Server.ReleaseMode,
		ReadTimeout:  constants.APIConfig.HTTPTimeout,
		WriteTimeout: constants.APIConfig.HTTPTimeout,
	}, discoverySvc, hub, m, health, logger)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		resettable := make([]scheduler.Resettable, 0, len(pools))
		for _, p := range pools {
			resettable = append(resettable, p)
		}
		sched = scheduler.NewScheduler(orchestrator, resettable, scheduler.Config{
			Interval:               cfg.Scheduler.Interval,
			Retention:              cfg.Jobs.Retention,
			RescoreAfterExtraction: cfg.Scheduler.RescoreAfterExtraction,
		}, logger)
	}

	logger.Info("Application assembled",
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("cache", cacheSvc.Enabled()),
		zap.Int("youtube_keys", ytPool.Size()),
		zap.Int("spotify_credentials", len(cfg.Spotify.Credentials)),
		zap.Int("spotify_playlists", len(cfg.Sources.SpotifyPlaylists)),
		zap.Int("youtube_channels", len(cfg.Sources.YouTubeChannels)),
		zap.Bool("trends", trendProvider != nil),
		zap.Bool("scheduler", sched != nil))

	return &Container{
		Config:       cfg,
		Logger:       logger,
		Metrics:      m,
		Store:        store,
		Cache:        cacheSvc,
		Orchestrator: orchestrator,
		Discovery:    discoverySvc,
		Scheduler:    sched,
		Hub:          hub,
		Server:       server,
		closers:      closers,
	}, nil
}

func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (domain.Store, map[string]api.HealthChecker, error) {
	health := make(map[string]api.HealthChecker)

	if cfg.Storage.Backend == "memory" {
		logger.Warn("Using in-memory storage, data is lost on restart")
		return repository.NewMemoryStore(), health, nil
	}

	postgresSvc, err := database.NewPostgresService(database.PostgresConfig{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.MaxConns,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create postgres service: %w", err)
	}

	if cfg.Storage.EnsureSchema {
		if err := postgresSvc.EnsureSchema(ctx); err != nil {
			_ = postgresSvc.Close()
			return nil, nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	health["postgres"] = postgresSvc.Ping
	return repository.NewPostgresStore(postgresSvc, logger), health, nil
}
