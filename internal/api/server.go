// Package api exposes the discovery operations over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/metrics"
	"github.com/kapu/artist-radar/internal/service/cache"
	"github.com/kapu/artist-radar/internal/service/discovery"
	"github.com/kapu/artist-radar/internal/service/pipeline"
	"github.com/kapu/artist-radar/internal/service/scoring"
	"go.uber.org/zap"
)

// Discovery is the operation surface served by the handlers.
type Discovery interface {
	StartJob(ctx context.Context, kind string) (*domain.JobStatus, error)
	GetJobStatus(ctx context.Context, id string) (*domain.JobStatus, error)
	CancelJob(ctx context.Context, id string) (*domain.JobStatus, error)
	JobHistory(ctx context.Context, limit int) ([]*domain.JobStatus, error)
	GetEntity(ctx context.Context, id int64) (*discovery.EntityView, error)
	ListArtists(ctx context.Context, offset, limit int, includeInactive bool) (*discovery.ArtistPage, error)
	UpdateArtist(ctx context.Context, id int64, u discovery.ArtistUpdate) (*domain.Artist, error)
	DeactivateArtist(ctx context.Context, id int64) error
	CollectArtist(ctx context.Context, name string) (*pipeline.CollectResult, error)
	ListTopByScore(ctx context.Context, limit int) ([]domain.ArtistWithScore, error)
	ScoreHistory(ctx context.Context, id int64, limit int) ([]*domain.ScoreRecord, error)
	ScoreOne(ctx context.Context, name, genre string) (*discovery.ScoreResult, error)
	RescoreArtist(ctx context.Context, id int64) (*discovery.ScoreResult, error)
	ScoreBatch(ctx context.Context, names []string, genre string) ([]scoring.BatchResult, error)
	Interpretation(score float64) (domain.Interpretation, error)
	Weights() domain.ScoringWeights
	QuotaStatus() []domain.PoolStatus
	ResetQuota(provider string) ([]domain.PoolStatus, error)
	CacheStats(ctx context.Context) (map[cache.Category]int64, error)
	ClearCache(ctx context.Context, category string) (int64, error)
}

var _ Discovery = (*discovery.Service)(nil)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func(ctx context.Context) error

type Config struct {
	Port         int
	ReleaseMode  bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	svc     Discovery
	hub     *Hub
	metrics *metrics.Metrics
	health  map[string]HealthChecker
	logger  *zap.Logger
	router  *gin.Engine
	http    *http.Server
}

func NewServer(cfg Config, svc Discovery, hub *Hub, m *metrics.Metrics, health map[string]HealthChecker, logger *zap.Logger) *Server {
	if cfg.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		svc:     svc,
		hub:     hub,
		metrics: m,
		health:  health,
		logger:  logger,
	}
	s.router = s.routes()
	if cfg.Port > 0 {
		s.http = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      s.router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		}
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(RecoveryMiddleware(s.logger))
	r.Use(LoggingMiddleware(s.logger))
	r.Use(s.metrics.Middleware())

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := r.Group("/api/v1")

	jobs := v1.Group("/jobs")
	jobs.GET("/status", s.jobStatus)
	jobs.GET("/history", s.jobHistory)
	jobs.GET("/stream", s.jobStream)
	jobs.POST("/:job", s.startJob)
	jobs.POST("/:job/cancel", s.cancelJob)

	artists := v1.Group("/artists")
	artists.GET("", s.listArtists)
	artists.GET("/top", s.topArtists)
	artists.GET("/:id", s.getArtist)
	artists.PUT("/:id", s.updateArtist)
	artists.DELETE("/:id", s.deleteArtist)
	artists.GET("/:id/scores", s.artistScores)
	artists.POST("/:id/score", s.rescoreArtist)

	scores := v1.Group("/scores")
	scores.POST("", s.scoreOne)
	scores.POST("/batch", s.scoreBatch)
	scores.GET("/interpretation", s.interpretation)
	scores.GET("/weights", s.weights)

	v1.POST("/collection/artist", s.collectArtist)

	v1.GET("/quota", s.quotaStatus)
	v1.POST("/quota/reset", s.quotaReset)
	v1.GET("/cache/stats", s.cacheStats)
	v1.DELETE("/cache/:category", s.cacheClear)

	return r
}

// ListenAndServe blocks until the server stops. A graceful Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	if s.http == nil {
		return fmt.Errorf("http server not configured")
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
