// Package discovery is the operation surface the API layer calls into.
package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/service/cache"
	"github.com/kapu/artist-radar/internal/service/jobs"
	"github.com/kapu/artist-radar/internal/service/pipeline"
	"github.com/kapu/artist-radar/internal/service/quota"
	"github.com/kapu/artist-radar/internal/service/scoring"
	"github.com/kapu/artist-radar/internal/util"
	"github.com/kapu/artist-radar/pkg/errors"
	"go.uber.org/zap"
)

// BatchScorer scores one name or many with the job batch discipline.
type BatchScorer interface {
	scoring.Scorer
	ScoreBatch(ctx context.Context, names []string, genre string, concurrency int) []scoring.BatchResult
}

// JobRunner is the orchestrator surface used here.
type JobRunner interface {
	Start(ctx context.Context, kind domain.JobKind) (*domain.JobStatus, error)
	Status(ctx context.Context, id string) (*domain.JobStatus, error)
	RequestCancel(ctx context.Context, id string) (*domain.JobStatus, error)
	History(ctx context.Context, limit int) ([]*domain.JobStatus, error)
}

var _ JobRunner = (*jobs.Orchestrator)(nil)

// Collector looks a single artist up in every metric source on demand.
type Collector interface {
	Collect(ctx context.Context, name string) (*pipeline.CollectResult, error)
}

var _ Collector = (*pipeline.Merger)(nil)

type Config struct {
	// Concurrency bounds parallel scorings in ScoreBatch.
	Concurrency int
}

type Service struct {
	store       domain.Store
	jobs        JobRunner
	scorer      BatchScorer
	collector   Collector
	pools       []*quota.Pool
	cache       *cache.CacheService
	concurrency int
	logger      *zap.Logger
}

func NewService(store domain.Store, runner JobRunner, scorer BatchScorer, collector Collector, pools []*quota.Pool, cacheSvc *cache.CacheService, cfg Config, logger *zap.Logger) *Service {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = constants.ScoringConfig.Concurrency
	}
	return &Service{
		store:       store,
		jobs:        runner,
		scorer:      scorer,
		collector:   collector,
		pools:       pools,
		cache:       cacheSvc,
		concurrency: concurrency,
		logger:      logger,
	}
}

// EntityView is an artist with its current score.
type EntityView struct {
	Artist *domain.Artist      `json:"artist"`
	Score  *domain.ScoreRecord `json:"score,omitempty"`
}

// ArtistPage is one page of the artist listing.
type ArtistPage struct {
	Artists []*domain.Artist `json:"artists"`
	Total   int              `json:"total"`
	Offset  int              `json:"offset"`
	Limit   int              `json:"limit"`
}

// ArtistUpdate carries the fields an operator may change. Nil means keep.
type ArtistUpdate struct {
	Name               *string `json:"name"`
	Genre              *string `json:"genre"`
	SpotifyID          *string `json:"spotify_id"`
	YouTubeChannelID   *string `json:"youtube_channel_id"`
	IsActive           *bool   `json:"is_active"`
	SpotifyFollowers   *int64  `json:"spotify_followers"`
	SpotifyPopularity  *int    `json:"spotify_popularity"`
	MonthlyListeners   *int64  `json:"monthly_listeners"`
	YouTubeSubscribers *int64  `json:"youtube_subscribers"`
	YouTubeViews       *int64  `json:"youtube_views"`
	YouTubeVideos      *int64  `json:"youtube_videos"`
}

// ScoreResult is the outcome of an on-demand score.
type ScoreResult struct {
	Breakdown *domain.ScoreBreakdown `json:"breakdown"`
	ArtistID  int64                  `json:"artist_id,omitempty"`
	Persisted bool                   `json:"persisted"`
}

func ParseJobKind(raw string) (domain.JobKind, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	kind := domain.JobKind(key)
	switch key {
	case "full", "extraction":
		kind = domain.JobFullExtraction
	case "incremental":
		kind = domain.JobIncrementalExtraction
	}
	if !kind.Valid() {
		return "", errors.NewValidationError("unknown job kind", "kind", raw)
	}
	return kind, nil
}

func (s *Service) StartJob(ctx context.Context, rawKind string) (*domain.JobStatus, error) {
	kind, err := ParseJobKind(rawKind)
	if err != nil {
		return nil, err
	}
	return s.jobs.Start(ctx, kind)
}

// GetJobStatus returns the job with id, or the running/most recent job when
// id is empty.
func (s *Service) GetJobStatus(ctx context.Context, id string) (*domain.JobStatus, error) {
	st, err := s.jobs.Status(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if st == nil {
		if id == "" {
			return nil, errors.NewNotFoundError("job", "latest")
		}
		return nil, errors.NewNotFoundError("job", id)
	}
	return st, nil
}

func (s *Service) CancelJob(ctx context.Context, id string) (*domain.JobStatus, error) {
	return s.jobs.RequestCancel(ctx, id)
}

func (s *Service) JobHistory(ctx context.Context, limit int) ([]*domain.JobStatus, error) {
	return s.jobs.History(ctx, limit)
}

func (s *Service) GetEntity(ctx context.Context, id int64) (*EntityView, error) {
	artist, err := s.store.GetArtist(ctx, id)
	if err != nil {
		return nil, err
	}
	if artist == nil {
		return nil, errors.NewNotFoundError("artist", strconv.FormatInt(id, 10))
	}
	score, err := s.store.LatestScore(ctx, id, constants.ScoringConfig.AlgorithmName)
	if err != nil {
		return nil, err
	}
	return &EntityView{Artist: artist, Score: score}, nil
}

// ListArtists pages artists by id, active ones only unless includeInactive.
func (s *Service) ListArtists(ctx context.Context, offset, limit int, includeInactive bool) (*ArtistPage, error) {
	if offset < 0 {
		return nil, errors.NewValidationError("offset must not be negative", "offset", offset)
	}
	if limit <= 0 {
		limit = constants.APIConfig.DefaultPageSize
	}
	limit = util.ClampInt(limit, 1, constants.APIConfig.MaxPageSize)

	artists, err := s.store.ListArtists(ctx, offset, limit, includeInactive)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountArtists(ctx, includeInactive)
	if err != nil {
		return nil, err
	}
	return &ArtistPage{Artists: artists, Total: total, Offset: offset, Limit: limit}, nil
}

// UpdateArtist applies an operator edit. A new name or genre changes the
// scoring input, so the artist is queued for rescoring.
func (s *Service) UpdateArtist(ctx context.Context, id int64, u ArtistUpdate) (*domain.Artist, error) {
	artist, err := s.store.GetArtist(ctx, id)
	if err != nil {
		return nil, err
	}
	if artist == nil {
		return nil, errors.NewNotFoundError("artist", strconv.FormatInt(id, 10))
	}

	if u.Name != nil {
		name := util.CollapseSpaces(*u.Name)
		if name == "" {
			return nil, errors.NewValidationError("name must not be empty", "name", *u.Name)
		}
		if util.NormalizeName(name) != artist.NormalizedName {
			artist.NeedsScoring = true
		}
		artist.Name = name
	}
	if u.Genre != nil {
		genre := strings.ToLower(strings.TrimSpace(*u.Genre))
		if genre == "" {
			return nil, errors.NewValidationError("genre must not be empty", "genre", *u.Genre)
		}
		if genre != artist.Genre {
			artist.NeedsScoring = true
		}
		artist.Genre = genre
	}
	if u.SpotifyID != nil {
		artist.SpotifyID = optionalID(*u.SpotifyID)
	}
	if u.YouTubeChannelID != nil {
		artist.YouTubeChannelID = optionalID(*u.YouTubeChannelID)
	}
	if u.IsActive != nil {
		artist.IsActive = *u.IsActive
	}

	counts := []struct {
		field string
		value *int64
		dst   *int64
	}{
		{"spotify_followers", u.SpotifyFollowers, &artist.Metrics.SpotifyFollowers},
		{"monthly_listeners", u.MonthlyListeners, &artist.Metrics.MonthlyListeners},
		{"youtube_subscribers", u.YouTubeSubscribers, &artist.Metrics.YouTubeSubscribers},
		{"youtube_views", u.YouTubeViews, &artist.Metrics.YouTubeViews},
		{"youtube_videos", u.YouTubeVideos, &artist.Metrics.YouTubeVideos},
	}
	for _, c := range counts {
		if c.value == nil {
			continue
		}
		if *c.value < 0 {
			return nil, errors.NewValidationError("must not be negative", c.field, *c.value)
		}
		*c.dst = *c.value
	}
	if u.SpotifyPopularity != nil {
		if *u.SpotifyPopularity < 0 || *u.SpotifyPopularity > 100 {
			return nil, errors.NewValidationError("popularity must be within 0..100", "spotify_popularity", *u.SpotifyPopularity)
		}
		artist.Metrics.SpotifyPopularity = *u.SpotifyPopularity
	}

	if err := s.store.UpdateArtist(ctx, artist); err != nil {
		return nil, err
	}
	s.logger.Info("Artist updated",
		zap.Int64("id", artist.ID),
		zap.String("name", artist.Name),
		zap.Bool("active", artist.IsActive))
	return artist, nil
}

func optionalID(raw string) *string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return &raw
}

// DeactivateArtist soft-deletes an artist. History and scores are kept.
func (s *Service) DeactivateArtist(ctx context.Context, id int64) error {
	ok, err := s.store.SetArtistActive(ctx, id, false)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewNotFoundError("artist", strconv.FormatInt(id, 10))
	}
	s.logger.Info("Artist deactivated", zap.Int64("id", id))
	return nil
}

// CollectArtist refreshes, or creates, one artist from the metric sources.
func (s *Service) CollectArtist(ctx context.Context, name string) (*pipeline.CollectResult, error) {
	if s.collector == nil {
		return nil, errors.NewServiceError("artist collection is not configured", "discovery", "collect", nil)
	}
	return s.collector.Collect(ctx, name)
}

func (s *Service) ScoreHistory(ctx context.Context, id int64, limit int) ([]*domain.ScoreRecord, error) {
	artist, err := s.store.GetArtist(ctx, id)
	if err != nil {
		return nil, err
	}
	if artist == nil {
		return nil, errors.NewNotFoundError("artist", strconv.FormatInt(id, 10))
	}
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListScores(ctx, id, util.ClampInt(limit, 1, 100))
}

func (s *Service) ListTopByScore(ctx context.Context, limit int) ([]domain.ArtistWithScore, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListTopArtists(ctx, constants.ScoringConfig.AlgorithmName, util.ClampInt(limit, 1, 200))
}

// ScoreOne scores a name on demand. When the name belongs to a known artist
// the record is persisted and its pending flag cleared.
func (s *Service) ScoreOne(ctx context.Context, name, genre string) (*ScoreResult, error) {
	name = util.CollapseSpaces(name)
	if name == "" {
		return nil, errors.NewValidationError("artist name is required", "name", name)
	}

	artist, err := s.store.FindArtistByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if genre == "" && artist != nil {
		genre = artist.Genre
	}

	breakdown, err := s.scorer.Score(ctx, name, genre)
	if err != nil {
		return nil, err
	}

	result := &ScoreResult{Breakdown: breakdown}
	if artist != nil {
		if err := s.persist(ctx, artist.ID, breakdown); err != nil {
			return nil, err
		}
		result.ArtistID = artist.ID
		result.Persisted = true
	}
	return result, nil
}

// RescoreArtist scores a known artist by id and persists the record.
func (s *Service) RescoreArtist(ctx context.Context, id int64) (*ScoreResult, error) {
	artist, err := s.store.GetArtist(ctx, id)
	if err != nil {
		return nil, err
	}
	if artist == nil {
		return nil, errors.NewNotFoundError("artist", strconv.FormatInt(id, 10))
	}
	breakdown, err := s.scorer.Score(ctx, artist.Name, artist.Genre)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, artist.ID, breakdown); err != nil {
		return nil, err
	}
	return &ScoreResult{Breakdown: breakdown, ArtistID: artist.ID, Persisted: true}, nil
}

func (s *Service) persist(ctx context.Context, artistID int64, breakdown *domain.ScoreBreakdown) error {
	record, err := scoring.NewRecord(artistID, breakdown)
	if err != nil {
		return err
	}
	if err := s.store.SaveScore(ctx, record); err != nil {
		return fmt.Errorf("failed to save score: %w", err)
	}
	return nil
}

// ScoreBatch scores up to MaxBatchNames names. Results keep input order.
func (s *Service) ScoreBatch(ctx context.Context, names []string, genre string) ([]scoring.BatchResult, error) {
	cleaned := make([]string, 0, len(names))
	for _, n := range names {
		if n = util.CollapseSpaces(n); n != "" {
			cleaned = append(cleaned, n)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.NewValidationError("at least one name is required", "names", len(names))
	}
	if max := constants.ScoringConfig.MaxBatchNames; len(cleaned) > max {
		return nil, errors.NewValidationError(fmt.Sprintf("at most %d names per batch", max), "names", len(cleaned))
	}
	return s.scorer.ScoreBatch(ctx, cleaned, genre, s.concurrency), nil
}

// Interpretation bands an arbitrary score.
func (s *Service) Interpretation(score float64) (domain.Interpretation, error) {
	if score < 0 || score > 100 {
		return domain.Interpretation{}, errors.NewValidationError("score must be within 0-100", "score", score)
	}
	return scoring.Interpret(score), nil
}

func (s *Service) Weights() domain.ScoringWeights {
	return scoring.Weights()
}

func (s *Service) QuotaStatus() []domain.PoolStatus {
	out := make([]domain.PoolStatus, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p.Status())
	}
	return out
}

// ResetQuota clears exhaustion on every pool, or only on provider when set.
func (s *Service) ResetQuota(provider string) ([]domain.PoolStatus, error) {
	matched := false
	for _, p := range s.pools {
		if provider == "" || p.Provider() == provider {
			p.Reset()
			matched = true
		}
	}
	if !matched {
		return nil, errors.NewNotFoundError("credential pool", provider)
	}
	s.logger.Info("Credential pools reset", zap.String("provider", provider))
	return s.QuotaStatus(), nil
}

func (s *Service) CacheStats(ctx context.Context) (map[cache.Category]int64, error) {
	return s.cache.Stats(ctx)
}

// ClearCache drops every entry of one category.
func (s *Service) ClearCache(ctx context.Context, category string) (int64, error) {
	cat := cache.Category(strings.ToLower(strings.TrimSpace(category)))
	for _, known := range cache.AllCategories {
		if known == cat {
			return s.cache.Clear(ctx, cat)
		}
	}
	return 0, errors.NewValidationError("unknown cache category", "category", category)
}
