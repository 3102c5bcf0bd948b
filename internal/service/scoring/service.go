package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/metrics"
	"github.com/kapu/artist-radar/internal/service/trends"
	"github.com/kapu/artist-radar/internal/util"
	"github.com/kapu/artist-radar/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// SignalSource provides the related-video sample for a query.
type SignalSource interface {
	RelatedSample(ctx context.Context, query string, maxResults int) (*domain.RelatedSample, error)
}

// Scorer is the swappable scoring surface used by processors and the API.
type Scorer interface {
	Score(ctx context.Context, artistName, genre string) (*domain.ScoreBreakdown, error)
}

type Engine struct {
	signals SignalSource
	trends  trends.Provider
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewEngine(signals SignalSource, trendProvider trends.Provider, logger *zap.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		signals: signals,
		trends:  trendProvider,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Query is the search phrase used for both signals.
func Query(artistName string) string {
	return strings.TrimSpace(artistName) + " " + constants.APIConfig.RelatedQuerySuffix
}

// Score fetches signals and computes the breakdown. A failing trend provider
// degrades to a zero trend; a failing sample fetch is returned as is.
func (e *Engine) Score(ctx context.Context, artistName, genre string) (*domain.ScoreBreakdown, error) {
	artistName = strings.TrimSpace(artistName)
	if artistName == "" {
		return nil, errors.NewValidationError("artist name is required", "name", artistName)
	}
	query := Query(artistName)

	sample, err := e.signals.RelatedSample(ctx, query, constants.APIConfig.RelatedSampleSize)
	if err != nil {
		return nil, err
	}

	signals := Signals{Sample: sample.Videos}
	if e.trends != nil {
		trend, err := e.trends.Interest(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Debug("Trend signal unavailable, scoring without it",
				zap.String("artist", artistName),
				zap.Error(err))
		} else {
			signals.Trend = trend
			signals.TrendAvailable = true
		}
	}

	breakdown := Compute(artistName, query, genre, signals, e.now())
	e.metrics.EntityScored(breakdown.Composite)

	e.logger.Debug("Artist scored",
		zap.String("artist", artistName),
		zap.Float64("composite", breakdown.Composite),
		zap.String("category", breakdown.Interpretation.Category))

	return &breakdown, nil
}

// BatchResult is one entry of ScoreBatch, in input order.
type BatchResult struct {
	Name      string                 `json:"name"`
	Breakdown *domain.ScoreBreakdown `json:"breakdown,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// ScoreBatch scores names in batches with bounded parallelism. Once the quota
// is exhausted the remaining names are reported as failed without calls.
func (e *Engine) ScoreBatch(ctx context.Context, names []string, genre string, concurrency int) []BatchResult {
	concurrency = util.ClampInt(concurrency, 1, constants.ScoringConfig.MaxConcurrency)
	results := make([]BatchResult, len(names))

	var mu sync.Mutex
	var quotaErr error

	for start, batch := range util.Chunk(names, constants.ScoringConfig.BatchSize) {
		offset := start * constants.ScoringConfig.BatchSize
		p := pool.New().WithMaxGoroutines(concurrency)

		for i, name := range batch {
			idx, name := offset+i, name
			p.Go(func() {
				mu.Lock()
				stop := quotaErr
				mu.Unlock()

				results[idx].Name = name
				if stop != nil {
					results[idx].Error = stop.Error()
					return
				}
				if err := ctx.Err(); err != nil {
					results[idx].Error = err.Error()
					return
				}

				breakdown, err := e.Score(ctx, name, genre)
				if err != nil {
					if errors.IsQuotaExhausted(err) {
						mu.Lock()
						quotaErr = err
						mu.Unlock()
					}
					results[idx].Error = err.Error()
					return
				}
				results[idx].Breakdown = breakdown
			})
		}
		p.Wait()
	}

	return results
}

// NewRecord turns a breakdown into an immutable ScoreRecord.
func NewRecord(artistID int64, b *domain.ScoreBreakdown) (*domain.ScoreRecord, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode breakdown: %w", err)
	}
	return &domain.ScoreRecord{
		ArtistID:          artistID,
		AlgorithmName:     b.AlgorithmName,
		AlgorithmVersion:  b.AlgorithmVersion,
		DemandScore:       b.Demand.Score,
		CompetitionScore:  b.Competition.Intensity,
		OptimizationScore: b.OptimizationScore,
		OverallScore:      b.Composite,
		Category:          b.Interpretation.Category,
		Breakdown:         payload,
		CreatedAt:         b.ComputedAt,
	}, nil
}
