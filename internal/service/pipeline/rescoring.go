package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/service/jobs"
	"github.com/kapu/artist-radar/internal/service/scoring"
	"github.com/kapu/artist-radar/internal/util"
	"github.com/kapu/artist-radar/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// RescoringStore is what rescoring reads and writes.
type RescoringStore interface {
	ListArtistsNeedingScoring(ctx context.Context, limit int) ([]*domain.Artist, error)
	CountArtistsNeedingScoring(ctx context.Context) (int, error)
	SaveScore(ctx context.Context, record *domain.ScoreRecord) error
}

type RescoringConfig struct {
	BatchSize   int
	Concurrency int
	BatchPause  time.Duration
}

// RescoringProcessor scores every artist flagged needs_scoring, newest
// appearance first. Progress units are batches.
type RescoringProcessor struct {
	store  RescoringStore
	scorer scoring.Scorer
	cfg    RescoringConfig
	logger *zap.Logger
}

func NewRescoringProcessor(store RescoringStore, scorer scoring.Scorer, cfg RescoringConfig, logger *zap.Logger) *RescoringProcessor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.ScoringConfig.BatchSize
	}
	cfg.Concurrency = util.ClampInt(cfg.Concurrency, 1, constants.ScoringConfig.MaxConcurrency)
	if cfg.BatchPause < 0 {
		cfg.BatchPause = 0
	}
	return &RescoringProcessor{
		store:  store,
		scorer: scorer,
		cfg:    cfg,
		logger: logger,
	}
}

func (p *RescoringProcessor) Kind() domain.JobKind {
	return domain.JobRescoring
}

func (p *RescoringProcessor) TotalUnits(ctx context.Context) (int, error) {
	n, err := p.store.CountArtistsNeedingScoring(ctx)
	if err != nil {
		return 0, err
	}
	return (n + p.cfg.BatchSize - 1) / p.cfg.BatchSize, nil
}

type rescoringState struct {
	mu       sync.Mutex
	batches  int
	total    int
	saved    int
	failed   int
	stopErr  error
	progress jobs.ProgressFunc
}

func (s *rescoringState) report(step string, errMsg string) {
	u := domain.JobUpdate{
		CurrentStep:       domain.Ptr(step),
		SourcesProcessed:  domain.Ptr(s.batches),
		TotalSources:      domain.Ptr(s.total),
		EntitiesProcessed: domain.Ptr(s.saved + s.failed),
		EntitiesSaved:     domain.Ptr(s.saved),
		UpdatedEntities:   domain.Ptr(s.saved),
	}
	if errMsg != "" {
		u.Errors = []string{errMsg}
	}
	s.progress(u)
}

func (s *rescoringState) summary(pending int) domain.JobSummary {
	return domain.JobSummary{
		"pending_at_start": pending,
		"batches":          s.batches,
		"saved":            s.saved,
		"failed":           s.failed,
	}
}

// Run scores pending artists in batches with bounded parallelism. Quota
// exhaustion stops scheduling new artists, lets the batch drain and ends the
// run with that error; everything saved so far stays saved.
func (p *RescoringProcessor) Run(ctx context.Context, progress jobs.ProgressFunc, cancelled jobs.CancelFunc) (domain.JobSummary, error) {
	artists, err := p.store.ListArtistsNeedingScoring(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending artists: %w", err)
	}

	batches := util.Chunk(artists, p.cfg.BatchSize)
	state := &rescoringState{total: len(batches), progress: progress}
	state.report("scoring", "")

	for bi, batch := range batches {
		if cancelled() {
			break
		}

		wp := pool.New().WithMaxGoroutines(p.cfg.Concurrency)
		for _, artist := range batch {
			artist := artist
			wp.Go(func() {
				p.scoreOne(ctx, artist, state, cancelled)
			})
		}
		wp.Wait()

		state.mu.Lock()
		state.batches = bi + 1
		stopErr := state.stopErr
		state.report("scoring", "")
		state.mu.Unlock()

		if stopErr != nil {
			p.logger.Warn("Rescoring stopped",
				zap.Int("batch", bi+1),
				zap.Int("saved", state.saved),
				zap.Error(stopErr))
			return state.summary(len(artists)), stopErr
		}

		if bi < len(batches)-1 && p.cfg.BatchPause > 0 && !cancelled() {
			select {
			case <-ctx.Done():
				return state.summary(len(artists)), ctx.Err()
			case <-time.After(p.cfg.BatchPause):
			}
		}
	}

	p.logger.Info("Rescoring finished",
		zap.Int("pending", len(artists)),
		zap.Int("saved", state.saved),
		zap.Int("failed", state.failed))

	return state.summary(len(artists)), nil
}

func (p *RescoringProcessor) scoreOne(ctx context.Context, artist *domain.Artist, state *rescoringState, cancelled jobs.CancelFunc) {
	state.mu.Lock()
	stop := state.stopErr != nil
	state.mu.Unlock()
	if stop || cancelled() {
		return
	}
	if err := ctx.Err(); err != nil {
		state.mu.Lock()
		if state.stopErr == nil {
			state.stopErr = err
		}
		state.mu.Unlock()
		return
	}

	err := p.scoreAndSave(ctx, artist)

	state.mu.Lock()
	defer state.mu.Unlock()
	if err == nil {
		state.saved++
		state.report("scoring", "")
		return
	}
	state.failed++
	if errors.IsQuotaExhausted(err) || ctx.Err() != nil {
		if state.stopErr == nil {
			state.stopErr = err
		}
	}
	p.logger.Debug("Artist scoring failed",
		zap.String("artist", artist.Name),
		zap.Error(err))
	state.report("scoring", fmt.Sprintf("%s: %v", artist.Name, err))
}

func (p *RescoringProcessor) scoreAndSave(ctx context.Context, artist *domain.Artist) error {
	breakdown, err := p.scorer.Score(ctx, artist.Name, artist.Genre)
	if err != nil {
		return err
	}
	record, err := scoring.NewRecord(artist.ID, breakdown)
	if err != nil {
		return err
	}
	return p.store.SaveScore(ctx, record)
}
