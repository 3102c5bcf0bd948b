// Package scheduler runs the periodic discovery cycle and quota housekeeping.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/util"
	"github.com/kapu/artist-radar/pkg/errors"
	"go.uber.org/zap"
)

// JobStarter is the orchestrator surface the scheduler drives.
type JobStarter interface {
	Start(ctx context.Context, kind domain.JobKind) (*domain.JobStatus, error)
	Wait(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (*domain.JobStatus, error)
	CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Resettable is a credential pool renewed once per provider quota day.
type Resettable interface {
	Provider() string
	Reset()
}

type Config struct {
	Interval  time.Duration
	Retention time.Duration
	// RescoreAfterExtraction chains a rescoring job after each extraction.
	RescoreAfterExtraction bool
}

type Scheduler struct {
	jobs   JobStarter
	pools  []Resettable
	cfg    Config
	logger *zap.Logger

	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	cycleMu sync.Mutex
	now     func() time.Time
}

func NewScheduler(jobs JobStarter, pools []Resettable, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = constants.JobConfig.SchedulerInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = constants.JobConfig.RetentionPeriod
	}
	return &Scheduler{
		jobs:   jobs,
		pools:  pools,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Start launches the cycle ticker and the quota reset timer. It returns
// immediately; the first cycle runs after one interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.ticker = time.NewTicker(s.cfg.Interval)

	s.logger.Info("Discovery scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("retention", s.cfg.Retention),
		zap.Bool("rescore_after_extraction", s.cfg.RescoreAfterExtraction))

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ticker.C:
				s.RunCycle(ctx)
			case <-s.stopCh:
				s.logger.Info("Discovery scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Discovery scheduler context cancelled")
				return
			}
		}
	}()
	go func() {
		defer s.wg.Done()
		s.quotaLoop(ctx)
	}()
}

func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
	s.wg.Wait()
}

// RunCycle runs one incremental extraction, optionally followed by
// rescoring, then prunes old job records. A job already running is not an
// error: the cycle is skipped and picked up next tick.
func (s *Scheduler) RunCycle(ctx context.Context) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if s.runJob(ctx, domain.JobIncrementalExtraction) && s.cfg.RescoreAfterExtraction {
		s.runJob(ctx, domain.JobRescoring)
	}

	deleted, err := s.jobs.CleanupOld(ctx, s.cfg.Retention)
	if err != nil {
		s.logger.Warn("Job cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("Old jobs pruned", zap.Int64("deleted", deleted))
	}
}

// runJob starts kind and waits for it. It reports whether the job finished
// in a state that lets the cycle continue.
func (s *Scheduler) runJob(ctx context.Context, kind domain.JobKind) bool {
	st, err := s.jobs.Start(ctx, kind)
	if err != nil {
		if errors.IsJobAlreadyRunning(err) {
			s.logger.Info("Scheduled job skipped, another job is running",
				zap.String("kind", string(kind)),
				zap.Error(err))
			return false
		}
		s.logger.Error("Scheduled job failed to start",
			zap.String("kind", string(kind)),
			zap.Error(err))
		return false
	}

	if err := s.jobs.Wait(ctx, st.ID); err != nil {
		return false
	}

	final, err := s.jobs.Status(ctx, st.ID)
	if err != nil || final == nil {
		s.logger.Warn("Scheduled job status unavailable", zap.String("job_id", st.ID), zap.Error(err))
		return false
	}
	s.logger.Info("Scheduled job finished",
		zap.String("job_id", final.ID),
		zap.String("kind", string(kind)),
		zap.String("state", string(final.State)))
	return final.State == domain.JobCompleted
}

// quotaLoop resets every pool at the provider's daily renewal.
func (s *Scheduler) quotaLoop(ctx context.Context) {
	for {
		now := s.now()
		wait := util.NextQuotaReset(now).Sub(now)
		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
			s.ResetPools()
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) ResetPools() {
	for _, p := range s.pools {
		p.Reset()
	}
	s.logger.Info("Credential pools renewed for the new quota day", zap.Int("pools", len(s.pools)))
}
