package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/metrics"
	"github.com/kapu/artist-radar/internal/util"
	"github.com/kapu/artist-radar/pkg/errors"
	"go.uber.org/zap"
)

// ProgressFunc reports a partial update for the running job. Calls must come
// from one goroutine at a time.
type ProgressFunc func(update domain.JobUpdate)

// CancelFunc reports whether cancellation was requested. Processors poll it
// before every source and every entity.
type CancelFunc func() bool

// Processor is one kind of background work the orchestrator can drive.
type Processor interface {
	Kind() domain.JobKind
	TotalUnits(ctx context.Context) (int, error)
	Run(ctx context.Context, progress ProgressFunc, cancelled CancelFunc) (domain.JobSummary, error)
}

type activeJob struct {
	mu        sync.Mutex
	status    *domain.JobStatus
	cancel    atomic.Bool
	done      chan struct{}
	ctxCancel context.CancelFunc
}

// Orchestrator runs at most one job at a time and owns its status record.
type Orchestrator struct {
	store      domain.JobStore
	processors map[domain.JobKind]Processor
	logger     *zap.Logger
	metrics    *metrics.Metrics

	startMu sync.Mutex
	mu      sync.RWMutex
	active  *activeJob

	subMu       sync.Mutex
	subscribers map[int]chan *domain.JobStatus
	nextSub     int

	wg         sync.WaitGroup
	baseCtx    context.Context
	baseCancel context.CancelFunc
	now        func() time.Time
}

func NewOrchestrator(store domain.JobStore, logger *zap.Logger, m *metrics.Metrics, processors ...Processor) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:       store,
		processors:  make(map[domain.JobKind]Processor, len(processors)),
		logger:      logger,
		metrics:     m,
		subscribers: make(map[int]chan *domain.JobStatus),
		baseCtx:     ctx,
		baseCancel:  cancel,
		now:         time.Now,
	}
	for _, p := range processors {
		o.processors[p.Kind()] = p
	}
	return o
}

// Start creates a running job for kind and launches its processor in the
// background. It fails with JobAlreadyRunningError while another job runs.
func (o *Orchestrator) Start(ctx context.Context, kind domain.JobKind) (*domain.JobStatus, error) {
	processor, ok := o.processors[kind]
	if !ok {
		return nil, errors.NewValidationError("unknown job kind", "kind", string(kind))
	}

	o.startMu.Lock()
	defer o.startMu.Unlock()

	o.mu.RLock()
	active := o.active
	o.mu.RUnlock()
	if active != nil {
		active.mu.Lock()
		id, k := active.status.ID, active.status.Kind
		active.mu.Unlock()
		return nil, errors.NewJobAlreadyRunningError(id, string(k))
	}

	running, err := o.store.FindRunningJob(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check running job: %w", err)
	}
	if running != nil {
		return nil, errors.NewJobAlreadyRunningError(running.ID, string(running.Kind))
	}

	total, err := processor.TotalUnits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to size %s job: %w", kind, err)
	}

	now := o.now()
	status := &domain.JobStatus{
		ID:          uuid.NewString(),
		Kind:        kind,
		State:       domain.JobRunning,
		CurrentStep: "starting",
		Counters:    domain.JobCounters{TotalSources: total},
		Cancellable: true,
		StartedAt:   now,
		LastUpdate:  now,
	}
	if err := o.store.CreateJob(ctx, status); err != nil {
		return nil, err
	}

	runCtx, runCancel := context.WithCancel(o.baseCtx)
	aj := &activeJob{
		status:    status,
		done:      make(chan struct{}),
		ctxCancel: runCancel,
	}

	o.mu.Lock()
	o.active = aj
	o.mu.Unlock()

	o.metrics.JobState(string(kind), string(domain.JobRunning))
	o.publish(status.Clone())

	o.logger.Info("Job started",
		zap.String("job_id", status.ID),
		zap.String("kind", string(kind)),
		zap.Int("total_units", total))

	o.wg.Add(1)
	go o.run(runCtx, aj, processor)

	return status.Clone(), nil
}

func (o *Orchestrator) run(ctx context.Context, aj *activeJob, processor Processor) {
	defer o.wg.Done()
	defer aj.ctxCancel()

	var (
		summary domain.JobSummary
		err     error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("processor panic: %v", r)
				o.logger.Error("Job processor panicked",
					zap.String("job_id", aj.status.ID),
					zap.Any("panic", r),
					zap.Stack("stack"))
			}
		}()
		summary, err = processor.Run(ctx,
			func(u domain.JobUpdate) { o.applyProgress(aj, u) },
			aj.cancel.Load)
	}()

	o.finish(aj, summary, err)
}

func (o *Orchestrator) applyProgress(aj *activeJob, u domain.JobUpdate) {
	aj.mu.Lock()
	aj.status.Apply(u, constants.JobConfig.MaxRetainedErrors, o.now())
	snapshot := aj.status.Clone()
	o.persist(snapshot)
	aj.mu.Unlock()

	o.publish(snapshot)
	o.metrics.JobProgress(string(snapshot.Kind), snapshot.ProgressPercentage)
}

func (o *Orchestrator) finish(aj *activeJob, summary domain.JobSummary, runErr error) {
	now := o.now()

	aj.mu.Lock()
	st := aj.status
	switch {
	case aj.cancel.Load():
		st.State = domain.JobCancelled
		st.CurrentStep = "cancelled"
	case runErr != nil:
		st.State = domain.JobError
		st.CurrentStep = "failed"
		st.ErrorMessage = runErr.Error()
		st.Apply(domain.JobUpdate{Errors: []string{runErr.Error()}}, constants.JobConfig.MaxRetainedErrors, now)
		st.ProgressPercentage = 100
	default:
		st.State = domain.JobCompleted
		st.CurrentStep = "completed"
		st.ProgressPercentage = 100
	}
	if summary != nil {
		if payload, err := json.Marshal(summary); err == nil {
			st.Result = payload
		}
	}
	st.Cancellable = false
	st.CompletedAt = util.TimePtr(now)
	st.LastUpdate = now
	snapshot := st.Clone()
	o.persist(snapshot)
	aj.mu.Unlock()

	o.metrics.JobState(string(snapshot.Kind), string(snapshot.State))

	o.mu.Lock()
	if o.active == aj {
		o.active = nil
	}
	o.mu.Unlock()
	close(aj.done)

	o.publish(snapshot)

	fields := []zap.Field{
		zap.String("job_id", snapshot.ID),
		zap.String("kind", string(snapshot.Kind)),
		zap.String("state", string(snapshot.State)),
		zap.Int("entities_processed", snapshot.Counters.EntitiesProcessed),
		zap.Int("errors", snapshot.Counters.ErrorsCount),
	}
	if snapshot.State == domain.JobError {
		o.logger.Warn("Job finished with error", append(fields, zap.String("error", snapshot.ErrorMessage))...)
		return
	}
	o.logger.Info("Job finished", fields...)
}

// persist writes a status snapshot with aj.mu held, so writes land in the
// order the snapshots were taken. It uses its own context so that a job
// cancelled by shutdown still records its terminal state.
func (o *Orchestrator) persist(snapshot *domain.JobStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.UpdateJob(ctx, snapshot); err != nil {
		o.logger.Warn("Failed to persist job status",
			zap.String("job_id", snapshot.ID),
			zap.Error(err))
	}
}

// RequestCancel flags the job; the processor stops at its next check.
func (o *Orchestrator) RequestCancel(ctx context.Context, id string) (*domain.JobStatus, error) {
	o.mu.RLock()
	aj := o.active
	o.mu.RUnlock()

	if aj != nil {
		aj.mu.Lock()
		if aj.status.ID == id && aj.status.State == domain.JobRunning {
			aj.cancel.Store(true)
			aj.status.CancelRequested = true
			aj.status.CurrentStep = "cancelling"
			aj.status.LastUpdate = o.now()
			snapshot := aj.status.Clone()
			o.persist(snapshot)
			aj.mu.Unlock()

			o.publish(snapshot)
			o.logger.Info("Job cancellation requested", zap.String("job_id", id))
			return snapshot, nil
		}
		aj.mu.Unlock()
	}

	stored, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if stored == nil {
		return nil, errors.NewNotFoundError("job", id)
	}
	return nil, errors.NewValidationError("job is not running", "state", string(stored.State))
}

// Status returns the job with id, or the running job (falling back to the
// most recent one) when id is empty. Nil means there is no such job.
func (o *Orchestrator) Status(ctx context.Context, id string) (*domain.JobStatus, error) {
	o.mu.RLock()
	aj := o.active
	o.mu.RUnlock()

	if aj != nil {
		aj.mu.Lock()
		snapshot := aj.status.Clone()
		aj.mu.Unlock()
		if id == "" || snapshot.ID == id {
			return snapshot, nil
		}
	}

	if id == "" {
		return o.store.LatestJob(ctx)
	}
	return o.store.GetJob(ctx, id)
}

func (o *Orchestrator) History(ctx context.Context, limit int) ([]*domain.JobStatus, error) {
	if limit <= 0 {
		limit = constants.JobConfig.DefaultHistory
	}
	limit = util.ClampInt(limit, 1, constants.JobConfig.MaxHistory)
	return o.store.ListJobs(ctx, limit)
}

// CleanupOld removes terminal jobs that completed more than olderThan ago.
func (o *Orchestrator) CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	deleted, err := o.store.DeleteJobsFinishedBefore(ctx, o.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up jobs: %w", err)
	}
	if deleted > 0 {
		o.logger.Info("Old jobs removed", zap.Int64("count", deleted))
	}
	return deleted, nil
}

// RecoverStale marks running records left behind by a previous process as
// failed so a new job can start.
func (o *Orchestrator) RecoverStale(ctx context.Context) (int, error) {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	o.mu.RLock()
	active := o.active
	o.mu.RUnlock()

	recovered := 0
	for {
		running, err := o.store.FindRunningJob(ctx)
		if err != nil {
			return recovered, fmt.Errorf("failed to find running job: %w", err)
		}
		if running == nil {
			return recovered, nil
		}
		if active != nil && active.status.ID == running.ID {
			return recovered, nil
		}

		now := o.now()
		running.State = domain.JobError
		running.ErrorMessage = "interrupted by process restart"
		running.CurrentStep = "failed"
		running.Cancellable = false
		running.CompletedAt = util.TimePtr(now)
		running.LastUpdate = now
		if err := o.store.UpdateJob(ctx, running); err != nil {
			return recovered, fmt.Errorf("failed to mark job %s as stale: %w", running.ID, err)
		}
		recovered++
		o.logger.Warn("Stale running job marked as error",
			zap.String("job_id", running.ID),
			zap.String("kind", string(running.Kind)))
	}
}

// Wait blocks until the job with id is no longer active in this process.
func (o *Orchestrator) Wait(ctx context.Context, id string) error {
	o.mu.RLock()
	aj := o.active
	o.mu.RUnlock()
	if aj == nil {
		return nil
	}
	aj.mu.Lock()
	match := aj.status.ID == id
	aj.mu.Unlock()
	if !match {
		return nil
	}

	select {
	case <-aj.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers for status snapshots. Slow subscribers miss updates
// rather than block the job. Call the returned func to unsubscribe.
func (o *Orchestrator) Subscribe() (<-chan *domain.JobStatus, func()) {
	ch := make(chan *domain.JobStatus, constants.WebSocketConfig.SendBuffer)

	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subscribers[id] = ch
	o.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.subMu.Lock()
			delete(o.subscribers, id)
			o.subMu.Unlock()
			close(ch)
		})
	}
}

func (o *Orchestrator) publish(snapshot *domain.JobStatus) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subscribers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// Shutdown requests cancellation of the active job and waits for it to
// finish. When ctx expires first the job context is cancelled as well.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.RLock()
	aj := o.active
	o.mu.RUnlock()
	if aj != nil {
		aj.cancel.Store(true)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.baseCancel()
		return nil
	case <-ctx.Done():
		o.baseCancel()
		<-done
		return ctx.Err()
	}
}
