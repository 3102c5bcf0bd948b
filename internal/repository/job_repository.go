package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/util"
	"github.com/kapu/artist-radar/pkg/errors"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	uniqueViolation      = "23505"
	singleRunningJobName = "idx_jobs_single_running"
)

var jobColumns = []string{
	"id", "kind", "state", "progress_percentage", "current_step", "current_source",
	"counters", "errors", "error_message", "result",
	"cancellable", "cancel_requested", "started_at", "completed_at", "last_update",
}

type JobRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewJobRepository(db *sql.DB, logger *zap.Logger) *JobRepository {
	return &JobRepository{db: db, logger: logger}
}

func scanJob(row rowScanner) (*domain.JobStatus, error) {
	var (
		j         domain.JobStatus
		kind      string
		state     string
		counters  []byte
		result    []byte
		completed sql.NullTime
	)
	if err := row.Scan(
		&j.ID, &kind, &state, &j.ProgressPercentage, &j.CurrentStep, &j.CurrentSource,
		&counters, pq.Array(&j.Errors), &j.ErrorMessage, &result,
		&j.Cancellable, &j.CancelRequested, &j.StartedAt, &completed, &j.LastUpdate,
	); err != nil {
		return nil, err
	}
	j.Kind = domain.JobKind(kind)
	j.State = domain.JobState(state)
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &j.Counters); err != nil {
			return nil, fmt.Errorf("failed to decode job counters: %w", err)
		}
	}
	if len(result) > 0 {
		j.Result = result
	}
	if completed.Valid {
		j.CompletedAt = util.TimePtr(completed.Time)
	}
	return &j, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// CreateJob inserts job. The partial unique index on running jobs turns a
// concurrent second start into a JobAlreadyRunningError.
func (r *JobRepository) CreateJob(ctx context.Context, job *domain.JobStatus) error {
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("failed to encode job counters: %w", err)
	}

	query, args, err := psql.Insert("jobs").
		Columns(jobColumns...).
		Values(
			job.ID, string(job.Kind), string(job.State), job.ProgressPercentage, job.CurrentStep, job.CurrentSource,
			counters, pq.Array(nonNil(job.Errors)), job.ErrorMessage, nullableJSON(job.Result),
			job.Cancellable, job.CancelRequested, job.StartedAt, job.CompletedAt, job.LastUpdate,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build job insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation && pqErr.Constraint == singleRunningJobName {
			runningID, runningKind := "unknown", "unknown"
			if running, findErr := r.FindRunningJob(ctx); findErr == nil && running != nil {
				runningID, runningKind = running.ID, string(running.Kind)
			}
			return errors.NewJobAlreadyRunningError(runningID, runningKind)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *JobRepository) UpdateJob(ctx context.Context, job *domain.JobStatus) error {
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("failed to encode job counters: %w", err)
	}

	query, args, err := psql.Update("jobs").
		Set("state", string(job.State)).
		Set("progress_percentage", job.ProgressPercentage).
		Set("current_step", job.CurrentStep).
		Set("current_source", job.CurrentSource).
		Set("counters", counters).
		Set("errors", pq.Array(nonNil(job.Errors))).
		Set("error_message", job.ErrorMessage).
		Set("result", nullableJSON(job.Result)).
		Set("cancellable", job.Cancellable).
		Set("cancel_requested", job.CancelRequested).
		Set("completed_at", job.CompletedAt).
		Set("last_update", job.LastUpdate).
		Where(sq.Eq{"id": job.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build job update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("job", job.ID)
	}
	return nil
}

func (r *JobRepository) getOne(ctx context.Context, builder sq.SelectBuilder) (*domain.JobStatus, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build job query: %w", err)
	}
	job, err := scanJob(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) GetJob(ctx context.Context, id string) (*domain.JobStatus, error) {
	return r.getOne(ctx, psql.Select(jobColumns...).From("jobs").Where(sq.Eq{"id": id}))
}

func (r *JobRepository) FindRunningJob(ctx context.Context) (*domain.JobStatus, error) {
	return r.getOne(ctx, psql.Select(jobColumns...).
		From("jobs").
		Where(sq.Eq{"state": string(domain.JobRunning)}).
		OrderBy("started_at").
		Limit(1))
}

func (r *JobRepository) LatestJob(ctx context.Context) (*domain.JobStatus, error) {
	return r.getOne(ctx, psql.Select(jobColumns...).
		From("jobs").
		OrderBy("started_at DESC").
		Limit(1))
}

func (r *JobRepository) ListJobs(ctx context.Context, limit int) ([]*domain.JobStatus, error) {
	builder := psql.Select(jobColumns...).From("jobs").OrderBy("started_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build job history query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*domain.JobStatus, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) DeleteJobsFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := psql.Delete("jobs").
		Where(sq.Eq{"state": []string{
			string(domain.JobCompleted), string(domain.JobError), string(domain.JobCancelled),
		}}).
		Where(sq.Lt{"completed_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build job cleanup: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted jobs: %w", err)
	}
	return n, nil
}
