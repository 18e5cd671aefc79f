package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
)

const (
	defaultJobListLimit = 50
	maxJobListLimit     = 500

	jobSelectColumns = `id, website_id, type, payload, status, priority, attempts, max_attempts,
		scheduled_at, started_at, completed_at, result, error, created_at, updated_at`
)

// JobRepository handles database operations for jobs.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

var _ jobs.Store = (*JobRepository)(nil)

// CreateJob inserts a new job.
func (r *JobRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (id, website_id, type, payload, status, priority, attempts, max_attempts,
			scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.WebsiteID,
		job.Type,
		job.Payload,
		job.Status,
		job.Priority,
		job.Attempts,
		job.MaxAttempts,
		job.ScheduledAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by its ID.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE id = $1`

	err := r.db.GetContext(ctx, &job, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperrors.NotFoundError{Entity: "job", ID: id}
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ListJobs returns jobs matching filter, newest first.
func (r *JobRepository) ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	var where whereBuilder
	if filter.WebsiteID != "" {
		where.add("website_id", filter.WebsiteID)
	}
	if filter.Type != "" {
		where.add("type", filter.Type)
	}
	if filter.Status != "" {
		where.add("status", filter.Status)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultJobListLimit
	}
	if limit > maxJobListLimit {
		limit = maxJobListLimit
	}
	offset := max(filter.Offset, 0)

	conditions := where.String()
	limitArg := where.next(limit)
	offsetArg := where.next(offset)

	query := fmt.Sprintf(`
		SELECT %s
		FROM jobs
		%s
		ORDER BY created_at DESC
		LIMIT %s OFFSET %s
	`, jobSelectColumns, conditions, limitArg, offsetArg)

	var out []*domain.Job
	if err := r.db.SelectContext(ctx, &out, query, where.args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	if out == nil {
		out = []*domain.Job{}
	}

	return out, nil
}

// FindActiveJobs returns pending and running jobs of a type for a website.
func (r *JobRepository) FindActiveJobs(ctx context.Context, websiteID string, jobType domain.JobType) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobSelectColumns + `
		FROM jobs
		WHERE website_id = $1
		  AND type = $2
		  AND status IN ('pending', 'running')
		ORDER BY created_at ASC
	`

	var out []*domain.Job
	if err := r.db.SelectContext(ctx, &out, query, websiteID, jobType); err != nil {
		return nil, fmt.Errorf("failed to find active jobs: %w", err)
	}

	return out, nil
}

// ListDueJobs returns up to limit eligible pending jobs in dispatch order.
func (r *JobRepository) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobSelectColumns + `
		FROM jobs
		WHERE status = 'pending'
		  AND scheduled_at <= $1
		  AND attempts < max_attempts
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT $2
	`

	var out []*domain.Job
	if err := r.db.SelectContext(ctx, &out, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list due jobs: %w", err)
	}

	return out, nil
}

// MarkRunning claims a pending job. Returns jobs.ErrJobNotPending when the job was
// claimed, cancelled or removed in the meantime.
func (r *JobRepository) MarkRunning(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'running',
			attempts = attempts + 1,
			started_at = $2,
			updated_at = $2
		WHERE id = $1
		  AND status = 'pending'
		RETURNING ` + jobSelectColumns

	var job domain.Job
	err := r.db.GetContext(ctx, &job, query, id, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobs.ErrJobNotPending
		}
		return nil, fmt.Errorf("failed to mark job running: %w", err)
	}

	return &job, nil
}

// MarkCompleted records a successful result on a running job.
func (r *JobRepository) MarkCompleted(ctx context.Context, id string, result domain.JSONB, now time.Time) error {
	query := `
		UPDATE jobs
		SET status = 'completed',
			result = $2,
			error = NULL,
			completed_at = $3,
			updated_at = $3
		WHERE id = $1
		  AND status = 'running'
	`

	res, err := r.db.ExecContext(ctx, query, id, result, now)
	return execRequireRows(res, err, jobs.ErrJobNotRunning)
}

// MarkFailed terminally fails a running job. scheduled_at is left unchanged.
func (r *JobRepository) MarkFailed(ctx context.Context, id, errMsg string, now time.Time) error {
	query := `
		UPDATE jobs
		SET status = 'failed',
			error = $2,
			completed_at = $3,
			updated_at = $3
		WHERE id = $1
		  AND status = 'running'
	`

	res, err := r.db.ExecContext(ctx, query, id, errMsg, now)
	return execRequireRows(res, err, jobs.ErrJobNotRunning)
}

// Requeue returns a running job to pending for a later attempt.
func (r *JobRepository) Requeue(ctx context.Context, id, errMsg string, scheduledAt, now time.Time) error {
	query := `
		UPDATE jobs
		SET status = 'pending',
			error = $2,
			scheduled_at = $3,
			updated_at = $4
		WHERE id = $1
		  AND status = 'running'
	`

	res, err := r.db.ExecContext(ctx, query, id, errMsg, scheduledAt, now)
	return execRequireRows(res, err, jobs.ErrJobNotRunning)
}

// CancelJob cancels a pending or running job and reports whether it did.
func (r *JobRepository) CancelJob(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'cancelled',
			error = $2,
			completed_at = $3,
			updated_at = $3
		WHERE id = $1
		  AND status IN ('pending', 'running')
	`

	res, err := r.db.ExecContext(ctx, query, id, reason, now)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}

	return n > 0, nil
}

// LastCompletedAt returns when a job of jobType last completed for the website, or nil.
func (r *JobRepository) LastCompletedAt(ctx context.Context, websiteID string, jobType domain.JobType) (*time.Time, error) {
	query := `
		SELECT MAX(completed_at)
		FROM jobs
		WHERE website_id = $1
		  AND type = $2
		  AND status = 'completed'
	`

	var last sql.NullTime
	if err := r.db.GetContext(ctx, &last, query, websiteID, jobType); err != nil {
		return nil, fmt.Errorf("failed to get last completion: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}

	return &last.Time, nil
}
