// Package jobs implements the job engine: enqueue with duplicate detection, the status
// state machine, retry/backoff decisions, the executor dispatch table, the bounded
// dispatcher and the periodic planner.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
)

var (
	// ErrJobNotPending is returned by MarkRunning when another pass already claimed the job.
	ErrJobNotPending = errors.New("job is not pending")
	// ErrJobNotRunning is returned by terminal writes when the job left running, e.g. it was cancelled.
	ErrJobNotRunning = errors.New("job is not running")
)

// Store persists job records. Every status write is a conditional update on the
// expected current status.
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error)
	// FindActiveJobs returns pending and running jobs of a type for a website.
	FindActiveJobs(ctx context.Context, websiteID string, jobType domain.JobType) ([]*domain.Job, error)
	// ListDueJobs returns up to limit pending jobs with scheduled_at <= now and attempts below
	// the limit, ordered by priority desc then scheduled_at asc.
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)
	// MarkRunning moves a pending job to running, increments attempts and returns the updated row.
	MarkRunning(ctx context.Context, id string, now time.Time) (*domain.Job, error)
	MarkCompleted(ctx context.Context, id string, result domain.JSONB, now time.Time) error
	MarkFailed(ctx context.Context, id, errMsg string, now time.Time) error
	Requeue(ctx context.Context, id, errMsg string, scheduledAt, now time.Time) error
	// CancelJob cancels a pending or running job. It reports false if the job was not active.
	CancelJob(ctx context.Context, id, reason string, now time.Time) (bool, error)
}
