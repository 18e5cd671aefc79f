package jobs

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
)

// Task is the decoded input handed to a handler.
type Task struct {
	JobID     string
	WebsiteID string
	Type      domain.JobType
	Payload   domain.Payload
	Attempt   int

	stillRunning func(ctx context.Context) (bool, error)
}

// NewTask builds a task. stillRunning may be nil, in which case the task never reports cancellation.
func NewTask(job *domain.Job, payload domain.Payload, stillRunning func(ctx context.Context) (bool, error)) Task {
	return Task{
		JobID:        job.ID,
		WebsiteID:    job.WebsiteID,
		Type:         job.Type,
		Payload:      payload,
		Attempt:      job.Attempts,
		stillRunning: stillRunning,
	}
}

// StillRunning reports whether the job is still in the running status. Handlers call it
// before persisting results so a job cancelled mid-flight stops writing.
func (t Task) StillRunning(ctx context.Context) (bool, error) {
	if t.stillRunning == nil {
		return true, nil
	}
	return t.stillRunning(ctx)
}

// Handler executes one job type. The returned value becomes the job result.
type Handler func(ctx context.Context, task Task) (any, error)

// Result is the outcome of executing a job.
type Result struct {
	Success bool
	Data    any
	Err     error
}

// Executor routes jobs to the handler registered for their type.
type Executor struct {
	handlers map[domain.JobType]Handler
	store    Store
	log      logger.Logger
}

// NewExecutor creates an executor. store is used to answer Task.StillRunning and may be nil.
func NewExecutor(store Store, log logger.Logger) *Executor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Executor{
		handlers: make(map[domain.JobType]Handler),
		store:    store,
		log:      log,
	}
}

// Register binds a handler to a job type, replacing any previous binding.
func (e *Executor) Register(jobType domain.JobType, h Handler) {
	e.handlers[jobType] = h
}

// Has reports whether a handler is registered for jobType.
func (e *Executor) Has(jobType domain.JobType) bool {
	_, ok := e.handlers[jobType]
	return ok
}

// Execute decodes the job payload and runs its handler. Unknown types and invalid
// payloads fail without invoking any handler.
func (e *Executor) Execute(ctx context.Context, job *domain.Job) (result Result) {
	handler, ok := e.handlers[job.Type]
	if !ok {
		return Result{Err: &apperrors.UnknownJobTypeError{Type: string(job.Type)}}
	}

	payload, err := domain.DecodePayload(job.Type, job.Payload)
	if err != nil {
		return Result{Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Job handler panicked",
				logger.String("job_id", job.ID),
				logger.String("job_type", string(job.Type)),
				logger.Any("panic", r),
			)
			result = Result{Err: fmt.Errorf("handler panic: %v", r)}
		}
	}()

	task := NewTask(job, payload, e.stillRunningFunc(job.ID))
	data, err := handler(ctx, task)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Success: true, Data: data}
}

func (e *Executor) stillRunningFunc(jobID string) func(ctx context.Context) (bool, error) {
	if e.store == nil {
		return nil
	}
	return func(ctx context.Context) (bool, error) {
		job, err := e.store.GetJob(ctx, jobID)
		if err != nil {
			return false, fmt.Errorf("failed to load job status: %w", err)
		}
		return job.Status == domain.JobStatusRunning, nil
	}
}
