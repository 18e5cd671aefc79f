package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/events"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/metrics"
)

// EventPublisher receives job lifecycle events.
type EventPublisher interface {
	PublishAsync(event events.JobEvent)
}

// EnqueueRequest describes a job to create.
type EnqueueRequest struct {
	WebsiteID string
	Payload   domain.Payload
	Priority  int
	// ScheduledAt defaults to now.
	ScheduledAt time.Time
	// MaxAttempts defaults to the service's configured maximum.
	MaxAttempts int
	// Force cancels active jobs for the same target instead of failing with a conflict.
	Force bool
}

// Service creates and cancels jobs.
type Service struct {
	store   Store
	clock   Clock
	log     logger.Logger
	metrics *metrics.Metrics
	events  EventPublisher

	maxAttempts int

	// serializes the duplicate check and the insert within this process
	mu sync.Mutex
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceMetrics attaches Prometheus metrics.
func WithServiceMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithServiceEvents attaches an event publisher.
func WithServiceEvents(p EventPublisher) ServiceOption {
	return func(s *Service) { s.events = p }
}

// WithMaxAttempts sets the attempt budget for jobs that do not carry their own.
func WithMaxAttempts(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewService creates a job service.
func NewService(store Store, clock Clock, log logger.Logger, opts ...ServiceOption) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	s := &Service{store: store, clock: clock, log: log, maxAttempts: domain.DefaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue creates a pending job. An active job of the same type and website whose targets
// overlap causes a ConflictError, unless Force is set, in which case those jobs are cancelled first.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.Job, error) {
	if req.WebsiteID == "" {
		return nil, apperrors.NewValidation("website_id", "is required")
	}
	if req.Payload == nil {
		return nil, apperrors.NewValidation("payload", "is required")
	}
	if err := req.Payload.Validate(); err != nil {
		return nil, err
	}

	jobType := req.Payload.JobType()
	raw, err := domain.NewJSONB(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := s.findOverlapping(ctx, req.WebsiteID, req.Payload)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	jobID := uuid.NewString()

	if len(matches) > 0 {
		if !req.Force {
			existing := matches[0]
			s.metrics.RecordConflict(string(jobType))
			return nil, &apperrors.ConflictError{
				JobID:     existing.ID,
				Status:    string(existing.Status),
				CreatedAt: existing.CreatedAt,
			}
		}
		reason := "cancelled: superseded by forced job " + jobID
		if err = s.cancelAll(ctx, matches, reason, now); err != nil {
			return nil, err
		}
	}

	scheduledAt := req.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}

	job := &domain.Job{
		ID:          jobID,
		WebsiteID:   req.WebsiteID,
		Type:        jobType,
		Payload:     raw,
		Status:      domain.JobStatusPending,
		Priority:    req.Priority,
		MaxAttempts: maxAttempts,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err = s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.metrics.RecordEnqueued(string(jobType), job.Priority)
	s.publish(events.JobEnqueued, job)
	s.log.Info("Job enqueued",
		logger.String("job_id", job.ID),
		logger.String("job_type", string(job.Type)),
		logger.String("website_id", job.WebsiteID),
		logger.Int("priority", job.Priority),
		logger.Bool("forced", req.Force),
	)

	return job, nil
}

func (s *Service) findOverlapping(ctx context.Context, websiteID string, payload domain.Payload) ([]*domain.Job, error) {
	active, err := s.store.FindActiveJobs(ctx, websiteID, payload.JobType())
	if err != nil {
		return nil, fmt.Errorf("failed to find active jobs: %w", err)
	}

	keys := payload.TargetKeys()
	var matches []*domain.Job
	for _, job := range active {
		existing, decodeErr := domain.DecodePayload(job.Type, job.Payload)
		if decodeErr != nil {
			s.log.Warn("Skipping active job with undecodable payload",
				logger.String("job_id", job.ID),
				logger.Error(decodeErr),
			)
			continue
		}
		if domain.KeysIntersect(keys, existing.TargetKeys()) {
			matches = append(matches, job)
		}
	}
	return matches, nil
}

func (s *Service) cancelAll(ctx context.Context, matches []*domain.Job, reason string, now time.Time) error {
	for _, job := range matches {
		if _, err := s.cancelOne(ctx, job, reason, now); err != nil {
			return err
		}
	}
	return nil
}

// cancelOne cancels job and reports whether the conditional write applied.
func (s *Service) cancelOne(ctx context.Context, job *domain.Job, reason string, now time.Time) (bool, error) {
	if err := ValidateTransition(job.Status, domain.JobStatusCancelled); err != nil {
		return false, err
	}
	cancelled, err := s.store.CancelJob(ctx, job.ID, reason, now)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job %s: %w", job.ID, err)
	}
	if !cancelled {
		return false, nil
	}

	s.metrics.RecordCancelled(string(job.Type), 1)
	job.Status = domain.JobStatusCancelled
	job.Error = &reason
	s.publish(events.JobCancelled, job)
	s.log.Info("Job cancelled",
		logger.String("job_id", job.ID),
		logger.String("job_type", string(job.Type)),
		logger.String("website_id", job.WebsiteID),
		logger.String("reason", reason),
	)
	return true, nil
}

// Cancel cancels a single pending or running job. A job in any other status,
// including one that finished while the request was in flight, yields an InvalidStateError.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*domain.Job, error) {
	if reason == "" {
		reason = "cancelled by user"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanCancel(job.Status) {
		return nil, notCancellable(job)
	}

	cancelled, err := s.cancelOne(ctx, job, reason, s.clock.Now())
	if err != nil {
		return nil, err
	}

	current, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return nil, notCancellable(current)
	}
	return current, nil
}

func notCancellable(job *domain.Job) error {
	return &apperrors.InvalidStateError{
		Entity: "job",
		ID:     job.ID,
		Status: string(job.Status),
		Op:     "cancel",
	}
}

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Job, error) {
	return s.store.GetJob(ctx, id)
}

// List returns jobs matching filter.
func (s *Service) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	return s.store.ListJobs(ctx, filter)
}

func (s *Service) publish(eventType events.EventType, job *domain.Job) {
	if s.events == nil {
		return
	}
	s.events.PublishAsync(events.NewJobEvent(eventType, job))
}
