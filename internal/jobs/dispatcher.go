package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/events"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/metrics"
)

const (
	DefaultBatchSize  = 5
	DefaultWorkers    = 1
	DefaultJobTimeout = 5 * time.Minute
)

// DispatcherConfig bounds a dispatcher pass.
type DispatcherConfig struct {
	// BatchSize is the maximum number of due jobs picked per pass.
	BatchSize int
	// Workers caps how many handlers run at once. 1 runs the batch sequentially.
	Workers int
	// JobTimeout is the wall-clock budget for a single handler.
	JobTimeout time.Duration
}

func (c *DispatcherConfig) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
}

// Summary reports what a dispatcher pass did. Jobs claimed by a concurrent pass are not counted.
// Discarded counts jobs that ran but left running (cancelled) before their outcome was recorded.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Discarded int `json:"discarded"`
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSucceeded
	outcomeFailed
	outcomeDiscarded
)

// Dispatcher picks due jobs and runs them through the executor.
//
// A handler that outlives its timeout is abandoned, not preempted: the job is failed or
// retried, but the handler goroutine keeps running until it returns and its side effects
// are not rolled back. Its context is cancelled at the deadline, so collaborators that
// honour the context stop early.
type Dispatcher struct {
	store    Store
	executor *Executor
	clock    Clock
	cfg      DispatcherConfig
	log      logger.Logger
	metrics  *metrics.Metrics
	events   EventPublisher

	// prevents overlapping passes in this process; the store CAS covers other processes
	running sync.Mutex
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherMetrics attaches Prometheus metrics.
func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithDispatcherEvents attaches an event publisher.
func WithDispatcherEvents(p EventPublisher) DispatcherOption {
	return func(d *Dispatcher) { d.events = p }
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(
	store Store,
	executor *Executor,
	clock Clock,
	cfg DispatcherConfig,
	log logger.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	cfg.setDefaults()
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	d := &Dispatcher{
		store:    store,
		executor: executor,
		clock:    clock,
		cfg:      cfg,
		log:      log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunOnce processes one batch of due jobs.
func (d *Dispatcher) RunOnce(ctx context.Context) (Summary, error) {
	d.running.Lock()
	defer d.running.Unlock()

	due, err := d.store.ListDueJobs(ctx, d.clock.Now(), d.cfg.BatchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list due jobs: %w", err)
	}
	d.metrics.RecordBatch(len(due))

	if len(due) == 0 {
		return Summary{}, nil
	}

	var (
		mu      sync.Mutex
		summary Summary
	)

	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Workers)

	for _, job := range due {
		g.Go(func() error {
			out, processErr := d.process(ctx, job)
			if processErr != nil {
				return processErr
			}

			mu.Lock()
			defer mu.Unlock()
			switch out {
			case outcomeSucceeded:
				summary.Processed++
				summary.Succeeded++
			case outcomeFailed:
				summary.Processed++
				summary.Failed++
			case outcomeDiscarded:
				summary.Discarded++
			case outcomeSkipped:
			}
			return nil
		})
	}

	if err = g.Wait(); err != nil {
		return summary, err
	}

	d.log.Info("Dispatch pass finished",
		logger.Int("picked", len(due)),
		logger.Int("processed", summary.Processed),
		logger.Int("succeeded", summary.Succeeded),
		logger.Int("failed", summary.Failed),
		logger.Int("discarded", summary.Discarded),
	)

	return summary, nil
}

func (d *Dispatcher) process(ctx context.Context, job *domain.Job) (outcome, error) {
	if err := ValidateTransition(job.Status, domain.JobStatusRunning); err != nil {
		return outcomeSkipped, nil
	}

	running, err := d.store.MarkRunning(ctx, job.ID, d.clock.Now())
	if errors.Is(err, ErrJobNotPending) {
		d.log.Debug("Job claimed elsewhere, skipping", logger.String("job_id", job.ID))
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeSkipped, fmt.Errorf("failed to mark job %s running: %w", job.ID, err)
	}

	log := d.log.With(
		logger.String("job_id", running.ID),
		logger.String("job_type", string(running.Type)),
		logger.String("website_id", running.WebsiteID),
	)
	log.Info("Job started", logger.Int("attempt", running.Attempts))
	d.publish(events.JobStarted, running)
	d.metrics.RecordJobStarted()

	start := time.Now()
	result := d.execute(ctx, running)
	elapsed := time.Since(start)

	if result.Success {
		if !d.complete(ctx, running, result, log) {
			d.metrics.RecordJobFinished(string(running.Type), metrics.OutcomeDiscarded, elapsed)
			return outcomeDiscarded, nil
		}
		d.metrics.RecordJobFinished(string(running.Type), metrics.OutcomeSucceeded, elapsed)
		return outcomeSucceeded, nil
	}

	label, lost := d.fail(ctx, running, result.Err, log)
	if lost {
		d.metrics.RecordJobFinished(string(running.Type), metrics.OutcomeDiscarded, elapsed)
		return outcomeDiscarded, nil
	}
	d.metrics.RecordJobFinished(string(running.Type), label, elapsed)
	return outcomeFailed, nil
}

// execute races the handler against the job timeout.
func (d *Dispatcher) execute(ctx context.Context, job *domain.Job) Result {
	runCtx, cancel := context.WithTimeout(ctx, d.cfg.JobTimeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		done <- d.executor.Execute(runCtx, job)
	}()

	timeoutErr := &apperrors.TimeoutError{JobID: job.ID, Timeout: d.cfg.JobTimeout}

	select {
	case res := <-done:
		if !res.Success && errors.Is(res.Err, context.DeadlineExceeded) && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			res.Err = timeoutErr
		}
		return res
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Result{Err: timeoutErr}
		}
		return Result{Err: runCtx.Err()}
	}
}

// complete records a successful result and reports whether the completion was written.
func (d *Dispatcher) complete(ctx context.Context, job *domain.Job, result Result, log logger.Logger) bool {
	if err := ValidateTransition(job.Status, domain.JobStatusCompleted); err != nil {
		log.Error("Refusing completion", logger.Error(err))
		return false
	}

	raw, err := domain.NewJSONB(result.Data)
	if err != nil {
		log.Error("Failed to encode job result", logger.Error(err))
		raw = nil
	}

	now := d.clock.Now()
	err = d.store.MarkCompleted(context.WithoutCancel(ctx), job.ID, raw, now)
	switch {
	case errors.Is(err, ErrJobNotRunning):
		log.Warn("Job left running before completion was recorded, result discarded")
		return false
	case err != nil:
		log.Error("Failed to mark job completed", logger.Error(err))
		return false
	}

	job.Status = domain.JobStatusCompleted
	job.CompletedAt = &now
	job.Result = raw
	d.publish(events.JobCompleted, job)
	log.Info("Job completed")
	return true
}

// fail applies the retry decision and returns the metrics outcome label. lost reports that
// the job left running before the failure could be recorded.
func (d *Dispatcher) fail(ctx context.Context, job *domain.Job, execErr error, log logger.Logger) (label string, lost bool) {
	if execErr == nil {
		execErr = errors.New("handler reported failure")
	}
	errMsg := execErr.Error()
	now := d.clock.Now()
	writeCtx := context.WithoutCancel(ctx)

	label = metrics.OutcomeFailed
	var timeoutErr *apperrors.TimeoutError
	if errors.As(execErr, &timeoutErr) {
		label = metrics.OutcomeTimedOut
	}

	decision := Decide(job.Attempts, job.MaxAttempts)

	target := domain.JobStatusFailed
	if decision.Retry {
		target = domain.JobStatusPending
	}
	if err := ValidateTransition(job.Status, target); err != nil {
		log.Error("Refusing failure transition", logger.Error(err))
		return label, false
	}

	var err error
	if decision.Retry {
		scheduledAt := now.Add(decision.Delay)
		err = d.store.Requeue(writeCtx, job.ID, errMsg, scheduledAt, now)
		if err == nil {
			job.Status = domain.JobStatusPending
			job.ScheduledAt = scheduledAt
			job.Error = &errMsg
			d.publish(events.JobRetrying, job)
			log.Warn("Job failed, retry scheduled",
				logger.Int("attempt", job.Attempts),
				logger.Int("max_attempts", job.MaxAttempts),
				logger.Duration("backoff", decision.Delay),
				logger.Time("scheduled_at", scheduledAt),
				logger.Error(execErr),
			)
			if label == metrics.OutcomeFailed {
				label = metrics.OutcomeRetried
			}
		}
	} else {
		err = d.store.MarkFailed(writeCtx, job.ID, errMsg, now)
		if err == nil {
			job.Status = domain.JobStatusFailed
			job.CompletedAt = &now
			job.Error = &errMsg
			d.publish(events.JobFailed, job)
			log.Error("Job failed after all attempts",
				logger.Int("attempts", job.Attempts),
				logger.Error(execErr),
			)
		}
	}

	switch {
	case errors.Is(err, ErrJobNotRunning):
		log.Warn("Job left running before failure was recorded", logger.Error(execErr))
		return label, true
	case err != nil:
		log.Error("Failed to record job failure", logger.Error(err))
	}

	return label, false
}

func (d *Dispatcher) publish(eventType events.EventType, job *domain.Job) {
	if d.events == nil {
		return
	}
	d.events.PublishAsync(events.NewJobEvent(eventType, job))
}
