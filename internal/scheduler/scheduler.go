// Package scheduler ticks periodic engine passes (dispatch, plan) on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
)

// Task is one periodic pass.
type Task func(ctx context.Context) error

// Scheduler runs registered tasks at fixed intervals. A task whose previous run is
// still in progress is skipped for that tick.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	log  logger.Logger
}

// New creates a scheduler. Tasks receive ctx, so cancelling it stops in-flight passes.
func New(ctx context.Context, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger{log: log}), cron.SkipIfStillRunning(cronLogger{log: log})),
		),
		ctx: ctx,
		log: log,
	}
}

// Every registers task to run every interval.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("interval for %s must be positive", name)
	}

	_, err := s.cron.AddFunc("@every "+interval.String(), func() {
		start := time.Now()
		if err := task(s.ctx); err != nil {
			s.log.Error("Scheduled task failed",
				logger.String("task", name),
				logger.Error(err),
			)
			return
		}
		s.log.Debug("Scheduled task finished",
			logger.String("task", name),
			logger.Duration("duration", time.Since(start)),
		)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.log.Info("Scheduled task registered",
		logger.String("task", name),
		logger.Duration("interval", interval),
	)
	return nil
}

// Start begins ticking in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops ticking and waits for running tasks until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduled tasks: %w", ctx.Err())
	}
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, logger.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, logger.Error(err), logger.Any("details", keysAndValues))
}
