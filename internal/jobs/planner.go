package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
)

const (
	DefaultSerpFrequency   = 24 * time.Hour
	DefaultReportFrequency = 7 * 24 * time.Hour
)

// PlannerStore is the read side the planner needs.
type PlannerStore interface {
	ListActiveWebsites(ctx context.Context) ([]*domain.Website, error)
	ListActiveQueries(ctx context.Context, websiteID string) ([]*domain.TrackedQuery, error)
	// LastCompletedAt returns when a job of jobType last completed for the website, or nil.
	LastCompletedAt(ctx context.Context, websiteID string, jobType domain.JobType) (*time.Time, error)
}

// Enqueuer creates jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*domain.Job, error)
}

// PlannerConfig holds background priorities and fallback cadences.
type PlannerConfig struct {
	SerpPriority    int
	ReportPriority  int
	SerpFrequency   time.Duration
	ReportFrequency time.Duration
}

func (c *PlannerConfig) setDefaults() {
	if c.SerpPriority == 0 {
		c.SerpPriority = domain.PrioritySerpPeriodic
	}
	if c.ReportPriority == 0 {
		c.ReportPriority = domain.PriorityReport
	}
	if c.SerpFrequency <= 0 {
		c.SerpFrequency = DefaultSerpFrequency
	}
	if c.ReportFrequency <= 0 {
		c.ReportFrequency = DefaultReportFrequency
	}
}

// PlanSummary reports what a planner pass enqueued.
type PlanSummary struct {
	Websites        int `json:"websites"`
	SerpJobs        int `json:"serp_jobs"`
	ReportJobs      int `json:"report_jobs"`
	SkippedActive   int `json:"skipped_active"`
	WebsiteFailures int `json:"website_failures"`
}

// Planner enqueues recurring SERP and report jobs per organization cadence.
type Planner struct {
	store    PlannerStore
	enqueuer Enqueuer
	clock    Clock
	cfg      PlannerConfig
	log      logger.Logger
}

// NewPlanner creates a planner.
func NewPlanner(store PlannerStore, enqueuer Enqueuer, clock Clock, cfg PlannerConfig, log logger.Logger) *Planner {
	cfg.setDefaults()
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Planner{store: store, enqueuer: enqueuer, clock: clock, cfg: cfg, log: log}
}

// Plan runs one pass over all active websites. A failure on one website is logged and
// does not stop the others.
func (p *Planner) Plan(ctx context.Context) (PlanSummary, error) {
	websites, err := p.store.ListActiveWebsites(ctx)
	if err != nil {
		return PlanSummary{}, fmt.Errorf("failed to list active websites: %w", err)
	}

	var summary PlanSummary
	for _, site := range websites {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Websites++
		if planErr := p.planWebsite(ctx, site, &summary); planErr != nil {
			summary.WebsiteFailures++
			p.log.Error("Failed to plan website",
				logger.String("website_id", site.ID),
				logger.Error(planErr),
			)
		}
	}

	p.log.Info("Planner pass finished",
		logger.Int("websites", summary.Websites),
		logger.Int("serp_jobs", summary.SerpJobs),
		logger.Int("report_jobs", summary.ReportJobs),
		logger.Int("skipped_active", summary.SkippedActive),
	)

	return summary, nil
}

func (p *Planner) planWebsite(ctx context.Context, site *domain.Website, summary *PlanSummary) error {
	now := p.clock.Now()

	serpDue, err := p.due(ctx, site.ID, domain.JobTypeSerpAnalysis, p.frequency(site.SerpFrequency, p.cfg.SerpFrequency), now)
	if err != nil {
		return err
	}
	if serpDue {
		queries, listErr := p.store.ListActiveQueries(ctx, site.ID)
		if listErr != nil {
			return fmt.Errorf("failed to list tracked queries: %w", listErr)
		}
		for _, q := range queries {
			created, enqErr := p.enqueue(ctx, site.ID, &domain.SerpAnalysisPayload{QueryIDs: []string{q.ID}}, p.cfg.SerpPriority)
			if enqErr != nil {
				return enqErr
			}
			if created {
				summary.SerpJobs++
			} else {
				summary.SkippedActive++
			}
		}
	}

	reportDue, err := p.due(ctx, site.ID, domain.JobTypeAIReport, p.frequency(site.ReportFrequency, p.cfg.ReportFrequency), now)
	if err != nil {
		return err
	}
	if reportDue {
		created, enqErr := p.enqueue(ctx, site.ID, &domain.AIReportPayload{}, p.cfg.ReportPriority)
		if enqErr != nil {
			return enqErr
		}
		if created {
			summary.ReportJobs++
		} else {
			summary.SkippedActive++
		}
	}

	return nil
}

// due reports whether no job of jobType completed within the window ending at now.
func (p *Planner) due(ctx context.Context, websiteID string, jobType domain.JobType, window time.Duration, now time.Time) (bool, error) {
	last, err := p.store.LastCompletedAt(ctx, websiteID, jobType)
	if err != nil {
		return false, fmt.Errorf("failed to load last completed %s: %w", jobType, err)
	}
	return last == nil || !last.After(now.Add(-window)), nil
}

// enqueue reports false when an active duplicate already covers the target.
func (p *Planner) enqueue(ctx context.Context, websiteID string, payload domain.Payload, priority int) (bool, error) {
	_, err := p.enqueuer.Enqueue(ctx, EnqueueRequest{
		WebsiteID: websiteID,
		Payload:   payload,
		Priority:  priority,
	})

	var conflict *apperrors.ConflictError
	if errors.As(err, &conflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to enqueue %s: %w", payload.JobType(), err)
	}
	return true, nil
}

func (p *Planner) frequency(site, fallback time.Duration) time.Duration {
	if site > 0 {
		return site
	}
	return fallback
}
