package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
)

// InitialAnalysisResult is stored as the job result.
type InitialAnalysisResult struct {
	SitemapJobID string   `json:"sitemap_job_id,omitempty"`
	SerpJobIDs   []string `json:"serp_job_ids"`
	Skipped      int      `json:"skipped"`
}

// InitialHandler fans out the first sitemap and SERP jobs for a website.
type InitialHandler struct {
	store    InitialStore
	enqueuer jobs.Enqueuer
	log      logger.Logger
}

// NewInitialHandler creates an initial analysis handler.
func NewInitialHandler(store InitialStore, enqueuer jobs.Enqueuer, log logger.Logger) *InitialHandler {
	return &InitialHandler{store: store, enqueuer: enqueuer, log: orNop(log)}
}

// Handle enqueues a sitemap fetch when the website has a sitemap and one SERP analysis per
// active query. Targets that already have an active job are skipped.
func (h *InitialHandler) Handle(ctx context.Context, task jobs.Task) (any, error) {
	if _, ok := task.Payload.(*domain.InitialAnalysisPayload); !ok {
		return nil, apperrors.NewValidation("payload", "expected initial_analysis payload, got %T", task.Payload)
	}

	website, err := h.store.GetWebsite(ctx, task.WebsiteID)
	if err != nil {
		return nil, err
	}

	queries, err := h.store.ListActiveQueries(ctx, website.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked queries: %w", err)
	}

	if err = ensureRunning(ctx, task); err != nil {
		return nil, err
	}

	result := &InitialAnalysisResult{SerpJobIDs: []string{}}

	if website.SitemapURL != nil && *website.SitemapURL != "" {
		id, enqErr := h.enqueue(ctx, website.ID, &domain.SitemapFetchPayload{})
		if enqErr != nil {
			return nil, enqErr
		}
		if id == "" {
			result.Skipped++
		}
		result.SitemapJobID = id
	}

	for _, q := range queries {
		id, enqErr := h.enqueue(ctx, website.ID, &domain.SerpAnalysisPayload{QueryIDs: []string{q.ID}})
		if enqErr != nil {
			return nil, enqErr
		}
		if id == "" {
			result.Skipped++
			continue
		}
		result.SerpJobIDs = append(result.SerpJobIDs, id)
	}

	h.log.Info("Initial analysis planned",
		logger.String("job_id", task.JobID),
		logger.String("website_id", website.ID),
		logger.Int("serp_jobs", len(result.SerpJobIDs)),
		logger.Int("skipped", result.Skipped),
	)

	return result, nil
}

// enqueue returns the new job id, or "" when an active job already covers the target.
func (h *InitialHandler) enqueue(ctx context.Context, websiteID string, payload domain.Payload) (string, error) {
	job, err := h.enqueuer.Enqueue(ctx, jobs.EnqueueRequest{
		WebsiteID: websiteID,
		Payload:   payload,
		Priority:  domain.PriorityManual,
	})

	var conflict *apperrors.ConflictError
	if errors.As(err, &conflict) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", payload.JobType(), err)
	}
	return job.ID, nil
}
