package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/ai"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/scoring"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/sitemap"
)

// ReportResult is stored as the job result.
type ReportResult struct {
	ReportID    string `json:"report_id"`
	Model       string `json:"model"`
	Competitors int    `json:"competitors"`
}

// ReportHandler scores the website against its competitors and stores a generated report.
type ReportHandler struct {
	store     ReportStore
	generator ReportGenerator
	clock     jobs.Clock
	log       logger.Logger
}

// NewReportHandler creates an AI report handler. A nil generator uses ai.TemplateGenerator.
func NewReportHandler(store ReportStore, generator ReportGenerator, clock jobs.Clock, log logger.Logger) *ReportHandler {
	if generator == nil {
		generator = ai.TemplateGenerator{}
	}
	return &ReportHandler{store: store, generator: generator, clock: orSystem(clock), log: orNop(log)}
}

func (h *ReportHandler) Handle(ctx context.Context, task jobs.Task) (any, error) {
	payload, ok := task.Payload.(*domain.AIReportPayload)
	if !ok {
		return nil, apperrors.NewValidation("payload", "expected ai_report payload, got %T", task.Payload)
	}

	website, err := h.store.GetWebsite(ctx, task.WebsiteID)
	if err != nil {
		return nil, err
	}

	competitors, err := h.selectCompetitors(ctx, website.ID, payload.CompetitorIDs)
	if err != nil {
		return nil, err
	}

	samples, err := h.store.ListSamples(ctx, website.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load position samples: %w", err)
	}

	in := ai.ReportInput{
		WebsiteDomain: website.Domain,
		Positions:     scoring.LatestPositions(samples, domain.OwnerSelf),
		Competitors:   make([]ai.CompetitorSummary, 0, len(competitors)),
	}
	for _, c := range competitors {
		in.Competitors = append(in.Competitors, ai.CompetitorSummary{
			Domain: c.Domain,
			Name:   c.Name,
			Score:  scoring.CompareLatest(samples, c.ID),
		})
	}

	snapshots, err := h.store.LatestSnapshots(ctx, website.ID, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to load sitemap snapshots: %w", err)
	}
	if len(snapshots) == 2 {
		summary := sitemap.Compare(snapshots[0].URLs, snapshots[1].URLs).Summary()
		in.SitemapDiff = &summary
	}

	report, err := h.generator.Generate(ctx, in)
	if err != nil {
		return nil, err
	}

	if err = ensureRunning(ctx, task); err != nil {
		return nil, err
	}

	row := &domain.AIReport{
		ID:        uuid.NewString(),
		WebsiteID: website.ID,
		JobID:     task.JobID,
		Model:     report.Model,
		Content:   report.Content,
		CreatedAt: h.clock.Now(),
	}
	if err = h.store.CreateReport(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to store report: %w", err)
	}

	h.log.Info("Report generated",
		logger.String("job_id", task.JobID),
		logger.String("website_id", website.ID),
		logger.String("report_id", row.ID),
		logger.String("model", row.Model),
		logger.Int64("total_tokens", report.TotalTokens),
	)

	return &ReportResult{ReportID: row.ID, Model: row.Model, Competitors: len(competitors)}, nil
}

// selectCompetitors returns all competitors, or only those in ids when ids is not empty.
func (h *ReportHandler) selectCompetitors(ctx context.Context, websiteID string, ids []string) ([]*domain.Competitor, error) {
	all, err := h.store.ListCompetitors(ctx, websiteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load competitors: %w", err)
	}
	if len(ids) == 0 {
		return all, nil
	}

	byID := make(map[string]*domain.Competitor, len(all))
	for _, c := range all {
		byID[c.ID] = c
	}

	selected := make([]*domain.Competitor, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return nil, &apperrors.NotFoundError{Entity: "competitor", ID: id}
		}
		selected = append(selected, c)
	}
	return selected, nil
}
