package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/archive"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/sitemap"
)

// SitemapFetchResult is stored as the job result.
type SitemapFetchResult struct {
	SnapshotID         string          `json:"snapshot_id"`
	PreviousSnapshotID string          `json:"previous_snapshot_id,omitempty"`
	SourceURL          string          `json:"source_url"`
	URLCount           int             `json:"url_count"`
	Diff               sitemap.Summary `json:"diff"`
}

// SitemapHandler captures sitemap snapshots and diffs them against the previous one.
type SitemapHandler struct {
	store   SitemapStore
	fetcher SitemapFetcher
	blobs   BlobStore
	clock   jobs.Clock
	log     logger.Logger
}

// NewSitemapHandler creates a sitemap fetch handler.
func NewSitemapHandler(store SitemapStore, fetcher SitemapFetcher, blobs BlobStore, clock jobs.Clock, log logger.Logger) *SitemapHandler {
	if blobs == nil {
		blobs = archive.NopStore{}
	}
	return &SitemapHandler{store: store, fetcher: fetcher, blobs: blobs, clock: orSystem(clock), log: orNop(log)}
}

func (h *SitemapHandler) Handle(ctx context.Context, task jobs.Task) (any, error) {
	payload, ok := task.Payload.(*domain.SitemapFetchPayload)
	if !ok {
		return nil, apperrors.NewValidation("payload", "expected sitemap_fetch payload, got %T", task.Payload)
	}

	website, err := h.store.GetWebsite(ctx, task.WebsiteID)
	if err != nil {
		return nil, err
	}

	sourceURL := payload.SitemapURL
	if sourceURL == "" && website.SitemapURL != nil {
		sourceURL = *website.SitemapURL
	}
	if sourceURL == "" {
		return nil, apperrors.NewValidation("sitemap_url", "website %s has no sitemap configured", website.ID)
	}

	fetched, err := h.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	now := h.clock.Now()
	snapshot := &domain.SitemapSnapshot{
		ID:        uuid.NewString(),
		WebsiteID: website.ID,
		SourceURL: sourceURL,
		FetchedAt: now,
		URLs:      fetched.URLs,
	}

	for i, doc := range fetched.Documents {
		ref, storeErr := h.blobs.Store(ctx, archive.ObjectKey("sitemap", website.ID, doc.URL, now, ".xml"), doc.Body)
		if storeErr != nil {
			h.log.Warn("Failed to archive sitemap document",
				logger.String("job_id", task.JobID),
				logger.String("url", doc.URL),
				logger.Error(storeErr),
			)
			continue
		}
		if i == 0 {
			snapshot.BlobRef = strPtr(ref)
		}
	}

	previous, err := h.store.LatestSnapshots(ctx, website.ID, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous snapshot: %w", err)
	}

	if err = ensureRunning(ctx, task); err != nil {
		return nil, err
	}

	if err = h.store.CreateSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to store sitemap snapshot: %w", err)
	}

	result := &SitemapFetchResult{
		SnapshotID: snapshot.ID,
		SourceURL:  sourceURL,
		URLCount:   len(snapshot.URLs),
	}

	var previousURLs []string
	if len(previous) > 0 {
		result.PreviousSnapshotID = previous[0].ID
		previousURLs = previous[0].URLs
	}
	result.Diff = sitemap.Compare(snapshot.URLs, previousURLs).Summary()

	h.log.Info("Sitemap snapshot stored",
		logger.String("job_id", task.JobID),
		logger.String("website_id", website.ID),
		logger.Int("urls", result.URLCount),
		logger.Int("added", result.Diff.Added),
		logger.Int("removed", result.Diff.Removed),
	)

	return result, nil
}
