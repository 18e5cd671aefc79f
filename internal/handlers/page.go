package handlers

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/archive"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
)

// PageHandler fetches a product page and extracts its on-page signals.
type PageHandler struct {
	pages PageFetcher
	blobs BlobStore
	clock jobs.Clock
	log   logger.Logger
}

// NewPageHandler creates a page extraction handler.
func NewPageHandler(pages PageFetcher, blobs BlobStore, clock jobs.Clock, log logger.Logger) *PageHandler {
	if blobs == nil {
		blobs = archive.NopStore{}
	}
	return &PageHandler{pages: pages, blobs: blobs, clock: orSystem(clock), log: orNop(log)}
}

func (h *PageHandler) Handle(ctx context.Context, task jobs.Task) (any, error) {
	payload, ok := task.Payload.(*domain.PageExtractionPayload)
	if !ok {
		return nil, apperrors.NewValidation("payload", "expected page_extraction payload, got %T", task.Payload)
	}

	html, err := h.pages.FetchPage(ctx, payload.URL)
	if err != nil {
		return nil, err
	}

	extraction, err := h.pages.Extract(html, payload.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract page: %w", err)
	}

	ref, err := h.blobs.Store(ctx, archive.ObjectKey("page", task.WebsiteID, payload.URL, h.clock.Now(), ".html"), html)
	if err != nil {
		h.log.Warn("Failed to archive page",
			logger.String("job_id", task.JobID),
			logger.String("url", payload.URL),
			logger.Error(err),
		)
	}
	extraction.BlobRef = ref

	if err = ensureRunning(ctx, task); err != nil {
		return nil, err
	}

	return extraction, nil
}
