// Package handlers implements the per-type job handlers registered with the executor.
package handlers

//go:generate mockgen -destination=../../testutils/mocks/mock_handlers.go -package=mocks github.com/jonesrussell/north-cloud/rank-tracker/internal/handlers SerpFetcher,BlobStore,ReportGenerator

import (
	"context"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/ai"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/sitemap"
)

// SerpFetcher returns the ranked results for a query.
type SerpFetcher interface {
	Search(ctx context.Context, req domain.SerpRequest) ([]domain.SerpEntry, error)
}

// BlobStore archives raw payloads and returns a reference.
type BlobStore interface {
	Store(ctx context.Context, key string, data []byte) (string, error)
}

// ReportGenerator produces report text.
type ReportGenerator interface {
	Generate(ctx context.Context, in ai.ReportInput) (*ai.Report, error)
}

// SitemapFetcher downloads a sitemap and its children.
type SitemapFetcher interface {
	Fetch(ctx context.Context, sourceURL string) (*sitemap.FetchResult, error)
}

// PageFetcher downloads and extracts product pages.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) ([]byte, error)
	Extract(html []byte, pageURL string) (*domain.PageExtraction, error)
}

// WebsiteReader loads websites.
type WebsiteReader interface {
	GetWebsite(ctx context.Context, id string) (*domain.Website, error)
}

// CompetitorStore reads and creates competitors.
type CompetitorStore interface {
	ListCompetitors(ctx context.Context, websiteID string) ([]*domain.Competitor, error)
	// CreateCompetitor inserts c unless the website already has a competitor with that domain.
	// It reports whether a row was created.
	CreateCompetitor(ctx context.Context, c *domain.Competitor) (bool, error)
}

// SerpStore is what the SERP handler persists to.
type SerpStore interface {
	WebsiteReader
	CompetitorStore
	GetQueries(ctx context.Context, websiteID string, ids []string) ([]*domain.TrackedQuery, error)
	InsertSample(ctx context.Context, s *domain.PositionSample) error
}

// SitemapStore reads and writes sitemap snapshots.
type SitemapStore interface {
	WebsiteReader
	// LatestSnapshots returns up to limit snapshots for the website, newest first.
	LatestSnapshots(ctx context.Context, websiteID string, limit int) ([]*domain.SitemapSnapshot, error)
	CreateSnapshot(ctx context.Context, s *domain.SitemapSnapshot) error
}

// ReportStore is what the report handler reads and writes.
type ReportStore interface {
	WebsiteReader
	ListCompetitors(ctx context.Context, websiteID string) ([]*domain.Competitor, error)
	ListSamples(ctx context.Context, websiteID string) ([]*domain.PositionSample, error)
	LatestSnapshots(ctx context.Context, websiteID string, limit int) ([]*domain.SitemapSnapshot, error)
	CreateReport(ctx context.Context, r *domain.AIReport) error
}

// InitialStore is what the initial-analysis handler reads.
type InitialStore interface {
	WebsiteReader
	ListActiveQueries(ctx context.Context, websiteID string) ([]*domain.TrackedQuery, error)
}

// Store is the union of every handler store.
type Store interface {
	SerpStore
	SitemapStore
	ReportStore
	InitialStore
}

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Store     Store
	Serp      SerpFetcher
	Blobs     BlobStore
	Sitemaps  SitemapFetcher
	Pages     PageFetcher
	Generator ReportGenerator
	Enqueuer  jobs.Enqueuer
	Clock     jobs.Clock
	Logger    logger.Logger
	SerpCfg   SerpConfig
}

// Register binds a handler for every job type to exec.
func Register(exec *jobs.Executor, deps Deps) {
	exec.Register(domain.JobTypeSerpAnalysis, NewSerpHandler(deps.Store, deps.Serp, deps.Blobs, deps.Clock, deps.SerpCfg, deps.Logger).Handle)
	exec.Register(domain.JobTypeSitemapFetch, NewSitemapHandler(deps.Store, deps.Sitemaps, deps.Blobs, deps.Clock, deps.Logger).Handle)
	exec.Register(domain.JobTypePageExtraction, NewPageHandler(deps.Pages, deps.Blobs, deps.Clock, deps.Logger).Handle)
	exec.Register(domain.JobTypeAIReport, NewReportHandler(deps.Store, deps.Generator, deps.Clock, deps.Logger).Handle)
	exec.Register(domain.JobTypeInitialAnalysis, NewInitialHandler(deps.Store, deps.Enqueuer, deps.Logger).Handle)
}

func orNop(log logger.Logger) logger.Logger {
	if log == nil {
		return logger.NewNop()
	}
	return log
}

func orSystem(clock jobs.Clock) jobs.Clock {
	if clock == nil {
		return jobs.SystemClock{}
	}
	return clock
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
