package handlers_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/ai"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/handlers"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/sitemap"
	"github.com/jonesrussell/north-cloud/rank-tracker/testutils"
	"github.com/jonesrussell/north-cloud/rank-tracker/testutils/mocks"
)

type fakeSitemapFetcher struct {
	fetchFunc func(ctx context.Context, sourceURL string) (*sitemap.FetchResult, error)
}

func (f *fakeSitemapFetcher) Fetch(ctx context.Context, sourceURL string) (*sitemap.FetchResult, error) {
	return f.fetchFunc(ctx, sourceURL)
}

func staticSitemap(urls ...string) *fakeSitemapFetcher {
	return &fakeSitemapFetcher{fetchFunc: func(_ context.Context, sourceURL string) (*sitemap.FetchResult, error) {
		return &sitemap.FetchResult{
			SourceURL: sourceURL,
			URLs:      urls,
			Documents: []sitemap.Document{{URL: sourceURL, Body: []byte("<urlset/>")}},
		}, nil
	}}
}

func TestSitemapHandler_FirstSnapshot(t *testing.T) {
	store := testutils.NewMemStore()
	seedWebsite(store)

	var fetched string
	fetcher := staticSitemap("https://example.com/a", "https://example.com/b")
	inner := fetcher.fetchFunc
	fetcher.fetchFunc = func(ctx context.Context, u string) (*sitemap.FetchResult, error) {
		fetched = u
		return inner(ctx, u)
	}

	h := handlers.NewSitemapHandler(store, fetcher, nil, testutils.NewFixedClock(observedAt), nil)
	out, err := h.Handle(context.Background(), newTask(domain.JobTypeSitemapFetch, "site-1", &domain.SitemapFetchPayload{}, alwaysRunning))
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/sitemap.xml", fetched)
	result := out.(*handlers.SitemapFetchResult)
	assert.Empty(t, result.PreviousSnapshotID)
	assert.Equal(t, 2, result.URLCount)
	assert.Equal(t, sitemap.Summary{Added: 2}, result.Diff)

	snaps := store.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, observedAt, snaps[0].FetchedAt)
	assert.Nil(t, snaps[0].BlobRef)
}

func TestSitemapHandler_DiffsAgainstPrevious(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := testutils.NewMemStore()
	seedWebsite(store)
	store.AddSnapshot(&domain.SitemapSnapshot{
		ID:        "snap-old",
		WebsiteID: "site-1",
		URLs:      []string{"https://example.com/a", "https://example.com/gone"},
	})

	blobs := mocks.NewMockBlobStore(ctrl)
	blobs.EXPECT().
		Store(gomock.Any(), gomock.Any(), []byte("<urlset/>")).
		DoAndReturn(func(_ context.Context, key string, _ []byte) (string, error) {
			assert.True(t, strings.HasPrefix(key, "sitemap/site-1/2026/03/01/"))
			assert.True(t, strings.HasSuffix(key, ".xml"))
			return "minio://archive/" + key, nil
		})

	h := handlers.NewSitemapHandler(store, staticSitemap("https://example.com/a", "https://example.com/new"), blobs, testutils.NewFixedClock(observedAt), nil)
	out, err := h.Handle(context.Background(), newTask(domain.JobTypeSitemapFetch, "site-1",
		&domain.SitemapFetchPayload{SitemapURL: "https://example.com/other.xml"}, alwaysRunning))
	require.NoError(t, err)

	result := out.(*handlers.SitemapFetchResult)
	assert.Equal(t, "snap-old", result.PreviousSnapshotID)
	assert.Equal(t, "https://example.com/other.xml", result.SourceURL)
	assert.Equal(t, sitemap.Summary{Added: 1, Removed: 1, Unchanged: 1}, result.Diff)

	snaps := store.Snapshots()
	require.Len(t, snaps, 2)
	require.NotNil(t, snaps[1].BlobRef)
}

func TestSitemapHandler_NoSitemapConfigured(t *testing.T) {
	store := testutils.NewMemStore()
	store.PutWebsite(&domain.Website{ID: "site-2", Domain: "nositemap.com", Active: true})

	h := handlers.NewSitemapHandler(store, staticSitemap(), nil, nil, nil)
	_, err := h.Handle(context.Background(), newTask(domain.JobTypeSitemapFetch, "site-2", &domain.SitemapFetchPayload{}, alwaysRunning))

	var vErr *apperrors.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestSitemapHandler_CancelledBeforePersist(t *testing.T) {
	store := testutils.NewMemStore()
	seedWebsite(store)

	h := handlers.NewSitemapHandler(store, staticSitemap("https://example.com/a"), nil, nil, nil)
	_, err := h.Handle(context.Background(), newTask(domain.JobTypeSitemapFetch, "site-1", &domain.SitemapFetchPayload{},
		func(context.Context) (bool, error) { return false, nil }))

	require.Error(t, err)
	assert.Empty(t, store.Snapshots())
}

func intPtr(i int) *int { return &i }

func TestReportHandler_ScoresCompetitors(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := testutils.NewMemStore()
	seedWebsite(store)
	store.AddCompetitor(&domain.Competitor{ID: "c-other", WebsiteID: "site-1", Domain: "other.com"})

	// self: red #3, blue #5; rival: red #1, blue unranked
	store.AddSample(&domain.PositionSample{WebsiteID: "site-1", OwnerKey: domain.OwnerSelf, Query: "red shoes", Position: intPtr(3), ObservedAt: observedAt})
	store.AddSample(&domain.PositionSample{WebsiteID: "site-1", OwnerKey: domain.OwnerSelf, Query: "blue shoes", Position: intPtr(5), ObservedAt: observedAt})
	store.AddSample(&domain.PositionSample{WebsiteID: "site-1", OwnerKey: domain.CompetitorOwnerKey("c-rival"), Query: "red shoes", Position: intPtr(1), ObservedAt: observedAt})
	store.AddSample(&domain.PositionSample{WebsiteID: "site-1", OwnerKey: domain.CompetitorOwnerKey("c-rival"), Query: "blue shoes", ObservedAt: observedAt})

	store.AddSnapshot(&domain.SitemapSnapshot{ID: "s1", WebsiteID: "site-1", URLs: []string{"a", "b"}})
	store.AddSnapshot(&domain.SitemapSnapshot{ID: "s2", WebsiteID: "site-1", URLs: []string{"b", "c", "d"}})

	gen := mocks.NewMockReportGenerator(ctrl)
	gen.EXPECT().
		Generate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in ai.ReportInput) (*ai.Report, error) {
			assert.Equal(t, "example.com", in.WebsiteDomain)
			require.Len(t, in.Competitors, 1)
			assert.Equal(t, "rival.com", in.Competitors[0].Domain)
			assert.Equal(t, 1, in.Competitors[0].Score.Better)
			assert.Equal(t, 1, in.Competitors[0].Score.Worse)
			assert.Equal(t, 2, in.Competitors[0].Score.Total)
			assert.Equal(t, 0, in.Competitors[0].Score.NetScore)
			require.NotNil(t, in.SitemapDiff)
			assert.Equal(t, 2, in.SitemapDiff.Added)
			assert.Equal(t, 1, in.SitemapDiff.Removed)
			return &ai.Report{Content: "report body", Model: "gpt-test", TotalTokens: 42}, nil
		})

	h := handlers.NewReportHandler(store, gen, testutils.NewFixedClock(observedAt), nil)
	out, err := h.Handle(context.Background(), newTask(domain.JobTypeAIReport, "site-1",
		&domain.AIReportPayload{CompetitorIDs: []string{"c-rival"}}, alwaysRunning))
	require.NoError(t, err)

	result := out.(*handlers.ReportResult)
	assert.Equal(t, "gpt-test", result.Model)
	assert.Equal(t, 1, result.Competitors)

	reports := store.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, "report body", reports[0].Content)
	assert.Equal(t, "job-1", reports[0].JobID)
}

func TestReportHandler_UnknownCompetitor(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := testutils.NewMemStore()
	seedWebsite(store)

	h := handlers.NewReportHandler(store, mocks.NewMockReportGenerator(ctrl), nil, nil)
	_, err := h.Handle(context.Background(), newTask(domain.JobTypeAIReport, "site-1",
		&domain.AIReportPayload{CompetitorIDs: []string{"c-missing"}}, alwaysRunning))

	var nf *apperrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "c-missing", nf.ID)
}

func TestReportHandler_GeneratorFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := testutils.NewMemStore()
	seedWebsite(store)

	gen := mocks.NewMockReportGenerator(ctrl)
	gen.EXPECT().Generate(gomock.Any(), gomock.Any()).Return(nil, apperrors.NewExternal("ai_report", errors.New("rate limited")))

	h := handlers.NewReportHandler(store, gen, nil, nil)
	_, err := h.Handle(context.Background(), newTask(domain.JobTypeAIReport, "site-1", &domain.AIReportPayload{}, alwaysRunning))

	var ext *apperrors.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Empty(t, store.Reports())
}

func TestReportHandler_DefaultsToTemplate(t *testing.T) {
	store := testutils.NewMemStore()
	seedWebsite(store)

	h := handlers.NewReportHandler(store, nil, nil, nil)
	out, err := h.Handle(context.Background(), newTask(domain.JobTypeAIReport, "site-1", &domain.AIReportPayload{}, alwaysRunning))
	require.NoError(t, err)
	assert.Equal(t, "template", out.(*handlers.ReportResult).Model)
	assert.Len(t, store.Reports(), 1)
}

func TestInitialHandler_FansOut(t *testing.T) {
	store := testutils.NewMemStore()
	seedWebsite(store)
	svc := jobs.NewService(store, testutils.NewFixedClock(observedAt), nil)

	// an active SERP job for q2 already exists
	_, err := svc.Enqueue(context.Background(), jobs.EnqueueRequest{
		WebsiteID: "site-1",
		Payload:   &domain.SerpAnalysisPayload{QueryIDs: []string{"q2"}},
	})
	require.NoError(t, err)

	h := handlers.NewInitialHandler(store, svc, nil)
	out, err := h.Handle(context.Background(), newTask(domain.JobTypeInitialAnalysis, "site-1", &domain.InitialAnalysisPayload{}, alwaysRunning))
	require.NoError(t, err)

	result := out.(*handlers.InitialAnalysisResult)
	assert.NotEmpty(t, result.SitemapJobID)
	assert.Len(t, result.SerpJobIDs, 1)
	assert.Equal(t, 1, result.Skipped)

	sitemapJob, err := store.GetJob(context.Background(), result.SitemapJobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobTypeSitemapFetch, sitemapJob.Type)
	assert.Equal(t, domain.PriorityManual, sitemapJob.Priority)
}

func TestInitialHandler_NoSitemap(t *testing.T) {
	store := testutils.NewMemStore()
	store.PutWebsite(&domain.Website{ID: "site-2", Domain: "nositemap.com", Active: true})
	svc := jobs.NewService(store, nil, nil)

	h := handlers.NewInitialHandler(store, svc, nil)
	out, err := h.Handle(context.Background(), newTask(domain.JobTypeInitialAnalysis, "site-2", &domain.InitialAnalysisPayload{}, alwaysRunning))
	require.NoError(t, err)

	result := out.(*handlers.InitialAnalysisResult)
	assert.Empty(t, result.SitemapJobID)
	assert.Empty(t, result.SerpJobIDs)
	assert.Empty(t, store.Jobs())
}

type fakePageFetcher struct {
	html []byte
	err  error
}

func (f *fakePageFetcher) FetchPage(context.Context, string) ([]byte, error) {
	return f.html, f.err
}

func (f *fakePageFetcher) Extract(_ []byte, pageURL string) (*domain.PageExtraction, error) {
	return &domain.PageExtraction{URL: pageURL, Title: "Red Shoes"}, nil
}

func TestPageHandler_ExtractsAndArchives(t *testing.T) {
	ctrl := gomock.NewController(t)
	blobs := mocks.NewMockBlobStore(ctrl)
	blobs.EXPECT().Store(gomock.Any(), gomock.Any(), []byte("<html></html>")).Return("minio://archive/page.html", nil)

	h := handlers.NewPageHandler(&fakePageFetcher{html: []byte("<html></html>")}, blobs, nil, nil)
	out, err := h.Handle(context.Background(), newTask(domain.JobTypePageExtraction, "site-1",
		&domain.PageExtractionPayload{URL: "https://example.com/red"}, alwaysRunning))
	require.NoError(t, err)

	extraction := out.(*domain.PageExtraction)
	assert.Equal(t, "Red Shoes", extraction.Title)
	assert.Equal(t, "minio://archive/page.html", extraction.BlobRef)
}

func TestPageHandler_FetchFailure(t *testing.T) {
	fetchErr := apperrors.NewExternal("page_fetch", errors.New("503"))
	h := handlers.NewPageHandler(&fakePageFetcher{err: fetchErr}, nil, nil, nil)
	_, err := h.Handle(context.Background(), newTask(domain.JobTypePageExtraction, "site-1",
		&domain.PageExtractionPayload{URL: "https://example.com/red"}, alwaysRunning))
	require.ErrorIs(t, err, fetchErr)
}

func TestRegister_BindsEveryJobType(t *testing.T) {
	exec := jobs.NewExecutor(nil, nil)
	handlers.Register(exec, handlers.Deps{Store: testutils.NewMemStore()})
	for _, jt := range domain.JobTypes {
		assert.True(t, exec.Has(jt), string(jt))
	}
}
