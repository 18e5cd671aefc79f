package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
	"github.com/jonesrussell/north-cloud/rank-tracker/testutils"
)

func newPlannerFixture(t *testing.T) (*jobs.Planner, *testutils.MemStore, *testutils.FixedClock) {
	t.Helper()
	store := testutils.NewMemStore()
	clock := testutils.NewFixedClock(baseTime)
	svc := jobs.NewService(store, clock, nil)
	return jobs.NewPlanner(store, svc, clock, jobs.PlannerConfig{}, nil), store, clock
}

func jobsOfType(all []*domain.Job, t domain.JobType) []*domain.Job {
	var out []*domain.Job
	for _, j := range all {
		if j.Type == t {
			out = append(out, j)
		}
	}
	return out
}

func TestPlanner_EnqueuesSerpPerQueryAndReport(t *testing.T) {
	planner, store, _ := newPlannerFixture(t)
	store.PutWebsite(&domain.Website{ID: "site-1", Domain: "example.com", Active: true})
	store.PutWebsite(&domain.Website{ID: "site-off", Domain: "off.com", Active: false})
	store.PutQuery(&domain.TrackedQuery{ID: "q1", WebsiteID: "site-1", Query: "red shoes", Active: true})
	store.PutQuery(&domain.TrackedQuery{ID: "q2", WebsiteID: "site-1", Query: "blue shoes", Active: true})
	store.PutQuery(&domain.TrackedQuery{ID: "q3", WebsiteID: "site-1", Query: "old", Active: false})

	summary, err := planner.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.PlanSummary{Websites: 1, SerpJobs: 2, ReportJobs: 1}, summary)

	all := store.Jobs()
	serpJobs := jobsOfType(all, domain.JobTypeSerpAnalysis)
	require.Len(t, serpJobs, 2)
	for _, j := range serpJobs {
		assert.Equal(t, domain.PrioritySerpPeriodic, j.Priority)
		assert.Equal(t, "site-1", j.WebsiteID)
	}
	reports := jobsOfType(all, domain.JobTypeAIReport)
	require.Len(t, reports, 1)
	assert.Equal(t, domain.PriorityReport, reports[0].Priority)
}

func TestPlanner_SecondPassSkipsActiveJobs(t *testing.T) {
	planner, store, _ := newPlannerFixture(t)
	store.PutWebsite(&domain.Website{ID: "site-1", Domain: "example.com", Active: true})
	store.PutQuery(&domain.TrackedQuery{ID: "q1", WebsiteID: "site-1", Query: "red shoes", Active: true})

	_, err := planner.Plan(context.Background())
	require.NoError(t, err)

	summary, err := planner.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.PlanSummary{Websites: 1, SkippedActive: 2}, summary)
	assert.Len(t, store.Jobs(), 2)
}

func TestPlanner_RespectsCadence(t *testing.T) {
	planner, store, clock := newPlannerFixture(t)
	store.PutWebsite(&domain.Website{
		ID:              "site-1",
		Domain:          "example.com",
		Active:          true,
		SerpFrequency:   12 * time.Hour,
		ReportFrequency: 0, // falls back to the planner default
	})
	store.PutQuery(&domain.TrackedQuery{ID: "q1", WebsiteID: "site-1", Query: "red shoes", Active: true})

	serpDone := baseTime.Add(-6 * time.Hour)
	reportDone := baseTime.Add(-8 * 24 * time.Hour)
	store.PutJob(&domain.Job{ID: "s", WebsiteID: "site-1", Type: domain.JobTypeSerpAnalysis, Status: domain.JobStatusCompleted, CompletedAt: &serpDone})
	store.PutJob(&domain.Job{ID: "r", WebsiteID: "site-1", Type: domain.JobTypeAIReport, Status: domain.JobStatusCompleted, CompletedAt: &reportDone})

	summary, err := planner.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.SerpJobs)
	assert.Equal(t, 1, summary.ReportJobs)

	clock.Advance(7 * time.Hour)
	summary, err = planner.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SerpJobs)
}

func TestPlanner_NoWebsites(t *testing.T) {
	planner, _, _ := newPlannerFixture(t)
	summary, err := planner.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.PlanSummary{}, summary)
}
