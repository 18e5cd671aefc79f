package jobs_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/events"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
	"github.com/jonesrussell/north-cloud/rank-tracker/testutils"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.JobEvent
}

func (p *recordingPublisher) PublishAsync(e events.JobEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

func newService(t *testing.T) (*jobs.Service, *testutils.MemStore, *testutils.FixedClock, *recordingPublisher) {
	t.Helper()
	store := testutils.NewMemStore()
	clock := testutils.NewFixedClock(baseTime)
	pub := &recordingPublisher{}
	return jobs.NewService(store, clock, nil, jobs.WithServiceEvents(pub)), store, clock, pub
}

func TestService_Enqueue_Defaults(t *testing.T) {
	svc, store, _, pub := newService(t)

	job, err := svc.Enqueue(context.Background(), jobs.EnqueueRequest{
		WebsiteID: "site-1",
		Payload:   &domain.SerpAnalysisPayload{QueryIDs: []string{"q1"}},
		Priority:  domain.PriorityManual,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobTypeSerpAnalysis, job.Type)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, domain.DefaultMaxAttempts, job.MaxAttempts)
	assert.Zero(t, job.Attempts)
	assert.Equal(t, baseTime, job.ScheduledAt)
	assert.JSONEq(t, `{"query_ids":["q1"]}`, string(job.Payload))

	stored, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
	assert.Equal(t, []events.EventType{events.JobEnqueued}, pub.types())
}

func TestService_Enqueue_Validation(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  jobs.EnqueueRequest
	}{
		{"missing website", jobs.EnqueueRequest{Payload: &domain.InitialAnalysisPayload{}}},
		{"missing payload", jobs.EnqueueRequest{WebsiteID: "site-1"}},
		{"invalid payload", jobs.EnqueueRequest{WebsiteID: "site-1", Payload: &domain.SerpAnalysisPayload{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Enqueue(ctx, tt.req)
			var vErr *apperrors.ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}

func TestService_Enqueue_DuplicateRejected(t *testing.T) {
	svc, store, _, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Enqueue(ctx, jobs.EnqueueRequest{
		WebsiteID: "site-1",
		Payload:   &domain.SerpAnalysisPayload{QueryIDs: []string{"q1", "q2"}},
	})
	require.NoError(t, err)

	_, err = svc.Enqueue(ctx, jobs.EnqueueRequest{
		WebsiteID: "site-1",
		Payload:   &domain.SerpAnalysisPayload{QueryIDs: []string{"q2", "q3"}},
	})

	var conflict *apperrors.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.JobID)
	assert.Equal(t, string(domain.JobStatusPending), conflict.Status)
	assert.Len(t, store.Jobs(), 1)
}

func TestService_Enqueue_DisjointTargetsAllowed(t *testing.T) {
	svc, store, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, jobs.EnqueueRequest{
		WebsiteID: "site-1",
		Payload:   &domain.SerpAnalysisPayload{QueryIDs: []string{"q1"}},
	})
	require.NoError(t, err)

	_, err = svc.Enqueue(ctx, jobs.EnqueueRequest{
		WebsiteID: "site-1",
		Payload:   &domain.SerpAnalysisPayload{QueryIDs: []string{"q2"}},
	})
	require.NoError(t, err)

	_, err = svc.Enqueue(ctx, jobs.EnqueueRequest{
		WebsiteID: "site-2",
		Payload:   &domain.SerpAnalysisPayload{QueryIDs: []string{"q1"}},
	})
	require.NoError(t, err)

	assert.Len(t, store.Jobs(), 3)
}

func TestService_Enqueue_TerminalJobsDoNotBlock(t *testing.T) {
	svc, store, _, _ := newService(t)
	store.PutJob(&domain.Job{
		ID:        "done",
		WebsiteID: "site-1",
		Type:      domain.JobTypeInitialAnalysis,
		Payload:   domain.JSONB(`{}`),
		Status:    domain.JobStatusCompleted,
	})

	_, err := svc.Enqueue(context.Background(), jobs.EnqueueRequest{
		WebsiteID: "site-1",
		Payload:   &domain.InitialAnalysisPayload{},
	})
	require.NoError(t, err)
}

func TestService_Enqueue_ForceCancelsOverlapping(t *testing.T) {
	svc, store, _, pub := newService(t)
	ctx := context.Background()

	first, err := svc.Enqueue(ctx, jobs.EnqueueRequest{
		WebsiteID: "site-1",
		Payload:   &domain.SerpAnalysisPayload{QueryIDs: []string{"q1"}},
	})
	require.NoError(t, err)

	second, err := svc.Enqueue(ctx, jobs.EnqueueRequest{
		WebsiteID: "site-1",
		Payload:   &domain.SerpAnalysisPayload{QueryIDs: []string{"q1"}},
		Force:     true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	old, err := store.GetJob(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, old.Status)
	require.NotNil(t, old.Error)
	assert.Equal(t, "cancelled: superseded by forced job "+second.ID, *old.Error)
	assert.NotNil(t, old.CompletedAt)

	assert.Equal(t, []events.EventType{events.JobEnqueued, events.JobCancelled, events.JobEnqueued}, pub.types())
}

func TestService_Enqueue_CancelFailureAborts(t *testing.T) {
	svc, store, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, jobs.EnqueueRequest{WebsiteID: "site-1", Payload: &domain.InitialAnalysisPayload{}})
	require.NoError(t, err)

	store.CancelErr = errors.New("db down")
	_, err = svc.Enqueue(ctx, jobs.EnqueueRequest{WebsiteID: "site-1", Payload: &domain.InitialAnalysisPayload{}, Force: true})
	require.Error(t, err)
	assert.Len(t, store.Jobs(), 1)
}

func TestService_Enqueue_ConcurrentDuplicates(t *testing.T) {
	svc, store, _, _ := newService(t)
	ctx := context.Background()

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Enqueue(ctx, jobs.EnqueueRequest{WebsiteID: "site-1", Payload: &domain.InitialAnalysisPayload{}})
			mu.Lock()
			defer mu.Unlock()
			var conflict *apperrors.ConflictError
			if errors.As(err, &conflict) {
				conflicts++
			} else if err == nil {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, callers-1, conflicts)
	assert.Len(t, store.Jobs(), 1)
}

func TestService_Cancel(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, jobs.EnqueueRequest{WebsiteID: "site-1", Payload: &domain.InitialAnalysisPayload{}})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, job.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Error)
	assert.Equal(t, "cancelled by user", *cancelled.Error)

	_, err = svc.Cancel(ctx, job.ID, "")
	var stateErr *apperrors.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "cancelled", stateErr.Status)
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatus(err))

	_, err = svc.Cancel(ctx, "missing", "")
	var nf *apperrors.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestService_Cancel_JobFinishesFirst(t *testing.T) {
	svc, store, clock, pub := newService(t)
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, jobs.EnqueueRequest{WebsiteID: "site-1", Payload: &domain.InitialAnalysisPayload{}})
	require.NoError(t, err)
	_, err = store.MarkRunning(ctx, job.ID, clock.Now())
	require.NoError(t, err)

	store.BeforeCancel = func(id string) {
		require.NoError(t, store.MarkCompleted(context.Background(), id, nil, clock.Now()))
	}

	_, err = svc.Cancel(ctx, job.ID, "too late")
	var stateErr *apperrors.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "completed", stateErr.Status)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.NotContains(t, pub.types(), events.JobCancelled)
}

func TestService_List(t *testing.T) {
	svc, _, clock, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, jobs.EnqueueRequest{WebsiteID: "site-1", Payload: &domain.InitialAnalysisPayload{}})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = svc.Enqueue(ctx, jobs.EnqueueRequest{WebsiteID: "site-2", Payload: &domain.InitialAnalysisPayload{}})
	require.NoError(t, err)

	list, err := svc.List(ctx, domain.JobFilter{WebsiteID: "site-2"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "site-2", list[0].WebsiteID)
}
