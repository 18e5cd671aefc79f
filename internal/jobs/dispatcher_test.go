package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/events"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/metrics"
	"github.com/jonesrussell/north-cloud/rank-tracker/testutils"
)

func pendingJob(id string, priority int, scheduledAt time.Time) *domain.Job {
	return &domain.Job{
		ID:          id,
		WebsiteID:   "site-1",
		Type:        domain.JobTypeInitialAnalysis,
		Payload:     domain.JSONB(`{}`),
		Status:      domain.JobStatusPending,
		Priority:    priority,
		MaxAttempts: domain.DefaultMaxAttempts,
		ScheduledAt: scheduledAt,
		CreatedAt:   scheduledAt,
	}
}

type dispatcherFixture struct {
	store *testutils.MemStore
	clock *testutils.FixedClock
	exec  *jobs.Executor
	pub   *recordingPublisher
}

func newDispatcherFixture() *dispatcherFixture {
	store := testutils.NewMemStore()
	return &dispatcherFixture{
		store: store,
		clock: testutils.NewFixedClock(baseTime),
		exec:  jobs.NewExecutor(store, nil),
		pub:   &recordingPublisher{},
	}
}

func (f *dispatcherFixture) dispatcher(cfg jobs.DispatcherConfig, opts ...jobs.DispatcherOption) *jobs.Dispatcher {
	opts = append(opts, jobs.WithDispatcherEvents(f.pub))
	return jobs.NewDispatcher(f.store, f.exec, f.clock, cfg, nil, opts...)
}

func (f *dispatcherFixture) job(t *testing.T, id string) *domain.Job {
	t.Helper()
	job, err := f.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestDispatcher_PicksByPriorityThenSchedule(t *testing.T) {
	f := newDispatcherFixture()
	f.store.PutJob(pendingJob("low-old", 2, baseTime.Add(-3*time.Hour)))
	f.store.PutJob(pendingJob("high-new", 8, baseTime.Add(-time.Minute)))
	f.store.PutJob(pendingJob("high-old", 8, baseTime.Add(-time.Hour)))
	f.store.PutJob(pendingJob("mid", 3, baseTime.Add(-2*time.Hour)))
	f.store.PutJob(pendingJob("future", 9, baseTime.Add(time.Hour)))

	var order []string
	f.exec.Register(domain.JobTypeInitialAnalysis, func(_ context.Context, task jobs.Task) (any, error) {
		order = append(order, task.JobID)
		return nil, nil
	})

	summary, err := f.dispatcher(jobs.DispatcherConfig{BatchSize: 3}).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"high-old", "high-new", "mid"}, order)
	assert.Equal(t, jobs.Summary{Processed: 3, Succeeded: 3}, summary)
	assert.Equal(t, domain.JobStatusPending, f.job(t, "low-old").Status)
	assert.Equal(t, domain.JobStatusPending, f.job(t, "future").Status)
}

func TestDispatcher_NoDueJobs(t *testing.T) {
	f := newDispatcherFixture()
	summary, err := f.dispatcher(jobs.DispatcherConfig{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.Summary{}, summary)
}

func TestDispatcher_Success(t *testing.T) {
	f := newDispatcherFixture()
	f.store.PutJob(pendingJob("j1", 5, baseTime))
	f.exec.Register(domain.JobTypeInitialAnalysis, func(context.Context, jobs.Task) (any, error) {
		return map[string]string{"status": "ok"}, nil
	})

	summary, err := f.dispatcher(jobs.DispatcherConfig{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.Summary{Processed: 1, Succeeded: 1}, summary)

	job := f.job(t, "j1")
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, baseTime, *job.CompletedAt)
	assert.JSONEq(t, `{"status":"ok"}`, string(job.Result))
	assert.Nil(t, job.Error)

	assert.Equal(t, []events.EventType{events.JobStarted, events.JobCompleted}, f.pub.types())
}

func TestDispatcher_RetryThenTerminalFailure(t *testing.T) {
	f := newDispatcherFixture()
	f.store.PutJob(pendingJob("j1", 5, baseTime))
	f.exec.Register(domain.JobTypeInitialAnalysis, func(context.Context, jobs.Task) (any, error) {
		return nil, errors.New("upstream unavailable")
	})
	d := f.dispatcher(jobs.DispatcherConfig{})
	ctx := context.Background()

	// attempt 0 fails: retry in 1 minute
	summary, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs.Summary{Processed: 1, Failed: 1}, summary)

	job := f.job(t, "j1")
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, baseTime.Add(time.Minute), job.ScheduledAt)
	assert.Nil(t, job.CompletedAt)
	require.NotNil(t, job.Error)
	assert.Equal(t, "upstream unavailable", *job.Error)

	// not yet due
	summary, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)

	// attempt 1 fails: retry in 2 minutes
	f.clock.Set(baseTime.Add(time.Minute))
	_, err = d.RunOnce(ctx)
	require.NoError(t, err)
	job = f.job(t, "j1")
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, baseTime.Add(3*time.Minute), job.ScheduledAt)

	// attempt 2 fails: terminal, scheduled_at untouched
	f.clock.Set(baseTime.Add(3 * time.Minute))
	_, err = d.RunOnce(ctx)
	require.NoError(t, err)
	job = f.job(t, "j1")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, baseTime.Add(3*time.Minute), job.ScheduledAt)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, baseTime.Add(3*time.Minute), *job.CompletedAt)

	assert.Equal(t, []events.EventType{
		events.JobStarted, events.JobRetrying,
		events.JobStarted, events.JobRetrying,
		events.JobStarted, events.JobFailed,
	}, f.pub.types())
}

func TestDispatcher_UnknownTypeGoesThroughRetry(t *testing.T) {
	f := newDispatcherFixture()
	job := pendingJob("j1", 5, baseTime)
	job.Type = "keyword_research"
	job.MaxAttempts = 1
	f.store.PutJob(job)

	summary, err := f.dispatcher(jobs.DispatcherConfig{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.Summary{Processed: 1, Failed: 1}, summary)

	stored := f.job(t, "j1")
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Contains(t, *stored.Error, "keyword_research")
}

func TestDispatcher_Timeout(t *testing.T) {
	f := newDispatcherFixture()
	f.store.PutJob(pendingJob("j1", 5, baseTime))

	release := make(chan struct{})
	defer close(release)
	f.exec.Register(domain.JobTypeInitialAnalysis, func(context.Context, jobs.Task) (any, error) {
		<-release
		return nil, nil
	})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	summary, err := f.dispatcher(jobs.DispatcherConfig{JobTimeout: 20 * time.Millisecond}, jobs.WithDispatcherMetrics(m)).
		RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.Summary{Processed: 1, Failed: 1}, summary)

	job := f.job(t, "j1")
	assert.Equal(t, domain.JobStatusPending, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "exceeded timeout")
	assert.InDelta(t, 1, testutil.ToFloat64(m.JobsExecutedTotal.WithLabelValues(string(domain.JobTypeInitialAnalysis), metrics.OutcomeTimedOut)), 0)
}

// lostRaceStore loses the claim on one job, as if another dispatcher got there first.
type lostRaceStore struct {
	*testutils.MemStore
	lost string
}

func (s *lostRaceStore) MarkRunning(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	if id == s.lost {
		return nil, jobs.ErrJobNotPending
	}
	return s.MemStore.MarkRunning(ctx, id, now)
}

func TestDispatcher_SkipsJobClaimedElsewhere(t *testing.T) {
	mem := testutils.NewMemStore()
	store := &lostRaceStore{MemStore: mem, lost: "taken"}
	mem.PutJob(pendingJob("taken", 8, baseTime))
	mem.PutJob(pendingJob("mine", 5, baseTime))

	exec := jobs.NewExecutor(store, nil)
	var ran []string
	exec.Register(domain.JobTypeInitialAnalysis, func(_ context.Context, task jobs.Task) (any, error) {
		ran = append(ran, task.JobID)
		return nil, nil
	})

	d := jobs.NewDispatcher(store, exec, testutils.NewFixedClock(baseTime), jobs.DispatcherConfig{}, nil)
	summary, err := d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"mine"}, ran)
	assert.Equal(t, jobs.Summary{Processed: 1, Succeeded: 1}, summary)
}

func TestDispatcher_CancelledWhileRunningKeepsCancellation(t *testing.T) {
	f := newDispatcherFixture()
	f.store.PutJob(pendingJob("j1", 5, baseTime))
	f.exec.Register(domain.JobTypeInitialAnalysis, func(_ context.Context, task jobs.Task) (any, error) {
		f.store.Cancel(task.JobID)
		return "late result", nil
	})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	summary, err := f.dispatcher(jobs.DispatcherConfig{}, jobs.WithDispatcherMetrics(m)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.Summary{Discarded: 1}, summary)

	job := f.job(t, "j1")
	assert.Equal(t, domain.JobStatusCancelled, job.Status)
	assert.Nil(t, job.Result)
	assert.Equal(t, []events.EventType{events.JobStarted}, f.pub.types())
	jobType := string(domain.JobTypeInitialAnalysis)
	assert.InDelta(t, 1, testutil.ToFloat64(m.JobsExecutedTotal.WithLabelValues(jobType, metrics.OutcomeDiscarded)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.JobsExecutedTotal.WithLabelValues(jobType, metrics.OutcomeSucceeded)), 0)
}

func TestDispatcher_CancelledWhileFailingKeepsCancellation(t *testing.T) {
	f := newDispatcherFixture()
	f.store.PutJob(pendingJob("j1", 5, baseTime))
	f.exec.Register(domain.JobTypeInitialAnalysis, func(_ context.Context, task jobs.Task) (any, error) {
		f.store.Cancel(task.JobID)
		return nil, errors.New("boom")
	})

	summary, err := f.dispatcher(jobs.DispatcherConfig{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.Summary{Discarded: 1}, summary)
	assert.Equal(t, domain.JobStatusCancelled, f.job(t, "j1").Status)
}

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	f := newDispatcherFixture()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		f.store.PutJob(pendingJob(id, 5, baseTime))
	}

	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	f.exec.Register(domain.JobTypeInitialAnalysis, func(context.Context, jobs.Task) (any, error) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return nil, nil
	})

	summary, err := f.dispatcher(jobs.DispatcherConfig{BatchSize: 5, Workers: 2}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Succeeded)
	assert.LessOrEqual(t, peak, 2)
}

func TestDispatcher_PanicCountsAsFailure(t *testing.T) {
	f := newDispatcherFixture()
	f.store.PutJob(pendingJob("j1", 5, baseTime))
	f.exec.Register(domain.JobTypeInitialAnalysis, func(context.Context, jobs.Task) (any, error) {
		panic("boom")
	})

	summary, err := f.dispatcher(jobs.DispatcherConfig{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, domain.JobStatusPending, f.job(t, "j1").Status)
}
