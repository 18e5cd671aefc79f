// Package testutils provides shared testing utilities across the application.
package testutils

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/serp"
)

// MemStore is an in-memory store implementing the job, planner and handler stores.
// Rows are copied on the way in and out so callers cannot mutate stored state.
type MemStore struct {
	mu sync.RWMutex

	jobs        map[string]*domain.Job
	websites    map[string]*domain.Website
	queries     map[string]*domain.TrackedQuery
	competitors []*domain.Competitor
	samples     []*domain.PositionSample
	snapshots   []*domain.SitemapSnapshot
	reports     []*domain.AIReport

	// OnMarkRunning runs after a successful MarkRunning, outside the lock.
	OnMarkRunning func(job *domain.Job)
	// CancelErr is returned by CancelJob when set.
	CancelErr error
	// BeforeCancel runs at the start of CancelJob, outside the lock.
	BeforeCancel func(id string)
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		jobs:     make(map[string]*domain.Job),
		websites: make(map[string]*domain.Website),
		queries:  make(map[string]*domain.TrackedQuery),
	}
}

func copyJob(j *domain.Job) *domain.Job {
	c := *j
	return &c
}

// PutJob stores a job directly (for test setup).
func (m *MemStore) PutJob(job *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = copyJob(job)
}

// PutWebsite stores a website directly (for test setup).
func (m *MemStore) PutWebsite(w *domain.Website) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *w
	m.websites[w.ID] = &c
}

// PutQuery stores a tracked query directly (for test setup).
func (m *MemStore) PutQuery(q *domain.TrackedQuery) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *q
	m.queries[q.ID] = &c
}

// Jobs returns every stored job ordered by creation time.
func (m *MemStore) Jobs() []*domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, copyJob(j))
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

// Samples returns every recorded position sample.
func (m *MemStore) Samples() []*domain.PositionSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.PositionSample(nil), m.samples...)
}

// Competitors returns every stored competitor.
func (m *MemStore) Competitors() []*domain.Competitor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.Competitor(nil), m.competitors...)
}

// Reports returns every stored report.
func (m *MemStore) Reports() []*domain.AIReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.AIReport(nil), m.reports...)
}

// Snapshots returns every stored sitemap snapshot in insertion order.
func (m *MemStore) Snapshots() []*domain.SitemapSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.SitemapSnapshot(nil), m.snapshots...)
}

// AddCompetitor stores a competitor directly (for test setup).
func (m *MemStore) AddCompetitor(c *domain.Competitor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.competitors = append(m.competitors, c)
}

// AddSample stores a position sample directly (for test setup).
func (m *MemStore) AddSample(s *domain.PositionSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
}

// AddSnapshot stores a sitemap snapshot directly (for test setup).
func (m *MemStore) AddSnapshot(s *domain.SitemapSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, s)
}

// CreateJob inserts a job.
func (m *MemStore) CreateJob(_ context.Context, job *domain.Job) error {
	m.PutJob(job)
	return nil
}

// GetJob returns a job or a NotFoundError.
func (m *MemStore) GetJob(_ context.Context, id string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, &apperrors.NotFoundError{Entity: "job", ID: id}
	}
	return copyJob(j), nil
}

// ListJobs returns jobs matching filter, newest first.
func (m *MemStore) ListJobs(_ context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	m.mu.RLock()
	var out []*domain.Job
	for _, j := range m.jobs {
		if filter.WebsiteID != "" && j.WebsiteID != filter.WebsiteID {
			continue
		}
		if filter.Type != "" && j.Type != filter.Type {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		out = append(out, copyJob(j))
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// FindActiveJobs returns pending and running jobs of a type for a website.
func (m *MemStore) FindActiveJobs(_ context.Context, websiteID string, jobType domain.JobType) ([]*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Job
	for _, j := range m.jobs {
		if j.WebsiteID == websiteID && j.Type == jobType && j.Status.IsActive() {
			out = append(out, copyJob(j))
		}
	}
	return out, nil
}

// ListDueJobs returns due pending jobs by priority desc then scheduled_at asc.
func (m *MemStore) ListDueJobs(_ context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	m.mu.RLock()
	var out []*domain.Job
	for _, j := range m.jobs {
		if j.Due(now) {
			out = append(out, copyJob(j))
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Priority != out[b].Priority {
			return out[a].Priority > out[b].Priority
		}
		if !out[a].ScheduledAt.Equal(out[b].ScheduledAt) {
			return out[a].ScheduledAt.Before(out[b].ScheduledAt)
		}
		return out[a].ID < out[b].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkRunning claims a pending job.
func (m *MemStore) MarkRunning(_ context.Context, id string, now time.Time) (*domain.Job, error) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok || j.Status != domain.JobStatusPending {
		m.mu.Unlock()
		return nil, jobs.ErrJobNotPending
	}
	j.Status = domain.JobStatusRunning
	j.Attempts++
	j.StartedAt = &now
	j.UpdatedAt = now
	out := copyJob(j)
	m.mu.Unlock()

	if m.OnMarkRunning != nil {
		m.OnMarkRunning(copyJob(out))
	}
	return out, nil
}

func (m *MemStore) finishRunning(id string, apply func(j *domain.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != domain.JobStatusRunning {
		return jobs.ErrJobNotRunning
	}
	apply(j)
	return nil
}

// MarkCompleted completes a running job.
func (m *MemStore) MarkCompleted(_ context.Context, id string, result domain.JSONB, now time.Time) error {
	return m.finishRunning(id, func(j *domain.Job) {
		j.Status = domain.JobStatusCompleted
		j.Result = result
		j.Error = nil
		j.CompletedAt = &now
		j.UpdatedAt = now
	})
}

// MarkFailed fails a running job.
func (m *MemStore) MarkFailed(_ context.Context, id, errMsg string, now time.Time) error {
	return m.finishRunning(id, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.Error = &errMsg
		j.CompletedAt = &now
		j.UpdatedAt = now
	})
}

// Requeue moves a running job back to pending.
func (m *MemStore) Requeue(_ context.Context, id, errMsg string, scheduledAt, now time.Time) error {
	return m.finishRunning(id, func(j *domain.Job) {
		j.Status = domain.JobStatusPending
		j.Error = &errMsg
		j.ScheduledAt = scheduledAt
		j.UpdatedAt = now
	})
}

// CancelJob cancels an active job.
func (m *MemStore) CancelJob(_ context.Context, id, reason string, now time.Time) (bool, error) {
	if m.BeforeCancel != nil {
		m.BeforeCancel(id)
	}
	if m.CancelErr != nil {
		return false, m.CancelErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || !j.Status.IsActive() {
		return false, nil
	}
	j.Status = domain.JobStatusCancelled
	j.Error = &reason
	j.CompletedAt = &now
	j.UpdatedAt = now
	return true, nil
}

// Cancel flips a job to cancelled regardless of the caller (for simulating a user cancel mid-run).
func (m *MemStore) Cancel(id string) {
	_, _ = m.CancelJob(context.Background(), id, "cancelled by user", time.Now())
}

// ListActiveWebsites returns active websites ordered by id.
func (m *MemStore) ListActiveWebsites(_ context.Context) ([]*domain.Website, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Website
	for _, w := range m.websites {
		if w.Active {
			c := *w
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// GetWebsite returns a website or a NotFoundError.
func (m *MemStore) GetWebsite(_ context.Context, id string) (*domain.Website, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.websites[id]
	if !ok {
		return nil, &apperrors.NotFoundError{Entity: "website", ID: id}
	}
	c := *w
	return &c, nil
}

// ListActiveQueries returns active tracked queries for a website ordered by id.
func (m *MemStore) ListActiveQueries(_ context.Context, websiteID string) ([]*domain.TrackedQuery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.TrackedQuery
	for _, q := range m.queries {
		if q.WebsiteID == websiteID && q.Active {
			c := *q
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// GetQueries returns the website's tracked queries among ids. Unknown ids are omitted.
func (m *MemStore) GetQueries(_ context.Context, websiteID string, ids []string) ([]*domain.TrackedQuery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.TrackedQuery
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if q, ok := m.queries[id]; ok && q.WebsiteID == websiteID {
			c := *q
			out = append(out, &c)
		}
	}
	return out, nil
}

// LastCompletedAt returns the latest completion time of a job type for a website.
func (m *MemStore) LastCompletedAt(_ context.Context, websiteID string, jobType domain.JobType) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *time.Time
	for _, j := range m.jobs {
		if j.WebsiteID != websiteID || j.Type != jobType || j.Status != domain.JobStatusCompleted || j.CompletedAt == nil {
			continue
		}
		if last == nil || j.CompletedAt.After(*last) {
			t := *j.CompletedAt
			last = &t
		}
	}
	return last, nil
}

// ListCompetitors returns a website's competitors in insertion order.
func (m *MemStore) ListCompetitors(_ context.Context, websiteID string) ([]*domain.Competitor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Competitor
	for _, c := range m.competitors {
		if c.WebsiteID == websiteID {
			out = append(out, c)
		}
	}
	return out, nil
}

// CreateCompetitor inserts c unless the website already has that domain.
func (m *MemStore) CreateCompetitor(_ context.Context, c *domain.Competitor) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.competitors {
		if existing.WebsiteID == c.WebsiteID && serp.NormalizeDomain(existing.Domain) == serp.NormalizeDomain(c.Domain) {
			return false, nil
		}
	}
	m.competitors = append(m.competitors, c)
	return true, nil
}

// InsertSample records a position sample.
func (m *MemStore) InsertSample(_ context.Context, s *domain.PositionSample) error {
	m.AddSample(s)
	return nil
}

// ListSamples returns a website's position samples newest first, ties in reverse insertion order.
func (m *MemStore) ListSamples(_ context.Context, websiteID string) ([]*domain.PositionSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.PositionSample
	for i := len(m.samples) - 1; i >= 0; i-- {
		if s := m.samples[i]; s.WebsiteID == websiteID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.After(out[j].ObservedAt) })
	return out, nil
}

// LatestSnapshots returns up to limit snapshots for a website, newest first.
func (m *MemStore) LatestSnapshots(_ context.Context, websiteID string, limit int) ([]*domain.SitemapSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.SitemapSnapshot
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		if m.snapshots[i].WebsiteID != websiteID {
			continue
		}
		out = append(out, m.snapshots[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetSnapshot returns one snapshot of a website.
func (m *MemStore) GetSnapshot(_ context.Context, websiteID, id string) (*domain.SitemapSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.snapshots {
		if s.WebsiteID == websiteID && s.ID == id {
			return s, nil
		}
	}
	return nil, &apperrors.NotFoundError{Entity: "sitemap snapshot", ID: id}
}

// CreateSnapshot stores a sitemap snapshot.
func (m *MemStore) CreateSnapshot(_ context.Context, s *domain.SitemapSnapshot) error {
	m.AddSnapshot(s)
	return nil
}

// CreateReport stores a report.
func (m *MemStore) CreateReport(_ context.Context, r *domain.AIReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}
