package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/archive"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/serp"
)

const (
	DefaultNumResults           = 10
	DefaultCompetitorCandidates = 10
	DefaultAutoCreate           = 3
)

// SerpConfig controls SERP lookups and competitor discovery.
type SerpConfig struct {
	Country    string
	Language   string
	Device     string
	NumResults int
	// CompetitorCandidates is how many non-self results are considered as competitors.
	CompetitorCandidates int
	// AutoCreate is how many of those candidates may be created as competitors per query.
	AutoCreate int
}

func (c *SerpConfig) setDefaults() {
	if c.NumResults <= 0 {
		c.NumResults = DefaultNumResults
	}
	if c.CompetitorCandidates <= 0 {
		c.CompetitorCandidates = DefaultCompetitorCandidates
	}
	if c.AutoCreate <= 0 {
		c.AutoCreate = DefaultAutoCreate
	}
}

// QueryOutcome is the per-query part of a SERP analysis result.
type QueryOutcome struct {
	QueryID        string   `json:"query_id"`
	Query          string   `json:"query,omitempty"`
	Position       *int     `json:"position"`
	BlobRef        string   `json:"blob_ref,omitempty"`
	Results        int      `json:"results"`
	NewCompetitors []string `json:"new_competitors,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// SerpAnalysisResult is stored as the job result.
type SerpAnalysisResult struct {
	Queries   []QueryOutcome `json:"queries"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Cancelled bool           `json:"cancelled,omitempty"`
}

// SerpHandler ranks a website for its tracked queries and discovers competitors.
type SerpHandler struct {
	store   SerpStore
	fetcher SerpFetcher
	blobs   BlobStore
	clock   jobs.Clock
	cfg     SerpConfig
	log     logger.Logger
}

// NewSerpHandler creates a SERP analysis handler.
func NewSerpHandler(store SerpStore, fetcher SerpFetcher, blobs BlobStore, clock jobs.Clock, cfg SerpConfig, log logger.Logger) *SerpHandler {
	cfg.setDefaults()
	if blobs == nil {
		blobs = archive.NopStore{}
	}
	return &SerpHandler{
		store:   store,
		fetcher: fetcher,
		blobs:   blobs,
		clock:   orSystem(clock),
		cfg:     cfg,
		log:     orNop(log),
	}
}

// Handle processes queries one at a time. A failed query is recorded in its outcome and
// does not stop the rest; the job still succeeds.
func (h *SerpHandler) Handle(ctx context.Context, task jobs.Task) (any, error) {
	payload, ok := task.Payload.(*domain.SerpAnalysisPayload)
	if !ok {
		return nil, apperrors.NewValidation("payload", "expected serp_analysis payload, got %T", task.Payload)
	}
	if len(payload.QueryIDs) == 0 {
		return nil, apperrors.NewValidation("query_ids", "at least one query is required")
	}

	website, err := h.store.GetWebsite(ctx, task.WebsiteID)
	if err != nil {
		return nil, err
	}

	queries, err := h.store.GetQueries(ctx, website.ID, payload.QueryIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracked queries: %w", err)
	}
	byID := make(map[string]*domain.TrackedQuery, len(queries))
	for _, q := range queries {
		byID[q.ID] = q
	}

	competitors, err := h.store.ListCompetitors(ctx, website.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load competitors: %w", err)
	}

	log := h.log.With(
		logger.String("job_id", task.JobID),
		logger.String("website_id", website.ID),
	)

	result := &SerpAnalysisResult{Queries: make([]QueryOutcome, 0, len(payload.QueryIDs))}

	for _, id := range payload.QueryIDs {
		q, found := byID[id]
		if !found {
			result.Failed++
			result.Queries = append(result.Queries, QueryOutcome{QueryID: id, Error: "tracked query not found"})
			log.Warn("Tracked query not found", logger.String("query_id", id))
			continue
		}

		outcome, created, queryErr := h.analyzeQuery(ctx, task, website, q, competitors)
		if errors.Is(queryErr, errJobCancelled) {
			result.Cancelled = true
			log.Info("Job cancelled during SERP analysis, stopping", logger.String("query_id", id))
			break
		}
		competitors = append(competitors, created...)

		if queryErr != nil {
			result.Failed++
			outcome.Error = queryErr.Error()
			log.Warn("SERP analysis failed for query",
				logger.String("query_id", q.ID),
				logger.String("query", q.Query),
				logger.Error(queryErr),
			)
		} else {
			result.Succeeded++
		}
		result.Queries = append(result.Queries, outcome)
	}

	return result, nil
}

func (h *SerpHandler) analyzeQuery(
	ctx context.Context,
	task jobs.Task,
	website *domain.Website,
	q *domain.TrackedQuery,
	competitors []*domain.Competitor,
) (QueryOutcome, []*domain.Competitor, error) {
	outcome := QueryOutcome{QueryID: q.ID, Query: q.Query}

	entries, err := h.fetcher.Search(ctx, domain.SerpRequest{
		Query:      q.Query,
		Country:    h.cfg.Country,
		Language:   h.cfg.Language,
		Device:     h.cfg.Device,
		NumResults: h.cfg.NumResults,
	})
	if err != nil {
		return outcome, nil, err
	}
	outcome.Results = len(entries)

	now := h.clock.Now()
	outcome.BlobRef = h.archive(ctx, website.ID, q.Query, entries, now)

	if err = ensureRunning(ctx, task); err != nil {
		return outcome, nil, err
	}

	self := findDomain(entries, website.Domain)
	if self != nil {
		pos := self.Position
		outcome.Position = &pos
	}
	if err = h.store.InsertSample(ctx, h.sample(task, website, q, domain.OwnerSelf, self, outcome.BlobRef, now)); err != nil {
		return outcome, nil, fmt.Errorf("failed to record position: %w", err)
	}

	for _, c := range competitors {
		entry := findDomain(entries, c.Domain)
		if err = h.store.InsertSample(ctx, h.sample(task, website, q, domain.CompetitorOwnerKey(c.ID), entry, outcome.BlobRef, now)); err != nil {
			return outcome, nil, fmt.Errorf("failed to record competitor position: %w", err)
		}
	}

	created, err := h.discoverCompetitors(ctx, task, website, q, entries, competitors, outcome.BlobRef, now)
	for _, c := range created {
		outcome.NewCompetitors = append(outcome.NewCompetitors, c.Domain)
	}
	return outcome, created, err
}

// discoverCompetitors takes the top CompetitorCandidates distinct non-self domains, checks the
// first AutoCreate of them, and creates a competitor for each one no existing competitor covers.
func (h *SerpHandler) discoverCompetitors(
	ctx context.Context,
	task jobs.Task,
	website *domain.Website,
	q *domain.TrackedQuery,
	entries []domain.SerpEntry,
	existing []*domain.Competitor,
	blobRef string,
	now time.Time,
) ([]*domain.Competitor, error) {
	candidates := make([]domain.SerpEntry, 0, h.cfg.CompetitorCandidates)
	seen := make(map[string]struct{})
	for _, e := range entries {
		d := serp.EntryDomain(e.Domain, e.URL)
		if d == "" || serp.MatchesDomain(d, website.Domain) {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		candidates = append(candidates, e)
		if len(candidates) == h.cfg.CompetitorCandidates {
			break
		}
	}

	if len(candidates) > h.cfg.AutoCreate {
		candidates = candidates[:h.cfg.AutoCreate]
	}

	var created []*domain.Competitor
	for _, e := range candidates {
		d := serp.EntryDomain(e.Domain, e.URL)
		if coveredBy(d, existing) || coveredBy(d, created) {
			continue
		}

		c := &domain.Competitor{
			ID:             uuid.NewString(),
			WebsiteID:      website.ID,
			Domain:         d,
			Name:           d,
			Description:    fmt.Sprintf("Auto-discovered from search results for %q. Not yet reviewed.", q.Query),
			AutoDiscovered: true,
			CreatedAt:      now,
		}
		inserted, err := h.store.CreateCompetitor(ctx, c)
		if err != nil {
			return created, fmt.Errorf("failed to create competitor %s: %w", d, err)
		}
		if !inserted {
			continue
		}
		created = append(created, c)

		entry := e
		if err = h.store.InsertSample(ctx, h.sample(task, website, q, domain.CompetitorOwnerKey(c.ID), &entry, blobRef, now)); err != nil {
			return created, fmt.Errorf("failed to record competitor position: %w", err)
		}

		h.log.Info("Competitor auto-discovered",
			logger.String("job_id", task.JobID),
			logger.String("website_id", website.ID),
			logger.String("competitor_domain", d),
			logger.String("query", q.Query),
		)
	}
	return created, nil
}

// archive stores the raw ranked list. Archiving is best-effort; a failure leaves no reference.
func (h *SerpHandler) archive(ctx context.Context, websiteID, query string, entries []domain.SerpEntry, now time.Time) string {
	raw, err := json.Marshal(entries)
	if err != nil {
		h.log.Warn("Failed to encode SERP results", logger.Error(err))
		return ""
	}
	ref, err := h.blobs.Store(ctx, archive.ObjectKey("serp", websiteID, query, now, ".json"), raw)
	if err != nil {
		h.log.Warn("Failed to archive SERP results",
			logger.String("website_id", websiteID),
			logger.String("query", query),
			logger.Error(err),
		)
		return ""
	}
	return ref
}

func (h *SerpHandler) sample(
	task jobs.Task,
	website *domain.Website,
	q *domain.TrackedQuery,
	ownerKey string,
	entry *domain.SerpEntry,
	blobRef string,
	now time.Time,
) *domain.PositionSample {
	s := &domain.PositionSample{
		ID:         uuid.NewString(),
		WebsiteID:  website.ID,
		OwnerKey:   ownerKey,
		QueryID:    q.ID,
		Query:      q.Query,
		BlobRef:    strPtr(blobRef),
		JobID:      strPtr(task.JobID),
		ObservedAt: now,
	}
	if entry != nil {
		pos := entry.Position
		s.Position = &pos
		s.URL = strPtr(entry.URL)
		s.Title = strPtr(entry.Title)
		s.Snippet = strPtr(entry.Snippet)
	}
	return s
}

// findDomain returns the best-ranked entry on reference or one of its subdomains.
func findDomain(entries []domain.SerpEntry, reference string) *domain.SerpEntry {
	var best *domain.SerpEntry
	for i := range entries {
		e := &entries[i]
		if !serp.MatchesDomain(serp.EntryDomain(e.Domain, e.URL), reference) {
			continue
		}
		if best == nil || e.Position < best.Position {
			best = e
		}
	}
	return best
}

func coveredBy(d string, competitors []*domain.Competitor) bool {
	for _, c := range competitors {
		if serp.MatchesDomain(d, c.Domain) {
			return true
		}
	}
	return false
}
