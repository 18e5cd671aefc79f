package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/handlers"
)

const (
	websiteSelect = `
		SELECT w.id, w.organization_id, w.domain, w.sitemap_url, w.active,
		       o.serp_frequency_seconds, o.report_frequency_seconds
		FROM websites w
		JOIN organizations o ON o.id = w.organization_id`

	querySelectColumns      = `id, website_id, query, active`
	competitorSelectColumns = `id, website_id, domain, name, description, auto_discovered, created_at`
	sampleSelectColumns     = `id, website_id, owner_key, query_id, query, position, url, title, snippet,
		blob_ref, job_id, observed_at`
	snapshotSelectColumns = `id, website_id, source_url, fetched_at, urls, blob_ref`
)

// RankingRepository handles websites, tracked queries, competitors, position samples,
// sitemap snapshots and reports.
type RankingRepository struct {
	db *sqlx.DB
}

// NewRankingRepository creates a new ranking repository.
func NewRankingRepository(db *sqlx.DB) *RankingRepository {
	return &RankingRepository{db: db}
}

var _ handlers.Store = (*RankingRepository)(nil)

// websiteRow carries the organization cadence as integer seconds.
type websiteRow struct {
	ID                     string  `db:"id"`
	OrganizationID         string  `db:"organization_id"`
	Domain                 string  `db:"domain"`
	SitemapURL             *string `db:"sitemap_url"`
	Active                 bool    `db:"active"`
	SerpFrequencySeconds   int64   `db:"serp_frequency_seconds"`
	ReportFrequencySeconds int64   `db:"report_frequency_seconds"`
}

func (r websiteRow) toDomain() *domain.Website {
	return &domain.Website{
		ID:              r.ID,
		OrganizationID:  r.OrganizationID,
		Domain:          r.Domain,
		SitemapURL:      r.SitemapURL,
		Active:          r.Active,
		SerpFrequency:   time.Duration(r.SerpFrequencySeconds) * time.Second,
		ReportFrequency: time.Duration(r.ReportFrequencySeconds) * time.Second,
	}
}

type snapshotRow struct {
	ID        string         `db:"id"`
	WebsiteID string         `db:"website_id"`
	SourceURL string         `db:"source_url"`
	FetchedAt time.Time      `db:"fetched_at"`
	URLs      pq.StringArray `db:"urls"`
	BlobRef   *string        `db:"blob_ref"`
}

func (r snapshotRow) toDomain() *domain.SitemapSnapshot {
	urls := []string(r.URLs)
	if urls == nil {
		urls = []string{}
	}
	return &domain.SitemapSnapshot{
		ID:        r.ID,
		WebsiteID: r.WebsiteID,
		SourceURL: r.SourceURL,
		FetchedAt: r.FetchedAt,
		URLs:      urls,
		BlobRef:   r.BlobRef,
	}
}

// GetWebsite retrieves a website with its organization cadence.
func (r *RankingRepository) GetWebsite(ctx context.Context, id string) (*domain.Website, error) {
	var row websiteRow
	err := r.db.GetContext(ctx, &row, websiteSelect+` WHERE w.id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperrors.NotFoundError{Entity: "website", ID: id}
		}
		return nil, fmt.Errorf("failed to get website: %w", err)
	}

	return row.toDomain(), nil
}

// ListActiveWebsites returns all active websites.
func (r *RankingRepository) ListActiveWebsites(ctx context.Context) ([]*domain.Website, error) {
	var rows []websiteRow
	if err := r.db.SelectContext(ctx, &rows, websiteSelect+` WHERE w.active ORDER BY w.id`); err != nil {
		return nil, fmt.Errorf("failed to list active websites: %w", err)
	}

	out := make([]*domain.Website, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}

	return out, nil
}

// ListActiveQueries returns the active tracked queries of a website.
func (r *RankingRepository) ListActiveQueries(ctx context.Context, websiteID string) ([]*domain.TrackedQuery, error) {
	query := `SELECT ` + querySelectColumns + ` FROM tracked_queries WHERE website_id = $1 AND active ORDER BY id`

	var out []*domain.TrackedQuery
	if err := r.db.SelectContext(ctx, &out, query, websiteID); err != nil {
		return nil, fmt.Errorf("failed to list tracked queries: %w", err)
	}

	return out, nil
}

// GetQueries returns the website's tracked queries among ids. Unknown ids are omitted.
func (r *RankingRepository) GetQueries(ctx context.Context, websiteID string, ids []string) ([]*domain.TrackedQuery, error) {
	if len(ids) == 0 {
		return []*domain.TrackedQuery{}, nil
	}

	query := `SELECT ` + querySelectColumns + ` FROM tracked_queries WHERE website_id = $1 AND id = ANY($2)`

	var out []*domain.TrackedQuery
	if err := r.db.SelectContext(ctx, &out, query, websiteID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to get tracked queries: %w", err)
	}

	return out, nil
}

// ListCompetitors returns a website's competitors, oldest first.
func (r *RankingRepository) ListCompetitors(ctx context.Context, websiteID string) ([]*domain.Competitor, error) {
	query := `SELECT ` + competitorSelectColumns + ` FROM competitors WHERE website_id = $1 ORDER BY created_at, id`

	var out []*domain.Competitor
	if err := r.db.SelectContext(ctx, &out, query, websiteID); err != nil {
		return nil, fmt.Errorf("failed to list competitors: %w", err)
	}

	return out, nil
}

// CreateCompetitor inserts c unless the website already has a competitor on that domain.
func (r *RankingRepository) CreateCompetitor(ctx context.Context, c *domain.Competitor) (bool, error) {
	query := `
		INSERT INTO competitors (id, website_id, domain, name, description, auto_discovered, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (website_id, domain) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, query,
		c.ID, c.WebsiteID, c.Domain, c.Name, c.Description, c.AutoDiscovered, c.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create competitor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create competitor: %w", err)
	}

	return n > 0, nil
}

// InsertSample records a position sample.
func (r *RankingRepository) InsertSample(ctx context.Context, s *domain.PositionSample) error {
	query := `
		INSERT INTO position_samples (` + sampleSelectColumns + `)
		VALUES (:id, :website_id, :owner_key, :query_id, :query, :position, :url, :title, :snippet,
			:blob_ref, :job_id, :observed_at)
	`

	if _, err := r.db.NamedExecContext(ctx, query, s); err != nil {
		return fmt.Errorf("failed to insert position sample: %w", err)
	}

	return nil
}

// ListSamples returns a website's position samples newest first. Samples observed at the
// same instant come back in reverse insertion order.
func (r *RankingRepository) ListSamples(ctx context.Context, websiteID string) ([]*domain.PositionSample, error) {
	query := `
		SELECT ` + sampleSelectColumns + `
		FROM position_samples
		WHERE website_id = $1
		ORDER BY observed_at DESC, seq DESC
	`

	var out []*domain.PositionSample
	if err := r.db.SelectContext(ctx, &out, query, websiteID); err != nil {
		return nil, fmt.Errorf("failed to list position samples: %w", err)
	}

	return out, nil
}

// LatestSnapshots returns up to limit snapshots for the website, newest first.
func (r *RankingRepository) LatestSnapshots(ctx context.Context, websiteID string, limit int) ([]*domain.SitemapSnapshot, error) {
	query := `
		SELECT ` + snapshotSelectColumns + `
		FROM sitemap_snapshots
		WHERE website_id = $1
		ORDER BY fetched_at DESC, id DESC
		LIMIT $2
	`

	var rows []snapshotRow
	if err := r.db.SelectContext(ctx, &rows, query, websiteID, limit); err != nil {
		return nil, fmt.Errorf("failed to list sitemap snapshots: %w", err)
	}

	out := make([]*domain.SitemapSnapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}

	return out, nil
}

// GetSnapshot retrieves one snapshot of a website.
func (r *RankingRepository) GetSnapshot(ctx context.Context, websiteID, id string) (*domain.SitemapSnapshot, error) {
	query := `SELECT ` + snapshotSelectColumns + ` FROM sitemap_snapshots WHERE website_id = $1 AND id = $2`

	var row snapshotRow
	if err := r.db.GetContext(ctx, &row, query, websiteID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperrors.NotFoundError{Entity: "sitemap snapshot", ID: id}
		}
		return nil, fmt.Errorf("failed to get sitemap snapshot: %w", err)
	}

	return row.toDomain(), nil
}

// CreateSnapshot stores an immutable sitemap snapshot.
func (r *RankingRepository) CreateSnapshot(ctx context.Context, s *domain.SitemapSnapshot) error {
	query := `
		INSERT INTO sitemap_snapshots (` + snapshotSelectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query, s.ID, s.WebsiteID, s.SourceURL, s.FetchedAt, pq.Array(s.URLs), s.BlobRef)
	if err != nil {
		return fmt.Errorf("failed to create sitemap snapshot: %w", err)
	}

	return nil
}

// CreateReport stores a generated report.
func (r *RankingRepository) CreateReport(ctx context.Context, rep *domain.AIReport) error {
	query := `
		INSERT INTO ai_reports (id, website_id, job_id, model, content, created_at)
		VALUES (:id, :website_id, :job_id, :model, :content, :created_at)
	`

	if _, err := r.db.NamedExecContext(ctx, query, rep); err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}

	return nil
}
