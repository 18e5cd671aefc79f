package domain

import "time"

// OwnerSelf is the owner key for position samples of the tracked website itself.
const OwnerSelf = "self"

// CompetitorOwnerKey returns the owner key for samples belonging to a competitor.
func CompetitorOwnerKey(competitorID string) string {
	return "competitor:" + competitorID
}

// Website is a tracked site together with its organization's job cadence.
type Website struct {
	ID              string        `db:"id"               json:"id"`
	OrganizationID  string        `db:"organization_id"  json:"organization_id"`
	Domain          string        `db:"domain"           json:"domain"`
	SitemapURL      *string       `db:"sitemap_url"      json:"sitemap_url,omitempty"`
	Active          bool          `db:"active"           json:"active"`
	SerpFrequency   time.Duration `db:"-"                json:"serp_frequency"`
	ReportFrequency time.Duration `db:"-"                json:"report_frequency"`
}

// TrackedQuery is a search query whose ranking is tracked for a website.
type TrackedQuery struct {
	ID        string `db:"id"         json:"id"`
	WebsiteID string `db:"website_id" json:"website_id"`
	Query     string `db:"query"      json:"query"`
	Active    bool   `db:"active"     json:"active"`
}

// SerpEntry is one ranked result returned by the SERP fetcher.
type SerpEntry struct {
	Position int    `json:"position"`
	URL      string `json:"url"`
	Domain   string `json:"domain"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
}

// SerpRequest describes a single SERP lookup.
type SerpRequest struct {
	Query      string
	Country    string
	Language   string
	Device     string
	NumResults int
}

// PositionSample is one observation of where an owner ranked for a query.
// A nil Position means the owner was not ranked.
type PositionSample struct {
	ID         string    `db:"id"          json:"id"`
	WebsiteID  string    `db:"website_id"  json:"website_id"`
	OwnerKey   string    `db:"owner_key"   json:"owner_key"`
	QueryID    string    `db:"query_id"    json:"query_id"`
	Query      string    `db:"query"       json:"query"`
	Position   *int      `db:"position"    json:"position"`
	URL        *string   `db:"url"         json:"url,omitempty"`
	Title      *string   `db:"title"       json:"title,omitempty"`
	Snippet    *string   `db:"snippet"     json:"snippet,omitempty"`
	BlobRef    *string   `db:"blob_ref"    json:"blob_ref,omitempty"`
	JobID      *string   `db:"job_id"      json:"job_id,omitempty"`
	ObservedAt time.Time `db:"observed_at" json:"observed_at"`
}

// Competitor is a domain the website is compared against.
type Competitor struct {
	ID             string    `db:"id"              json:"id"`
	WebsiteID      string    `db:"website_id"      json:"website_id"`
	Domain         string    `db:"domain"          json:"domain"`
	Name           string    `db:"name"            json:"name"`
	Description    string    `db:"description"     json:"description"`
	AutoDiscovered bool      `db:"auto_discovered" json:"auto_discovered"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
}

// SitemapSnapshot is an immutable capture of a sitemap's URL set.
type SitemapSnapshot struct {
	ID        string    `db:"id"         json:"id"`
	WebsiteID string    `db:"website_id" json:"website_id"`
	SourceURL string    `db:"source_url" json:"source_url"`
	FetchedAt time.Time `db:"fetched_at" json:"fetched_at"`
	URLs      []string  `db:"-"          json:"urls"`
	BlobRef   *string   `db:"blob_ref"   json:"blob_ref,omitempty"`
}

// AIReport is a generated competitive report.
type AIReport struct {
	ID        string    `db:"id"         json:"id"`
	WebsiteID string    `db:"website_id" json:"website_id"`
	JobID     string    `db:"job_id"     json:"job_id"`
	Model     string    `db:"model"      json:"model"`
	Content   string    `db:"content"    json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PageExtraction holds the on-page signals extracted from a fetched page.
type PageExtraction struct {
	URL             string   `json:"url"`
	Title           string   `json:"title"`
	MetaDescription string   `json:"meta_description"`
	Canonical       string   `json:"canonical,omitempty"`
	H1              []string `json:"h1"`
	H2              []string `json:"h2"`
	WordCount       int      `json:"word_count"`
	BlobRef         string   `json:"blob_ref,omitempty"`
}
