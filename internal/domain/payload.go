package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
)

// Payload is the type-specific body of a job.
type Payload interface {
	JobType() JobType
	Validate() error
	// TargetKeys names the logical targets the job touches. Two active jobs of the same
	// type and website conflict when their keys intersect.
	TargetKeys() []string
}

const websiteTargetKey = "website"

// SerpAnalysisPayload ranks the website for one or more tracked queries.
type SerpAnalysisPayload struct {
	QueryIDs []string `json:"query_ids"`
}

func (p *SerpAnalysisPayload) JobType() JobType { return JobTypeSerpAnalysis }

func (p *SerpAnalysisPayload) Validate() error {
	if len(p.QueryIDs) == 0 {
		return apperrors.NewValidation("query_ids", "at least one query is required")
	}
	seen := make(map[string]struct{}, len(p.QueryIDs))
	for i, id := range p.QueryIDs {
		if strings.TrimSpace(id) == "" {
			return apperrors.NewValidation(fmt.Sprintf("query_ids[%d]", i), "must not be blank")
		}
		if _, dup := seen[id]; dup {
			return apperrors.NewValidation(fmt.Sprintf("query_ids[%d]", i), "duplicate query id %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (p *SerpAnalysisPayload) TargetKeys() []string {
	keys := make([]string, 0, len(p.QueryIDs))
	for _, id := range p.QueryIDs {
		keys = append(keys, "query:"+id)
	}
	return keys
}

// SitemapFetchPayload captures a sitemap snapshot. An empty URL means the website's configured sitemap.
type SitemapFetchPayload struct {
	SitemapURL string `json:"sitemap_url,omitempty"`
}

func (p *SitemapFetchPayload) JobType() JobType { return JobTypeSitemapFetch }

func (p *SitemapFetchPayload) Validate() error {
	if p.SitemapURL != "" && !isHTTPURL(p.SitemapURL) {
		return apperrors.NewValidation("sitemap_url", "must be an http(s) URL")
	}
	return nil
}

func (p *SitemapFetchPayload) TargetKeys() []string {
	if p.SitemapURL == "" {
		return []string{websiteTargetKey}
	}
	return []string{"sitemap:" + p.SitemapURL}
}

// PageExtractionPayload extracts on-page signals from a product page.
type PageExtractionPayload struct {
	ProductID string `json:"product_id,omitempty"`
	URL       string `json:"url"`
}

func (p *PageExtractionPayload) JobType() JobType { return JobTypePageExtraction }

func (p *PageExtractionPayload) Validate() error {
	if !isHTTPURL(p.URL) {
		return apperrors.NewValidation("url", "must be an http(s) URL")
	}
	return nil
}

func (p *PageExtractionPayload) TargetKeys() []string {
	keys := []string{"url:" + p.URL}
	if p.ProductID != "" {
		keys = append(keys, "product:"+p.ProductID)
	}
	return keys
}

// AIReportPayload generates a competitive report. No competitor ids means all competitors.
type AIReportPayload struct {
	CompetitorIDs []string `json:"competitor_ids,omitempty"`
}

func (p *AIReportPayload) JobType() JobType { return JobTypeAIReport }

func (p *AIReportPayload) Validate() error {
	for i, id := range p.CompetitorIDs {
		if strings.TrimSpace(id) == "" {
			return apperrors.NewValidation(fmt.Sprintf("competitor_ids[%d]", i), "must not be blank")
		}
	}
	return nil
}

func (p *AIReportPayload) TargetKeys() []string {
	if len(p.CompetitorIDs) == 0 {
		return []string{websiteTargetKey}
	}
	keys := make([]string, 0, len(p.CompetitorIDs))
	for _, id := range p.CompetitorIDs {
		keys = append(keys, "competitor:"+id)
	}
	return keys
}

// InitialAnalysisPayload fans out the first sitemap and SERP jobs for a new website.
type InitialAnalysisPayload struct{}

func (p *InitialAnalysisPayload) JobType() JobType { return JobTypeInitialAnalysis }

func (p *InitialAnalysisPayload) Validate() error { return nil }

func (p *InitialAnalysisPayload) TargetKeys() []string { return []string{websiteTargetKey} }

// DecodePayload parses raw into the payload variant for t and validates it.
func DecodePayload(t JobType, raw []byte) (Payload, error) {
	var p Payload
	switch t {
	case JobTypeSerpAnalysis:
		p = &SerpAnalysisPayload{}
	case JobTypeSitemapFetch:
		p = &SitemapFetchPayload{}
	case JobTypePageExtraction:
		p = &PageExtractionPayload{}
	case JobTypeAIReport:
		p = &AIReportPayload{}
	case JobTypeInitialAnalysis:
		p = &InitialAnalysisPayload{}
	default:
		return nil, &apperrors.UnknownJobTypeError{Type: string(t)}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(p); err != nil {
			return nil, apperrors.NewValidation("payload", "invalid %s payload: %v", t, err)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// KeysIntersect reports whether any key appears in both lists.
func KeysIntersect(a, b []string) bool {
	seen := make(map[string]struct{}, len(a))
	for _, k := range a {
		seen[k] = struct{}{}
	}
	for _, k := range b {
		if _, ok := seen[k]; ok {
			return true
		}
	}
	return false
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
