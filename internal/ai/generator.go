// Package ai generates competitive ranking reports.
package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/scoring"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/sitemap"
)

// CompetitorSummary is one competitor's score against the website.
type CompetitorSummary struct {
	Domain string         `json:"domain"`
	Name   string         `json:"name"`
	Score  scoring.Result `json:"score"`
}

// ReportInput is everything the generator is told about a website.
type ReportInput struct {
	WebsiteDomain string              `json:"website_domain"`
	Competitors   []CompetitorSummary `json:"competitors"`
	Positions     scoring.Positions   `json:"positions"`
	SitemapDiff   *sitemap.Summary    `json:"sitemap_diff,omitempty"`
}

// Report is generated report text.
type Report struct {
	Content     string
	Model       string
	TotalTokens int64
}

// Generator produces a report from ranking data.
type Generator interface {
	Generate(ctx context.Context, in ReportInput) (*Report, error)
}

// BuildPrompt renders in as the user prompt sent to the model.
func BuildPrompt(in ReportInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are an SEO analyst. Write a short competitive ranking report for %s.\n", in.WebsiteDomain)
	b.WriteString("Give three prioritized, concrete recommendations.\n\n")

	b.WriteString("Own positions (query: position):\n")
	queries := make([]string, 0, len(in.Positions))
	for q := range in.Positions {
		queries = append(queries, q)
	}
	sort.Strings(queries)
	for _, q := range queries {
		fmt.Fprintf(&b, "- %s: %s\n", q, formatPosition(in.Positions[q]))
	}

	b.WriteString("\nCompetitors (better/worse/total, net):\n")
	for _, c := range in.Competitors {
		fmt.Fprintf(&b, "- %s: %d/%d/%d, net %+d\n", c.Domain, c.Score.Better, c.Score.Worse, c.Score.Total, c.Score.NetScore)
	}

	if in.SitemapDiff != nil {
		fmt.Fprintf(&b, "\nSitemap since last snapshot: %d added, %d removed, %d unchanged.\n",
			in.SitemapDiff.Added, in.SitemapDiff.Removed, in.SitemapDiff.Unchanged)
	}

	return b.String()
}

func formatPosition(p *int) string {
	if p == nil {
		return "not ranked"
	}
	return fmt.Sprintf("#%d", *p)
}

// TemplateGenerator renders a plain summary without calling a model.
type TemplateGenerator struct{}

const templateModel = "template"

func (TemplateGenerator) Generate(_ context.Context, in ReportInput) (*Report, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Ranking report for %s\n", in.WebsiteDomain)

	ranked := 0
	for _, p := range in.Positions {
		if p != nil {
			ranked++
		}
	}
	fmt.Fprintf(&b, "Ranked for %d of %d tracked queries.\n", ranked, len(in.Positions))

	for _, c := range in.Competitors {
		verdict := "level with"
		switch {
		case c.Score.NetScore > 0:
			verdict = "ahead of"
		case c.Score.NetScore < 0:
			verdict = "behind"
		}
		fmt.Fprintf(&b, "%s %s (net %+d over %d queries).\n", verdict, c.Domain, c.Score.NetScore, c.Score.Total)
	}

	if in.SitemapDiff != nil {
		fmt.Fprintf(&b, "Sitemap: %d added, %d removed.\n", in.SitemapDiff.Added, in.SitemapDiff.Removed)
	}

	return &Report{Content: b.String(), Model: templateModel}, nil
}
