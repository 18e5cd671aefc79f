// Package extract fetches product pages and pulls on-page SEO signals out of their HTML.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultUserAgent   = "Mozilla/5.0 (compatible; North-Cloud-RankTracker/1.0)"
	maxPageBytes       = 10 << 20
	serviceName        = "page_fetch"
)

// Extractor fetches pages and extracts title, meta description, canonical, headings and word count.
type Extractor struct {
	client    *http.Client
	userAgent string
}

// NewExtractor creates an extractor. A nil client gets a default with a 30s timeout.
func NewExtractor(client *http.Client, userAgent string) *Extractor {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Extractor{client: client, userAgent: userAgent}
}

// FetchPage downloads the raw HTML at pageURL.
func (e *Extractor) FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperrors.NewExternal(serviceName, err)
	}
	defer resp.Body.Close()

	if httpErr := apperrors.ParseHTTPError(resp); httpErr != nil {
		return nil, apperrors.NewExternal(serviceName, httpErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, apperrors.NewExternal(serviceName, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

// Extract parses html and returns its on-page signals.
func (e *Extractor) Extract(html []byte, pageURL string) (*domain.PageExtraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	out := &domain.PageExtraction{
		URL:             pageURL,
		Title:           extractTitle(doc),
		MetaDescription: metaContent(doc, "meta[name='description']", "meta[property='og:description']"),
		H1:              headingTexts(doc, "h1"),
		H2:              headingTexts(doc, "h2"),
	}

	if canonical, ok := doc.Find("link[rel='canonical']").First().Attr("href"); ok {
		out.Canonical = strings.TrimSpace(canonical)
	}

	body := doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	out.WordCount = len(strings.Fields(body.Text()))

	return out, nil
}

func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return metaContent(doc, "meta[property='og:title']")
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func headingTexts(doc *goquery.Document, tag string) []string {
	texts := []string{}
	doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			texts = append(texts, t)
		}
	})
	return texts
}
