package sitemap

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
)

// maxSitemapBytes caps a single sitemap document (the protocol limit is 50MB uncompressed).
const maxSitemapBytes = 50 << 20

// defaultMaxChildren bounds how many child sitemaps of an index are followed.
const defaultMaxChildren = 50

// Document is one fetched sitemap file.
type Document struct {
	URL  string
	Body []byte
}

// FetchResult is the merged URL set of a sitemap plus the raw documents it came from.
type FetchResult struct {
	SourceURL string
	URLs      []string
	Documents []Document
}

// HTTPFetcher fetches sitemaps, following one level of sitemap index.
type HTTPFetcher struct {
	client      *http.Client
	userAgent   string
	maxChildren int
}

// NewHTTPFetcher creates a fetcher backed by client.
func NewHTTPFetcher(client *http.Client, userAgent string) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, userAgent: userAgent, maxChildren: defaultMaxChildren}
}

// Fetch downloads sourceURL. A sitemap index is expanded into its children's URLs;
// nested indexes below the first level are ignored.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL string) (*FetchResult, error) {
	body, err := f.get(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	result := &FetchResult{
		SourceURL: sourceURL,
		Documents: []Document{{URL: sourceURL, Body: body}},
	}

	kind, err := DetectKind(body)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindURLSet:
		urls, parseErr := ParseURLSet(body)
		if parseErr != nil {
			return nil, parseErr
		}
		result.URLs = urls
	case KindIndex:
		children, parseErr := ParseIndex(body)
		if parseErr != nil {
			return nil, parseErr
		}
		if len(children) > f.maxChildren {
			children = children[:f.maxChildren]
		}
		for _, child := range children {
			childBody, getErr := f.get(ctx, child)
			if getErr != nil {
				return nil, getErr
			}
			urls, parseErr := ParseURLSet(childBody)
			if parseErr != nil {
				return nil, fmt.Errorf("child sitemap %s: %w", child, parseErr)
			}
			result.Documents = append(result.Documents, Document{URL: child, Body: childBody})
			result.URLs = append(result.URLs, urls...)
		}
	default:
		return nil, apperrors.NewValidation("sitemap", "%s is neither a urlset nor a sitemap index", sourceURL)
	}

	return result, nil
}

func (f *HTTPFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("sitemap fetcher new request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperrors.NewExternal("sitemap_fetch", err)
	}
	defer resp.Body.Close()

	if httpErr := apperrors.ParseHTTPError(resp); httpErr != nil {
		return nil, apperrors.NewExternal("sitemap_fetch", httpErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return nil, apperrors.NewExternal("sitemap_fetch", fmt.Errorf("read body: %w", err))
	}
	return body, nil
}
