package serp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
)

const (
	defaultBaseURL = "https://serpapi.com/search.json"
	defaultTimeout = 30 * time.Second
	defaultEngine  = "google"
	serviceName    = "serp_fetch"
	maxBodyBytes   = 10 << 20
)

// Config configures the SERP API client.
type Config struct {
	BaseURL string
	APIKey  string
	Engine  string
	Timeout time.Duration
	// RequestsPerSecond caps outbound searches. Zero means unlimited.
	RequestsPerSecond float64
	Burst             int
}

// Client fetches organic results from a SerpApi-compatible JSON endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a SERP client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Engine == "" {
		cfg.Engine = defaultEngine
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{cfg: cfg, httpClient: httpClient, limiter: limiter}
}

type searchResponse struct {
	Error          string          `json:"error"`
	OrganicResults []organicResult `json:"organic_results"`
}

type organicResult struct {
	Position int    `json:"position"`
	Link     string `json:"link"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
}

// Search returns the ranked organic results for req, ordered by position.
func (c *Client) Search(ctx context.Context, req domain.SerpRequest) ([]domain.SerpEntry, error) {
	if req.Query == "" {
		return nil, apperrors.NewValidation("query", "is required")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("serp rate limit: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL(req), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("serp new request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewExternal(serviceName, err)
	}
	defer resp.Body.Close()

	if httpErr := apperrors.ParseHTTPError(resp); httpErr != nil {
		return nil, apperrors.NewExternal(serviceName, httpErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.NewExternal(serviceName, fmt.Errorf("read body: %w", err))
	}

	var parsed searchResponse
	if err = json.Unmarshal(body, &parsed); err != nil {
		return nil, apperrors.NewExternal(serviceName, fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != "" {
		return nil, apperrors.NewExternal(serviceName, fmt.Errorf("api error: %s", parsed.Error))
	}

	entries := make([]domain.SerpEntry, 0, len(parsed.OrganicResults))
	for i, r := range parsed.OrganicResults {
		position := r.Position
		if position <= 0 {
			position = i + 1
		}
		entries = append(entries, domain.SerpEntry{
			Position: position,
			URL:      r.Link,
			Domain:   EntryDomain("", r.Link),
			Title:    r.Title,
			Snippet:  r.Snippet,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Position < entries[j].Position })

	if req.NumResults > 0 && len(entries) > req.NumResults {
		entries = entries[:req.NumResults]
	}
	return entries, nil
}

func (c *Client) searchURL(req domain.SerpRequest) string {
	q := url.Values{}
	q.Set("engine", c.cfg.Engine)
	q.Set("q", req.Query)
	if req.Country != "" {
		q.Set("gl", req.Country)
	}
	if req.Language != "" {
		q.Set("hl", req.Language)
	}
	if req.Device != "" {
		q.Set("device", req.Device)
	}
	if req.NumResults > 0 {
		q.Set("num", strconv.Itoa(req.NumResults))
	}
	if c.cfg.APIKey != "" {
		q.Set("api_key", c.cfg.APIKey)
	}
	return c.cfg.BaseURL + "?" + q.Encode()
}
