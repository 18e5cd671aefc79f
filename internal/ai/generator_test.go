package ai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/ai"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/scoring"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/sitemap"
)

func pos(n int) *int { return &n }

func sampleInput() ai.ReportInput {
	return ai.ReportInput{
		WebsiteDomain: "example.com",
		Positions:     scoring.Positions{"shoes": pos(3), "hats": nil},
		Competitors: []ai.CompetitorSummary{
			{Domain: "rival.com", Score: scoring.Result{Better: 1, Worse: 1, Total: 2}},
			{Domain: "leader.com", Score: scoring.Result{Worse: 2, Total: 2, NetScore: -2}},
		},
		SitemapDiff: &sitemap.Summary{Added: 4, Removed: 1, Unchanged: 20},
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	prompt := ai.BuildPrompt(sampleInput())

	assert.Contains(t, prompt, "example.com")
	assert.Contains(t, prompt, "- hats: not ranked\n- shoes: #3")
	assert.Contains(t, prompt, "- leader.com: 0/2/2, net -2")
	assert.Contains(t, prompt, "4 added, 1 removed, 20 unchanged")
}

func TestTemplateGenerator(t *testing.T) {
	t.Parallel()

	report, err := ai.TemplateGenerator{}.Generate(context.Background(), sampleInput())
	require.NoError(t, err)

	assert.Equal(t, "template", report.Model)
	assert.Contains(t, report.Content, "Ranked for 1 of 2 tracked queries.")
	assert.Contains(t, report.Content, "level with rival.com")
	assert.Contains(t, report.Content, "behind leader.com (net -2 over 2 queries)")
}

func TestNewOpenAIGenerator_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := ai.NewOpenAIGenerator("", "")
	require.ErrorIs(t, err, ai.ErrAPIKeyNotSet)
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  Focus on hats.  "}}],
			"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}
		}`))
	}))
	defer srv.Close()

	gen, err := ai.NewOpenAIGenerator("sk-test", "gpt-test", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	require.NoError(t, err)

	report, err := gen.Generate(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "Focus on hats.", report.Content)
	assert.Equal(t, "gpt-test", report.Model)
	assert.Equal(t, int64(15), report.TotalTokens)
}

func TestOpenAIGenerator_Generate_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	gen, err := ai.NewOpenAIGenerator("sk-test", "", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), sampleInput())

	var extErr *apperrors.ExternalServiceError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "ai_report", extErr.Service)
}
