package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"

	defaultTimeout     = 60 * time.Second
	defaultMaxTokens   = 800
	defaultTemperature = 0.3
	serviceName        = "ai_report"
)

// ErrAPIKeyNotSet is returned when no OpenAI API key is configured.
var ErrAPIKeyNotSet = errors.New("openai api key not set")

// OpenAIGenerator generates reports with the OpenAI chat completions API.
type OpenAIGenerator struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIGenerator creates a generator. Extra request options (e.g. a base URL) are passed to the client.
func NewOpenAIGenerator(apiKey, model string, opts ...option.RequestOption) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if model == "" {
		model = DefaultModel
	}

	clientOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)

	return &OpenAIGenerator{
		client:  openai.NewClient(clientOpts...),
		model:   model,
		timeout: defaultTimeout,
	}, nil
}

// Generate asks the model for a report on in.
func (g *OpenAIGenerator) Generate(ctx context.Context, in ReportInput) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(BuildPrompt(in)),
		},
		Temperature: openai.Float(defaultTemperature),
	}
	params.MaxTokens = openai.Int(defaultMaxTokens)

	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, apperrors.NewExternal(serviceName, fmt.Errorf("openai status %d: %w", apiErr.StatusCode, err))
		}
		return nil, apperrors.NewExternal(serviceName, err)
	}

	if len(completion.Choices) == 0 {
		return nil, apperrors.NewExternal(serviceName, errors.New("empty completion"))
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return nil, apperrors.NewExternal(serviceName, errors.New("empty report content"))
	}

	return &Report{
		Content:     content,
		Model:       g.model,
		TotalTokens: completion.Usage.TotalTokens,
	}, nil
}
