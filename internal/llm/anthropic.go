package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	anthropicModel     = "claude-3-5-haiku-latest"
	anthropicMaxTokens = 1024
)

type AnthropicClient struct {
	client *anthropic.Client
	model  anthropic.Model
}

func NewAnthropicClient(apiKey string, opts ...option.RequestOption) *AnthropicClient {
	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &AnthropicClient{client: &client, model: anthropic.Model(anthropicModel)}
}

func (c *AnthropicClient) complete(ctx context.Context, system, user string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && !retryableStatus(apiErr.StatusCode) {
			return "", fmt.Errorf("anthropic API error: %w", err)
		}
		return "", domain.NewTransientStoreError("anthropic messages", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic API returned no text")
	}
	return strings.TrimSpace(sb.String()), nil
}

func (c *AnthropicClient) ExtractConcepts(ctx context.Context, text string) ([]string, error) {
	result, err := c.complete(ctx, "", fmt.Sprintf(conceptPrompt, text))
	if err != nil {
		return nil, fmt.Errorf("extract concepts: %w", err)
	}
	return parseConcepts(result)
}

func (c *AnthropicClient) Generate(ctx context.Context, prompt, background string) (string, float64, error) {
	result, err := c.complete(ctx, hypothesisSystemPrompt, hypothesisMessage(prompt, background))
	if err != nil {
		return "", 0, fmt.Errorf("generate: %w", err)
	}
	return parseGeneration(result)
}
