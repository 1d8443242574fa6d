package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicTransport speaks the Messages API: {model, max_tokens, messages, system?}.
type anthropicTransport struct {
	client anthropic.Client
}

func newAnthropicTransport(apiKey string, o options) *anthropicTransport {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(capturingClient(o.httpClient)),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		opts = append(opts, option.WithBaseURL(o.baseURL))
	}
	return &anthropicTransport{client: anthropic.NewClient(opts...)}
}

func (t *anthropicTransport) complete(ctx context.Context, req request) (string, error) {
	ctx, capture := withBodyCapture(ctx)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := t.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", sdkStatusError(capture, apiErr.StatusCode, apiErr.RawJSON())
		}
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("anthropic returned no content")
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return content.String(), nil
}
