package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// geminiTransport speaks generateContent: {contents:[{parts:[{text}]}], generationConfig}.
// The system prompt is not sent for this shape.
type geminiTransport struct {
	client *genai.Client
}

func newGeminiTransport(apiKey string, o options) (*geminiTransport, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  capturingClient(o.httpClient),
		HTTPOptions: genai.HTTPOptions{BaseURL: o.baseURL},
	})
	if err != nil {
		return nil, err
	}
	return &geminiTransport{client: client}, nil
}

func (t *geminiTransport) complete(ctx context.Context, req request) (string, error) {
	ctx, capture := withBodyCapture(ctx)
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}

	resp, err := t.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", sdkStatusError(capture, apiErr.Code, apiErr.Message)
		}
		var apiErrPtr *genai.APIError
		if errors.As(err, &apiErrPtr) {
			return "", sdkStatusError(capture, apiErrPtr.Code, apiErrPtr.Message)
		}
		return "", fmt.Errorf("gemini API error: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var content strings.Builder
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part != nil && part.Text != "" {
				content.WriteString(part.Text)
			}
		}
	}
	return content.String(), nil
}
