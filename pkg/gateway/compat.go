package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// compatTransport implements the OpenAI-compatible chat format over plain
// HTTP for providers without an SDK of their own (xAI, DeepSeek).
type compatTransport struct {
	provider   string
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type compatRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Messages    []compatMessage `json:"messages"`
}

type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type compatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

func newCompatTransport(provider, apiKey string, o options) *compatTransport {
	return &compatTransport{
		provider:   provider,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(o.baseURL, "/"),
		httpClient: o.httpClient,
	}
}

func (t *compatTransport) complete(ctx context.Context, req request) (string, error) {
	body := compatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, compatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, compatMessage{Role: "user", Content: req.Prompt})

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s API request failed: %w", t.provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Provider: t.provider, Status: resp.StatusCode, Body: string(respBody)}
	}

	var parsed compatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%s API error: %s (type: %s, code: %s)",
			t.provider, parsed.Error.Message, parsed.Error.Type, parsed.Error.Code)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", t.provider)
	}

	return parsed.Choices[0].Message.Content, nil
}
