package gateway

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Mock returns deterministic completions for local runs and tests.
type Mock struct {
	responses       map[string]string
	keys            []string
	defaultResponse string
	// Err, when set, is returned from every call.
	Err error

	mu      sync.Mutex
	prompts []string
}

// NewMock creates a mock with a default response.
func NewMock() *Mock {
	return &Mock{
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockWithResponses creates a mock that answers with the response of the
// longest key contained in the prompt. Equal-length keys are tried in
// lexical order.
func NewMockWithResponses(responses map[string]string, defaultResponse string) *Mock {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	keys := make([]string, 0, len(responses))
	for key := range responses {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return &Mock{responses: responses, keys: keys, defaultResponse: defaultResponse}
}

// Execute returns a deterministic completion for the prompt.
func (m *Mock) Execute(ctx context.Context, prompt string, _ CallOptions) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	for _, key := range m.keys {
		if strings.Contains(prompt, key) {
			return m.responses[key], nil
		}
	}
	return fmt.Sprintf("%s\n%s", m.defaultResponse, prompt), nil
}

// Prompts returns every prompt received so far.
func (m *Mock) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}
