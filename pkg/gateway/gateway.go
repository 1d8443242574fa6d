// Package gateway gives every LLM provider the same call interface. The
// provider-specific request and response shapes live behind a transport chosen
// from the endpoint registry.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"

	"github.com/zen-systems/agentrooms/pkg/config"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 4096
)

// CallOptions tunes a single completion call.
type CallOptions struct {
	// Temperature defaults to 0.7 when nil.
	Temperature *float64
	// MaxTokens defaults to 4096 when zero.
	MaxTokens int
	// System is sent only when non-empty.
	System string
}

func (o CallOptions) temperature() float64 {
	if o.Temperature == nil {
		return defaultTemperature
	}
	return *o.Temperature
}

func (o CallOptions) maxTokens() int {
	if o.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return o.MaxTokens
}

type request struct {
	Model       string
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
}

type transport interface {
	complete(ctx context.Context, req request) (string, error)
}

// Gateway is bound to one provider for its lifetime.
type Gateway struct {
	provider  string
	endpoint  config.Endpoint
	model     string
	transport transport
}

type options struct {
	httpClient *http.Client
	model      string
	baseURL    string
}

// Option configures a Gateway.
type Option func(*options)

// WithHTTPClient sets the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithModel overrides the endpoint's default model.
func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseURL overrides the endpoint's base URL.
func WithBaseURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.baseURL = url
		}
	}
}

// New creates a gateway for the named provider. The provider must be in the
// registry and its credential must be present in the environment.
func New(provider string, reg config.Registry, opts ...Option) (*Gateway, error) {
	ep, ok := reg[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	apiKey := ""
	if ep.CredentialEnv != "" {
		apiKey = os.Getenv(ep.CredentialEnv)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s requires %s", ErrMissingCredential, provider, ep.CredentialEnv)
	}

	o := options{
		httpClient: &http.Client{},
		model:      ep.DefaultModel,
		baseURL:    ep.BaseURL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var t transport
	var err error
	switch ep.Shape {
	case config.ShapeAnthropic:
		t = newAnthropicTransport(apiKey, o)
	case config.ShapeOpenAI:
		t = newOpenAITransport(apiKey, o)
	case config.ShapeCompat:
		t = newCompatTransport(provider, apiKey, o)
	case config.ShapeGemini:
		t, err = newGeminiTransport(apiKey, o)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s client: %w", provider, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q has unsupported shape %q", ErrUnknownProvider, provider, ep.Shape)
	}

	return &Gateway{
		provider:  provider,
		endpoint:  ep,
		model:     o.model,
		transport: t,
	}, nil
}

// Provider returns the provider this gateway is bound to.
func (g *Gateway) Provider() string {
	return g.provider
}

// Model returns the model used for calls.
func (g *Gateway) Model() string {
	return g.model
}

// Execute sends the prompt and returns the text completion. Failures are
// returned as-is; retrying is up to the caller.
func (g *Gateway) Execute(ctx context.Context, prompt string, opts CallOptions) (string, error) {
	text, err := g.transport.complete(ctx, request{
		Model:       g.model,
		Prompt:      prompt,
		System:      opts.System,
		Temperature: opts.temperature(),
		MaxTokens:   opts.maxTokens(),
	})
	if err == nil {
		return text, nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Provider == "" {
		statusErr.Provider = g.provider
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: %s: %w", ErrTimeout, g.provider, err)
	}
	return "", err
}

// IsAvailable reports whether the provider is registered and its credential
// is currently set.
func IsAvailable(reg config.Registry, provider string) bool {
	ep, ok := reg[provider]
	if !ok || ep.CredentialEnv == "" {
		return false
	}
	return os.Getenv(ep.CredentialEnv) != ""
}

// Available lists the currently available providers, sorted by name.
func Available(reg config.Registry) []string {
	var names []string
	for name := range reg {
		if IsAvailable(reg, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
