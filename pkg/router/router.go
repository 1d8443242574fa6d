// Package router classifies task descriptions and picks provider routes.
// Classification is lexical: configured keywords are matched against the
// task's tokens, never interpreted.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/zen-systems/agentrooms/pkg/config"
)

// DefaultProvider is the last-resort route when nothing else matched.
const DefaultProvider = "claude"

const (
	taskTypeConfidence = 0.7
	defaultConfidence  = 0.5
)

// ErrNoProviders means no configured provider is both enabled and has its
// credential set. The run cannot proceed.
var ErrNoProviders = errors.New("no providers enabled")

// Engine is an immutable classifier over the routing config and the
// environment snapshot taken at construction.
type Engine struct {
	config  *config.RoutingConfig
	enabled []string
	lookup  map[string]bool
	logger  *slog.Logger
	getenv  func(string) string
}

// Option configures an Engine.
type Option func(*Engine)

// WithGetenv replaces os.Getenv for the credential snapshot.
func WithGetenv(getenv func(string) string) Option {
	return func(e *Engine) {
		if getenv != nil {
			e.getenv = getenv
		}
	}
}

// WithLogger sets the logger for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine. It fails with ErrNoProviders when no provider is
// enabled with a credential present.
func New(cfg *config.RoutingConfig, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("routing config is required")
	}
	e := &Engine{
		config: cfg,
		lookup: make(map[string]bool),
		logger: slog.Default(),
		getenv: os.Getenv,
	}
	for _, opt := range opts {
		opt(e)
	}

	var profiles []config.ProviderProfile
	for _, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		if p.CredentialEnv == "" || e.getenv(p.CredentialEnv) == "" {
			e.logger.Debug("provider disabled: credential missing", "provider", p.Name, "env", p.CredentialEnv)
			continue
		}
		profiles = append(profiles, p)
	}
	if len(profiles) == 0 {
		return nil, ErrNoProviders
	}

	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
	for _, p := range profiles {
		e.enabled = append(e.enabled, p.Name)
		e.lookup[p.Name] = true
	}
	return e, nil
}

// Classify analyzes a task and returns ordered, deduplicated routes.
func (e *Engine) Classify(task string) *Analysis {
	keywords := ExtractKeywords(task, e.config.KeywordRules)
	taskType := InferTaskType(keywords)

	var routes []RouteDecision
	seen := make(map[string]bool)

	for _, kw := range keywords {
		rule, ok := e.config.Rule(kw)
		if !ok || !e.lookup[rule.Provider] || seen[rule.Provider] {
			continue
		}
		routes = append(routes, RouteDecision{
			Provider:   rule.Provider,
			Confidence: rule.Confidence,
			Reason:     fmt.Sprintf("Keyword '%s' matched", kw),
			Fallback:   e.availableFallback(rule.Fallback),
		})
		seen[rule.Provider] = true
	}

	if len(routes) == 0 {
		if mapping, ok := e.config.TaskTypes[taskType]; ok && e.lookup[mapping.Preferred] {
			routes = append(routes, RouteDecision{
				Provider:   mapping.Preferred,
				Confidence: taskTypeConfidence,
				Reason:     fmt.Sprintf("Task type '%s' preferred", taskType),
				Fallback:   e.availableFallback(mapping.Secondary),
			})
		}
	}

	if len(routes) == 0 && e.lookup[DefaultProvider] {
		routes = append(routes, RouteDecision{
			Provider:   DefaultProvider,
			Confidence: defaultConfidence,
			Reason:     "Default fallback",
		})
	}

	analysis := &Analysis{
		Keywords:       keywords,
		TaskType:       taskType,
		Routes:         routes,
		Parallelizable: len(routes) > 1 && e.CanRunParallel(),
	}
	e.logger.Debug("task classified",
		"keywords", keywords,
		"task_type", taskType,
		"routes", len(routes),
		"parallelizable", analysis.Parallelizable,
	)
	return analysis
}

func (e *Engine) availableFallback(name string) string {
	if name != "" && e.lookup[name] {
		return name
	}
	return ""
}

// Profile returns the profile for a provider name.
func (e *Engine) Profile(name string) (*config.ProviderProfile, bool) {
	p, ok := e.config.Profile(name)
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// IsEnabled reports whether the provider was enabled at construction.
func (e *Engine) IsEnabled(name string) bool {
	return e.lookup[name]
}

// EnabledProviders returns a snapshot of enabled provider names, by priority.
func (e *Engine) EnabledProviders() []string {
	out := make([]string, len(e.enabled))
	copy(out, e.enabled)
	return out
}

// CanRunParallel reports whether more than one provider is enabled and the
// policy allows parallel execution.
func (e *Engine) CanRunParallel() bool {
	return len(e.enabled) > 1 && e.config.Execution.ParallelEnabled()
}

// MaxParallelRooms is the configured cap bounded by the enabled provider count.
func (e *Engine) MaxParallelRooms() int {
	limit := e.config.Execution.MaxParallelRooms
	if limit <= 0 || limit > len(e.enabled) {
		return len(e.enabled)
	}
	return limit
}

// Policy returns the execution policy.
func (e *Engine) Policy() config.ExecutionPolicy {
	return e.config.Execution
}
