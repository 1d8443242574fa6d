// Package orchestrator wires routing, room execution and synthesis into a
// single run: analyze the task, execute the chosen routes, merge the outputs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zen-systems/agentrooms/pkg/config"
	"github.com/zen-systems/agentrooms/pkg/gateway"
	"github.com/zen-systems/agentrooms/pkg/prompts"
	"github.com/zen-systems/agentrooms/pkg/rooms"
	"github.com/zen-systems/agentrooms/pkg/router"
	"github.com/zen-systems/agentrooms/pkg/storage"
	"github.com/zen-systems/agentrooms/pkg/synthesis"
)

// FallbackNone disables fallback execution.
const FallbackNone = "none"

// ErrProviderNotEnabled means a requested provider is unknown or disabled.
var ErrProviderNotEnabled = errors.New("provider not enabled")

// RunOptions controls a single run.
type RunOptions struct {
	// Sequential forces one room at a time.
	Sequential bool
	// Providers overrides the routing decision when non-empty.
	Providers []string
	// SkipSynthesis leaves the outputs unmerged.
	SkipSynthesis bool
}

// Report is the outcome of a run.
type Report struct {
	Analysis    *router.Analysis `json:"analysis"`
	Parallel    bool             `json:"parallel"`
	Results     []*rooms.Result  `json:"results"`
	Fallbacks   []*rooms.Result  `json:"fallbacks,omitempty"`
	FinalOutput string           `json:"final_output,omitempty"`
}

// Succeeded counts successful results, fallbacks included.
func (r *Report) Succeeded() int {
	n := 0
	for _, set := range [][]*rooms.Result{r.Results, r.Fallbacks} {
		for _, res := range set {
			if res.Success {
				n++
			}
		}
	}
	return n
}

type options struct {
	factory  rooms.CompleterFactory
	observer rooms.Observer
	logger   *slog.Logger
	getenv   func(string) string
}

// Option configures an Orchestrator.
type Option func(*options)

// WithCompleterFactory replaces the gateway-backed completer factory.
func WithCompleterFactory(f rooms.CompleterFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithObserver receives room events.
func WithObserver(obs rooms.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger sets the logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithGetenv replaces os.Getenv for provider availability.
func WithGetenv(getenv func(string) string) Option {
	return func(o *options) { o.getenv = getenv }
}

// Orchestrator runs tasks end to end.
type Orchestrator struct {
	cfg     *config.Config
	router  *router.Engine
	prompts *prompts.Library
	synth   *synthesis.Engine
	opts    options

	mu      sync.Mutex
	manager *rooms.Manager
}

// New builds the router, prompt library and synthesis engine. The room
// manager, and with it the working directory, is created on first use so
// that analysis never touches storage.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil || cfg.RoutingConfig == nil {
		return nil, fmt.Errorf("routing config is required")
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	routerOpts := []router.Option{router.WithLogger(o.logger)}
	if o.getenv != nil {
		routerOpts = append(routerOpts, router.WithGetenv(o.getenv))
	}
	engine, err := router.New(cfg.RoutingConfig, routerOpts...)
	if err != nil {
		return nil, err
	}

	library, err := prompts.NewLibrary(cfg.PromptDir, 0)
	if err != nil {
		return nil, err
	}

	if o.factory == nil {
		o.factory = gatewayFactory(cfg.RoutingConfig.Registry())
	}

	return &Orchestrator{
		cfg:     cfg,
		router:  engine,
		prompts: library,
		synth:   synthesis.NewEngine(cfg.WorkDir, synthesis.WithLogger(o.logger)),
		opts:    o,
	}, nil
}

// gatewayFactory builds a provider gateway per execution from the registry.
func gatewayFactory(reg config.Registry) rooms.CompleterFactory {
	return func(provider string, cfg rooms.ContextConfig) (rooms.Completer, error) {
		return gateway.New(provider, reg, gateway.WithModel(cfg.Model))
	}
}

// Router returns the routing engine.
func (o *Orchestrator) Router() *router.Engine {
	return o.router
}

// Synthesis returns the synthesis engine.
func (o *Orchestrator) Synthesis() *synthesis.Engine {
	return o.synth
}

// Analyze classifies a task without calling any provider or touching storage.
func (o *Orchestrator) Analyze(task string) *router.Analysis {
	return o.router.Classify(task)
}

// Manager returns the room manager, creating the working directory and
// registering a context for every enabled provider on first call.
func (o *Orchestrator) Manager() (*rooms.Manager, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.manager != nil {
		return o.manager, nil
	}

	rc := o.cfg.RoutingConfig
	policy := o.router.Policy()
	m, err := rooms.NewManager(o.cfg.WorkDir, o.opts.factory,
		rooms.WithObserver(o.opts.observer),
		rooms.WithRetry(rc.Retry),
		rooms.WithTimeout(time.Duration(policy.TimeoutSeconds)*time.Second),
		rooms.WithIsolation(policy.IsolationEnabled()),
		rooms.WithCompaction(policy.AutoCompactThreshold, policy.ContextBudgetTokens),
		rooms.WithMaxParallel(o.router.MaxParallelRooms()),
		rooms.WithLogger(o.opts.logger),
	)
	if err != nil {
		return nil, err
	}

	for _, name := range o.router.EnabledProviders() {
		profile, _ := o.router.Profile(name)
		m.RegisterContext(name, rooms.ContextConfig{
			Path:          profile.ContextPath,
			Model:         o.resolveModel(profile.Model),
			CredentialEnv: profile.CredentialEnv,
		})
	}
	o.manager = m
	return m, nil
}

func (o *Orchestrator) resolveModel(model string) string {
	if o.cfg.Aliases == nil {
		return model
	}
	return o.cfg.Aliases.Resolve(model)
}

// Run analyzes the task, executes its routes and synthesizes the outputs.
// Provider failures are reported in the results; only preconditions such as
// an unknown requested provider return an error.
func (o *Orchestrator) Run(ctx context.Context, task string, opts RunOptions) (*Report, error) {
	analysis := o.Analyze(task)
	routes := analysis.Routes
	if len(opts.Providers) > 0 {
		var err error
		if routes, err = o.requestedRoutes(opts.Providers); err != nil {
			return nil, err
		}
	}

	report := &Report{Analysis: analysis}
	if len(routes) == 0 {
		o.opts.logger.Warn("no routes for task, nothing to execute")
		return report, nil
	}

	m, err := o.Manager()
	if err != nil {
		return nil, err
	}

	tasks := make([]rooms.Task, len(routes))
	for i, r := range routes {
		tasks[i] = o.roomTask(r.Provider, task)
	}

	report.Parallel = len(routes) > 1 && o.router.CanRunParallel() && !opts.Sequential
	report.Results = o.execute(ctx, m, tasks, report.Parallel)
	report.Fallbacks = o.runFallbacks(ctx, m, task, routes, report.Results, report.Parallel)

	if opts.SkipSynthesis {
		return report, nil
	}
	path, err := o.synth.Run()
	if err != nil {
		return report, fmt.Errorf("synthesize: %w", err)
	}
	report.FinalOutput = path
	return report, nil
}

func (o *Orchestrator) execute(ctx context.Context, m *rooms.Manager, tasks []rooms.Task, parallel bool) []*rooms.Result {
	if parallel {
		return m.RunParallel(ctx, tasks)
	}
	return m.RunSequential(ctx, tasks)
}

// runFallbacks re-runs failed routes on their fallback provider, once, unless
// the fallback already ran as a route of its own.
func (o *Orchestrator) runFallbacks(ctx context.Context, m *rooms.Manager, task string, routes []router.RouteDecision, results []*rooms.Result, parallel bool) []*rooms.Result {
	if o.router.Policy().FallbackStrategy == FallbackNone {
		return nil
	}

	scheduled := make(map[string]bool, len(routes))
	for _, r := range routes {
		scheduled[r.Provider] = true
	}

	var tasks []rooms.Task
	for i, res := range results {
		fb := routes[i].Fallback
		if res.Success || fb == "" || scheduled[fb] {
			continue
		}
		scheduled[fb] = true
		o.opts.logger.Info("running fallback", "provider", res.Provider, "fallback", fb)
		tasks = append(tasks, o.roomTask(fb, task))
	}
	if len(tasks) == 0 {
		return nil
	}
	return o.execute(ctx, m, tasks, parallel && len(tasks) > 1)
}

func (o *Orchestrator) roomTask(provider, task string) rooms.Task {
	agent := ""
	if profile, ok := o.router.Profile(provider); ok {
		agent = profile.Agent
	}
	return rooms.Task{
		Provider:    provider,
		Task:        task,
		AgentPrompt: o.prompts.GetOrDefault(agent),
	}
}

func (o *Orchestrator) requestedRoutes(providers []string) ([]router.RouteDecision, error) {
	seen := make(map[string]bool, len(providers))
	var routes []router.RouteDecision
	for _, name := range providers {
		if seen[name] {
			continue
		}
		if !o.router.IsEnabled(name) {
			return nil, fmt.Errorf("%w: %s", ErrProviderNotEnabled, name)
		}
		seen[name] = true

		route := router.RouteDecision{Provider: name, Confidence: 1, Reason: "Requested explicitly"}
		if profile, ok := o.router.Profile(name); ok && o.router.IsEnabled(profile.Fallback) {
			route.Fallback = profile.Fallback
		}
		routes = append(routes, route)
	}
	return routes, nil
}

// Outputs lists persisted output file names without creating the working
// directory.
func (o *Orchestrator) Outputs() ([]string, error) {
	return storage.At(o.cfg.WorkDir).ListOutputs()
}

// Cleanup removes every output and marker file and returns how many were
// removed. The final report is kept.
func (o *Orchestrator) Cleanup() (int, error) {
	return storage.At(o.cfg.WorkDir).Cleanup()
}
