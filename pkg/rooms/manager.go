// Package rooms runs a task against one provider per isolated room. Each
// execution owns one output file and one completion marker in the shared
// working directory; upstream failures are recorded, never propagated.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/agentrooms/pkg/config"
	"github.com/zen-systems/agentrooms/pkg/gateway"
	"github.com/zen-systems/agentrooms/pkg/storage"
)

const (
	idAlphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
	idSuffixLen = 6

	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 300 * time.Second
)

var (
	// ErrUnknownContext means no context is registered for the provider.
	ErrUnknownContext = errors.New("no execution context registered")
	// ErrCompleter means the completer for a provider could not be built.
	ErrCompleter      = errors.New("cannot create completer")
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Completer produces a completion for a prompt. *gateway.Gateway satisfies it.
type Completer interface {
	Execute(ctx context.Context, prompt string, opts gateway.CallOptions) (string, error)
}

// ContextConfig is the registered configuration of one provider's room.
type ContextConfig struct {
	Path          string `json:"path"`
	Model         string `json:"model"`
	CredentialEnv string `json:"credential_env"`
}

// CompleterFactory builds the completer for a provider at execution time.
type CompleterFactory func(provider string, cfg ContextConfig) (Completer, error)

// Record tracks one execution for the lifetime of the manager.
type Record struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Task      string    `json:"task"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Result is the outcome of one execution.
type Result struct {
	ExecutionID string `json:"execution_id,omitempty"`
	Provider    string `json:"provider"`
	Success     bool   `json:"success"`
	Output      string `json:"output"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	OutputFile  string `json:"output_file,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
}

// Task is one unit of work for RunParallel and RunSequential.
type Task struct {
	Provider    string
	Task        string
	AgentPrompt string
}

// Manager owns the room contexts and execution records.
type Manager struct {
	store   *storage.Store
	factory CompleterFactory

	mu       sync.RWMutex
	contexts map[string]ContextConfig
	records  map[string]*Record

	observer         Observer
	retry            config.RetryConfig
	timeout          time.Duration
	isolation        bool
	compactThreshold float64
	budgetTokens     int
	maxParallel      int
	logger           *slog.Logger
	now              func() time.Time
	seq              atomic.Uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver registers an observer for room events.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithRetry sets the retry policy for transient provider failures.
func WithRetry(cfg config.RetryConfig) Option {
	return func(m *Manager) { m.retry = cfg }
}

// WithTimeout sets the per-call deadline. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithIsolation toggles the isolation instructions in the composite prompt.
func WithIsolation(enabled bool) Option {
	return func(m *Manager) { m.isolation = enabled }
}

// WithCompaction shortens the agent prompt when the composite prompt is
// estimated above threshold*budgetTokens tokens.
func WithCompaction(threshold float64, budgetTokens int) Option {
	return func(m *Manager) {
		m.compactThreshold = threshold
		m.budgetTokens = budgetTokens
	}
}

// WithMaxParallel bounds concurrent rooms in RunParallel. Zero means unbounded.
func WithMaxParallel(n int) Option {
	return func(m *Manager) { m.maxParallel = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a manager rooted at dir, creating the directory.
func NewManager(dir string, factory CompleterFactory, opts ...Option) (*Manager, error) {
	if factory == nil {
		return nil, fmt.Errorf("completer factory is required")
	}
	store, err := storage.Open(dir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		store:     store,
		factory:   factory,
		contexts:  make(map[string]ContextConfig),
		records:   make(map[string]*Record),
		retry:     config.RetryConfig{MaxRetries: 2, BaseBackoffMs: 200, MaxBackoffMs: 2000},
		timeout:   DefaultTimeout,
		isolation: true,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Dir returns the working directory.
func (m *Manager) Dir() string {
	return m.store.BasePath
}

// RegisterContext registers or replaces the context for a provider.
func (m *Manager) RegisterContext(provider string, cfg ContextConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[provider] = cfg
}

// HasContext reports whether a provider has a registered context.
func (m *Manager) HasContext(provider string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.contexts[provider]
	return ok
}

// RunInContext executes a task in the provider's room. Preconditions
// (unregistered provider, completer construction) fail with an error and
// leave no record. Provider failures are returned as an unsuccessful Result.
func (m *Manager) RunInContext(ctx context.Context, provider, task, agentPrompt string) (*Result, error) {
	m.mu.RLock()
	cfg, ok := m.contexts[provider]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContext, provider)
	}

	completer, err := m.factory(provider, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCompleter, provider, err)
	}

	start := m.now()
	id := m.newExecutionID(provider, start)
	m.mu.Lock()
	m.records[id] = &Record{
		ID:        id,
		Provider:  provider,
		Task:      task,
		Status:    StatusRunning,
		StartedAt: start,
	}
	m.mu.Unlock()
	m.notify(ctx, Event{Type: EventStart, Provider: provider, ExecutionID: id, Task: task})

	prompt, compacted := buildPrompt(agentPrompt, task, m.isolation, m.compactLimit())
	if compacted {
		m.logger.Debug("agent prompt compacted", "provider", provider, "execution_id", id)
	}

	output, attempts, callErr := m.complete(ctx, completer, prompt)

	var outputFile string
	if callErr == nil {
		outputFile, callErr = m.store.WriteOutput(id, output)
		if callErr == nil {
			callErr = m.store.WriteMarker(id, m.now().UTC().Format(time.RFC3339))
		}
	}
	if callErr != nil {
		output = failureDocument(provider, callErr)
		var werr error
		if outputFile, werr = m.store.WriteOutput(id, output); werr != nil {
			m.logger.Error("failed to persist failure document", "execution_id", id, "error", werr)
		}
		if werr := m.store.WriteMarker(id, storage.FailedMarker); werr != nil {
			m.logger.Error("failed to persist failure marker", "execution_id", id, "error", werr)
		}
	}

	end := m.now()
	result := &Result{
		ExecutionID: id,
		Provider:    provider,
		Success:     callErr == nil,
		Output:      output,
		DurationMs:  end.Sub(start).Milliseconds(),
		OutputFile:  outputFile,
		Attempts:    attempts + 1,
	}
	if callErr != nil {
		result.Error = callErr.Error()
	}

	m.mu.Lock()
	rec := m.records[id]
	rec.EndedAt = end
	rec.Output = output
	if result.Success {
		rec.Status = StatusCompleted
	} else {
		rec.Status = StatusFailed
		rec.Error = result.Error
	}
	m.mu.Unlock()

	m.notify(ctx, Event{
		Type:        EventComplete,
		Provider:    provider,
		ExecutionID: id,
		Success:     result.Success,
		Error:       result.Error,
		DurationMs:  result.DurationMs,
	})
	return result, nil
}

// RunParallel runs every task concurrently, bounded by WithMaxParallel, and
// waits for all of them. Results are in input order. A precondition failure
// becomes a failed result for that task only.
func (m *Manager) RunParallel(ctx context.Context, tasks []Task) []*Result {
	m.notify(ctx, Event{Type: EventParallelStart, Total: len(tasks)})

	results := make([]*Result, len(tasks))
	var g errgroup.Group
	if m.maxParallel > 0 {
		g.SetLimit(m.maxParallel)
	}
	for i, t := range tasks {
		g.Go(func() error {
			results[i] = m.runOrFail(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	m.notifyBatch(ctx, EventParallelComplete, results)
	return results
}

// RunSequential runs tasks one at a time with the same contract as RunParallel.
func (m *Manager) RunSequential(ctx context.Context, tasks []Task) []*Result {
	m.notify(ctx, Event{Type: EventSequentialStart, Total: len(tasks)})

	results := make([]*Result, len(tasks))
	for i, t := range tasks {
		results[i] = m.runOrFail(ctx, t)
	}

	m.notifyBatch(ctx, EventSequentialComplete, results)
	return results
}

func (m *Manager) runOrFail(ctx context.Context, t Task) *Result {
	res, err := m.RunInContext(ctx, t.Provider, t.Task, t.AgentPrompt)
	if err != nil {
		m.logger.Warn("room not started", "provider", t.Provider, "error", err)
		return &Result{
			Provider: t.Provider,
			Success:  false,
			Output:   failureDocument(t.Provider, err),
			Error:    err.Error(),
		}
	}
	return res
}

func (m *Manager) notifyBatch(ctx context.Context, typ EventType, results []*Result) {
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	m.notify(ctx, Event{
		Type:      typ,
		Total:     len(results),
		Succeeded: succeeded,
		Failed:    len(results) - succeeded,
	})
}

// Output returns the persisted output of an execution.
func (m *Manager) Output(id string) (string, bool) {
	return m.store.ReadOutput(id)
}

// IsComplete reports whether the execution's marker file exists.
func (m *Manager) IsComplete(id string) bool {
	return m.store.HasMarker(id)
}

// Record returns a copy of an execution record.
func (m *Manager) Record(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// ListOutputs returns the names of all persisted output files.
func (m *Manager) ListOutputs() ([]string, error) {
	return m.store.ListOutputs()
}

// Cleanup deletes every output and marker file in the working directory.
func (m *Manager) Cleanup() error {
	removed, err := m.store.Cleanup()
	if err != nil {
		return err
	}
	m.logger.Info("working directory cleaned", "dir", m.store.BasePath, "removed", removed)
	return nil
}

func (m *Manager) compactLimit() int {
	if m.compactThreshold <= 0 || m.budgetTokens <= 0 {
		return 0
	}
	return int(m.compactThreshold * float64(m.budgetTokens))
}

func (m *Manager) newExecutionID(provider string, at time.Time) string {
	suffix, err := nanoid.Generate(idAlphabet, idSuffixLen)
	if err != nil {
		suffix = strconv.FormatUint(m.seq.Add(1), 36)
	}
	return fmt.Sprintf("%s-%d-%s", provider, at.UnixMilli(), suffix)
}

func (m *Manager) notify(ctx context.Context, event Event) {
	if m.observer == nil {
		return
	}
	event.Timestamp = m.now()
	m.observer.Notify(ctx, event)
}
