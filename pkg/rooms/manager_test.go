package rooms

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/testboil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/agentrooms/pkg/config"
	"github.com/zen-systems/agentrooms/pkg/gateway"
	"github.com/zen-systems/agentrooms/pkg/storage"
)

type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Execute(ctx context.Context, prompt string, _ gateway.CallOptions) (string, error) {
	return f(ctx, prompt)
}

// factoryOf maps provider names to completers; unknown names fail construction.
func factoryOf(completers map[string]Completer) CompleterFactory {
	return func(provider string, _ ContextConfig) (Completer, error) {
		c, ok := completers[provider]
		if !ok {
			return nil, gateway.ErrMissingCredential
		}
		return c, nil
	}
}

func fastRetry() Option {
	return WithRetry(config.RetryConfig{MaxRetries: 2, BaseBackoffMs: 1, MaxBackoffMs: 2})
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Notify(_ context.Context, e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func TestNewManagerCreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/work"
	m, err := NewManager(dir, factoryOf(nil))
	require.NoError(t, err)
	assert.DirExists(t, m.Dir())
}

func TestRunInContextSuccess(t *testing.T) {
	events := &eventLog{}
	mock := gateway.NewMockWithResponses(map[string]string{"Build": "# Done\n\nAll good."}, "")
	m, err := NewManager(t.TempDir(), factoryOf(map[string]Completer{"claude": mock}), WithObserver(events))
	require.NoError(t, err)
	m.RegisterContext("claude", ContextConfig{Model: "m"})

	res, err := m.RunInContext(context.Background(), "claude", "Build a CLI", "You are a careful engineer.")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "# Done\n\nAll good.", res.Output)
	assert.Equal(t, 1, res.Attempts)
	assert.True(t, strings.HasPrefix(res.ExecutionID, "claude-"))
	assert.FileExists(t, res.OutputFile)

	provider, _, err := storage.ParseOutputFilename(storage.OutputFilename(res.ExecutionID))
	require.NoError(t, err)
	assert.Equal(t, "claude", provider)

	assert.True(t, m.IsComplete(res.ExecutionID))
	marker, err := os.ReadFile(storage.At(m.Dir()).MarkerPath(res.ExecutionID))
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339, string(marker))
	assert.NoError(t, err, "marker should hold an RFC3339 timestamp")

	out, ok := m.Output(res.ExecutionID)
	require.True(t, ok)
	assert.Equal(t, res.Output, out)

	rec, ok := m.Record(res.ExecutionID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.False(t, rec.EndedAt.IsZero())

	prompts := mock.Prompts()
	require.Len(t, prompts, 1)
	prompt := prompts[0]
	assert.True(t, strings.HasPrefix(prompt, "You are a careful engineer."))
	assert.Contains(t, prompt, "isolated execution room")
	assert.Contains(t, prompt, "Build a CLI")
	assert.Contains(t, prompt, "Recommendations")
	assert.Less(t, strings.Index(prompt, "isolated"), strings.Index(prompt, "Build a CLI"))

	require.Len(t, events.ofType(EventStart), 1)
	complete := events.ofType(EventComplete)
	require.Len(t, complete, 1)
	assert.True(t, complete[0].Success)
}

func TestRunInContextFailure(t *testing.T) {
	mock := gateway.NewMock()
	mock.Err = &gateway.StatusError{Provider: "openai", Status: 401, Body: "invalid key"}
	m, err := NewManager(t.TempDir(), factoryOf(map[string]Completer{"openai": mock}), fastRetry())
	require.NoError(t, err)
	m.RegisterContext("openai", ContextConfig{})

	res, err := m.RunInContext(context.Background(), "openai", "task", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid key")
	assert.True(t, strings.HasPrefix(res.Output, "# Execution Failed"))
	assert.Contains(t, res.Output, "openai")
	// Non-transient errors are not retried.
	assert.Len(t, mock.Prompts(), 1)

	marker, err := os.ReadFile(storage.At(m.Dir()).MarkerPath(res.ExecutionID))
	require.NoError(t, err)
	assert.Equal(t, storage.FailedMarker, string(marker))

	rec, ok := m.Record(res.ExecutionID)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, res.Error, rec.Error)
}

func TestRunInContextPreconditions(t *testing.T) {
	m, err := NewManager(t.TempDir(), factoryOf(nil))
	require.NoError(t, err)

	_, err = m.RunInContext(context.Background(), "ghost", "task", "")
	require.ErrorIs(t, err, ErrUnknownContext)

	m.RegisterContext("grok", ContextConfig{CredentialEnv: "XAI_API_KEY"})
	_, err = m.RunInContext(context.Background(), "grok", "task", "")
	require.ErrorIs(t, err, ErrCompleter)
	require.ErrorIs(t, err, gateway.ErrMissingCredential)

	names, err := m.ListOutputs()
	require.NoError(t, err)
	assert.Empty(t, names, "preconditions must not create files")
}

func TestRunInContextRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	flaky := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		if calls.Add(1) < 3 {
			return "", &gateway.StatusError{Status: 503, Body: "busy"}
		}
		return "finally", nil
	})
	m, err := NewManager(t.TempDir(), factoryOf(map[string]Completer{"gemini": flaky}), fastRetry())
	require.NoError(t, err)
	m.RegisterContext("gemini", ContextConfig{})

	res, err := m.RunInContext(context.Background(), "gemini", "task", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "finally", res.Output)
	assert.Equal(t, 3, res.Attempts)
}

func TestRunInContextTimeout(t *testing.T) {
	stuck := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	m, err := NewManager(t.TempDir(), factoryOf(map[string]Completer{"grok": stuck}),
		WithTimeout(20*time.Millisecond),
		WithRetry(config.RetryConfig{}),
	)
	require.NoError(t, err)
	m.RegisterContext("grok", ContextConfig{})

	res, err := m.RunInContext(context.Background(), "grok", "task", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, context.DeadlineExceeded.Error())
}

func TestRunInContextReturnsOnCancel(t *testing.T) {
	stuck := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	m, err := NewManager(t.TempDir(), factoryOf(map[string]Completer{"grok": stuck}), WithTimeout(0))
	require.NoError(t, err)
	m.RegisterContext("grok", ContextConfig{})

	testboil.ReturnsOnContextCancel(t, func(ctx context.Context) {
		_, _ = m.RunInContext(ctx, "grok", "task", "")
	}, time.Second)
}

func TestRunInContextWithoutIsolation(t *testing.T) {
	mock := gateway.NewMock()
	m, err := NewManager(t.TempDir(), factoryOf(map[string]Completer{"claude": mock}), WithIsolation(false))
	require.NoError(t, err)
	m.RegisterContext("claude", ContextConfig{})

	_, err = m.RunInContext(context.Background(), "claude", "task", "agent")
	require.NoError(t, err)
	assert.NotContains(t, mock.Prompts()[0], "isolated execution room")
}

func TestRunInContextCompactsAgentPrompt(t *testing.T) {
	mock := gateway.NewMock()
	m, err := NewManager(t.TempDir(), factoryOf(map[string]Completer{"claude": mock}), WithCompaction(0.5, 1000))
	require.NoError(t, err)
	m.RegisterContext("claude", ContextConfig{})

	agent := strings.Repeat("line of agent guidance\n", 200)
	_, err = m.RunInContext(context.Background(), "claude", "the task", agent)
	require.NoError(t, err)

	prompt := mock.Prompts()[0]
	assert.Contains(t, prompt, "[Agent prompt truncated to fit context budget]")
	assert.Contains(t, prompt, "the task")
	assert.Less(t, len(prompt), len(agent))
}

func TestRunParallelWithUnregisteredProvider(t *testing.T) {
	events := &eventLog{}
	completers := map[string]Completer{
		"claude": gateway.NewMockWithResponses(nil, "claude says"),
		"gemini": gateway.NewMockWithResponses(nil, "gemini says"),
	}
	m, err := NewManager(t.TempDir(), factoryOf(completers), WithObserver(events), WithMaxParallel(2))
	require.NoError(t, err)
	m.RegisterContext("claude", ContextConfig{})
	m.RegisterContext("gemini", ContextConfig{})

	results := m.RunParallel(context.Background(), []Task{
		{Provider: "claude", Task: "one"},
		{Provider: "openai", Task: "two"},
		{Provider: "gemini", Task: "three"},
	})

	require.Len(t, results, 3)
	assert.Equal(t, "claude", results[0].Provider)
	assert.True(t, results[0].Success)
	assert.Equal(t, "openai", results[1].Provider)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, ErrUnknownContext.Error())
	assert.Equal(t, "gemini", results[2].Provider)
	assert.True(t, results[2].Success)

	start := events.ofType(EventParallelStart)
	require.Len(t, start, 1)
	assert.Equal(t, 3, start[0].Total)
	done := events.ofType(EventParallelComplete)
	require.Len(t, done, 1)
	assert.Equal(t, 3, done[0].Total)
	assert.Equal(t, 2, done[0].Succeeded)
	assert.Equal(t, 1, done[0].Failed)
}

func TestRunParallelRespectsLimit(t *testing.T) {
	var running, peak atomic.Int32
	slow := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return "ok", nil
	})
	m, err := NewManager(t.TempDir(), factoryOf(map[string]Completer{"claude": slow}), WithMaxParallel(2))
	require.NoError(t, err)
	m.RegisterContext("claude", ContextConfig{})

	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = Task{Provider: "claude", Task: "t"}
	}
	results := m.RunParallel(context.Background(), tasks)

	ids := make(map[string]bool)
	for _, r := range results {
		require.True(t, r.Success)
		assert.False(t, ids[r.ExecutionID], "execution ids must be unique")
		ids[r.ExecutionID] = true
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunSequentialOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string) Completer {
		return completerFunc(func(ctx context.Context, prompt string) (string, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		})
	}
	events := &eventLog{}
	m, err := NewManager(t.TempDir(), factoryOf(map[string]Completer{"a": record("a"), "b": record("b")}), WithObserver(events))
	require.NoError(t, err)
	m.RegisterContext("a", ContextConfig{})
	m.RegisterContext("b", ContextConfig{})

	results := m.RunSequential(context.Background(), []Task{{Provider: "b"}, {Provider: "a"}})
	require.Len(t, results, 2)
	assert.Equal(t, []string{"b", "a"}, order)
	assert.Equal(t, "b", results[0].Output)

	assert.Empty(t, events.ofType(EventParallelStart))
	assert.Empty(t, events.ofType(EventParallelComplete))
	require.Len(t, events.ofType(EventSequentialStart), 1)
	done := events.ofType(EventSequentialComplete)
	require.Len(t, done, 1)
	assert.Equal(t, 2, done[0].Succeeded)
}

func TestRegisterContextIsUpsert(t *testing.T) {
	var seen ContextConfig
	factory := func(provider string, cfg ContextConfig) (Completer, error) {
		seen = cfg
		return gateway.NewMock(), nil
	}
	m, err := NewManager(t.TempDir(), factory)
	require.NoError(t, err)

	m.RegisterContext("claude", ContextConfig{Model: "old"})
	m.RegisterContext("claude", ContextConfig{Model: "new"})
	assert.True(t, m.HasContext("claude"))

	_, err = m.RunInContext(context.Background(), "claude", "t", "")
	require.NoError(t, err)
	assert.Equal(t, "new", seen.Model)
}

func TestCleanupIsIdempotent(t *testing.T) {
	m, err := NewManager(t.TempDir(), factoryOf(map[string]Completer{"claude": gateway.NewMock()}))
	require.NoError(t, err)
	m.RegisterContext("claude", ContextConfig{})

	res, err := m.RunInContext(context.Background(), "claude", "t", "")
	require.NoError(t, err)
	names, err := m.ListOutputs()
	require.NoError(t, err)
	require.Len(t, names, 1)

	require.NoError(t, m.Cleanup())
	require.NoError(t, m.Cleanup())

	names, err = m.ListOutputs()
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.False(t, m.IsComplete(res.ExecutionID))
	_, ok := m.Output(res.ExecutionID)
	assert.False(t, ok)
	// Records outlive their files.
	_, ok = m.Record(res.ExecutionID)
	assert.True(t, ok)
}

func TestObserverHelpers(t *testing.T) {
	var count atomic.Int32
	fn := ObserverFunc(func(context.Context, Event) { count.Add(1) })
	multi := MultiObserver{fn, nil, NewLogObserver(nil), fn}

	multi.Notify(context.Background(), Event{Type: EventStart})
	multi.Notify(context.Background(), Event{Type: EventComplete, Error: "x"})
	assert.Equal(t, int32(4), count.Load())
}
