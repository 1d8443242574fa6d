package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/agentrooms/pkg/config"
	"github.com/zen-systems/agentrooms/pkg/gateway"
	"github.com/zen-systems/agentrooms/pkg/rooms"
	"github.com/zen-systems/agentrooms/pkg/storage"
)

func allKeys(name string) string {
	switch name {
	case "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY", "XAI_API_KEY":
		return "key"
	}
	return ""
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		RoutingConfig: config.DefaultRoutingConfig(),
		Aliases:       config.DefaultAliases(),
		WorkDir:       filepath.Join(t.TempDir(), "work"),
		PromptDir:     t.TempDir(),
	}
}

// mockFactory serves a mock per provider; providers listed in failing return errors.
func mockFactory(failing ...string) (rooms.CompleterFactory, map[string]*gateway.Mock) {
	mocks := make(map[string]*gateway.Mock)
	for _, p := range []string{"claude", "openai", "gemini", "grok"} {
		m := gateway.NewMockWithResponses(map[string]string{}, "# "+p+" report\n\n## Recommendations\n- from "+p)
		mocks[p] = m
	}
	for _, p := range failing {
		mocks[p].Err = &gateway.StatusError{Provider: p, Status: 500, Body: "upstream down"}
	}
	return func(provider string, cfg rooms.ContextConfig) (rooms.Completer, error) {
		m, ok := mocks[provider]
		if !ok {
			return nil, errors.New("no mock")
		}
		return m, nil
	}, mocks
}

func noRetry(cfg *config.Config) {
	cfg.RoutingConfig.Retry = config.RetryConfig{MaxRetries: 0, BaseBackoffMs: 1, MaxBackoffMs: 1}
}

func TestNewFailsWithoutProviders(t *testing.T) {
	_, err := New(testConfig(t), WithGetenv(func(string) string { return "" }))
	require.Error(t, err)
}

func TestAnalyzeIsDryRun(t *testing.T) {
	cfg := testConfig(t)
	factory, mocks := mockFactory()
	o, err := New(cfg, WithGetenv(allKeys), WithCompleterFactory(factory))
	require.NoError(t, err)

	a := o.Analyze("Research the latest image models")
	assert.Equal(t, []string{"gemini", "grok"}, a.Providers())
	assert.True(t, a.Parallelizable)

	assert.NoDirExists(t, cfg.WorkDir)
	for _, m := range mocks {
		assert.Empty(t, m.Prompts())
	}
}

func TestRunParallel(t *testing.T) {
	cfg := testConfig(t)
	factory, mocks := mockFactory()
	var events atomic.Int32
	o, err := New(cfg,
		WithGetenv(allKeys),
		WithCompleterFactory(factory),
		WithObserver(rooms.ObserverFunc(func(context.Context, rooms.Event) { events.Add(1) })),
	)
	require.NoError(t, err)

	report, err := o.Run(context.Background(), "Research the latest image models", RunOptions{})
	require.NoError(t, err)
	assert.True(t, report.Parallel)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "gemini", report.Results[0].Provider)
	assert.Equal(t, "grok", report.Results[1].Provider)
	assert.Equal(t, 2, report.Succeeded())
	assert.Empty(t, report.Fallbacks)

	// start+complete per room plus the batch events.
	assert.Equal(t, int32(6), events.Load())
	assert.Len(t, mocks["gemini"].Prompts(), 1)
	assert.Contains(t, mocks["gemini"].Prompts()[0], "Research the latest image models")

	require.NotEmpty(t, report.FinalOutput)
	data, err := os.ReadFile(report.FinalOutput)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[gemini] from gemini")
	assert.Contains(t, string(data), "[grok] from grok")

	names, err := o.Outputs()
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestRunSequentialOption(t *testing.T) {
	cfg := testConfig(t)
	factory, _ := mockFactory()
	o, err := New(cfg, WithGetenv(allKeys), WithCompleterFactory(factory))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), "Research the latest image models", RunOptions{Sequential: true, SkipSynthesis: true})
	require.NoError(t, err)
	assert.False(t, report.Parallel)
	assert.Len(t, report.Results, 2)
	assert.Empty(t, report.FinalOutput)
	assert.NoFileExists(t, filepath.Join(cfg.WorkDir, storage.FinalOutputName))
}

func TestRunFallback(t *testing.T) {
	cfg := testConfig(t)
	noRetry(cfg)
	factory, mocks := mockFactory("claude")
	o, err := New(cfg, WithGetenv(allKeys), WithCompleterFactory(factory))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), "implement a parser", RunOptions{})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Success)
	assert.Contains(t, report.Results[0].Error, "upstream down")

	require.Len(t, report.Fallbacks, 1)
	assert.Equal(t, "openai", report.Fallbacks[0].Provider)
	assert.True(t, report.Fallbacks[0].Success)
	assert.Len(t, mocks["openai"].Prompts(), 1)
	assert.Equal(t, 1, report.Succeeded())
}

func TestRunFallbackDisabled(t *testing.T) {
	cfg := testConfig(t)
	noRetry(cfg)
	cfg.RoutingConfig.Execution.FallbackStrategy = FallbackNone
	factory, mocks := mockFactory("claude")
	o, err := New(cfg, WithGetenv(allKeys), WithCompleterFactory(factory))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), "implement a parser", RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Fallbacks)
	assert.Empty(t, mocks["openai"].Prompts())
}

func TestRunRequestedProviders(t *testing.T) {
	cfg := testConfig(t)
	factory, mocks := mockFactory()
	o, err := New(cfg, WithGetenv(allKeys), WithCompleterFactory(factory))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), "anything", RunOptions{Providers: []string{"grok", "grok", "openai"}, SkipSynthesis: true})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "grok", report.Results[0].Provider)
	assert.Equal(t, "openai", report.Results[1].Provider)
	assert.Empty(t, mocks["claude"].Prompts())

	_, err = o.Run(context.Background(), "anything", RunOptions{Providers: []string{"deepseek"}})
	assert.ErrorIs(t, err, ErrProviderNotEnabled)
}

func TestRunNoRoutes(t *testing.T) {
	cfg := testConfig(t)
	factory, _ := mockFactory()
	onlyOpenAI := func(name string) string {
		if name == "OPENAI_API_KEY" {
			return "key"
		}
		return ""
	}
	o, err := New(cfg, WithGetenv(onlyOpenAI), WithCompleterFactory(factory))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), "draw an image", RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Empty(t, report.FinalOutput)
	assert.NoDirExists(t, cfg.WorkDir)
}

func TestRunUsesAgentPrompt(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.PromptDir, "tester.md"), []byte("You write tests."), 0644))
	cfg.RoutingConfig.Providers[0].Agent = "tester"
	factory, mocks := mockFactory()
	o, err := New(cfg, WithGetenv(allKeys), WithCompleterFactory(factory))
	require.NoError(t, err)

	_, err = o.Run(context.Background(), "write a test suite", RunOptions{SkipSynthesis: true})
	require.NoError(t, err)
	prompts := mocks["claude"].Prompts()
	require.Len(t, prompts, 1)
	assert.True(t, strings.HasPrefix(prompts[0], "You write tests."))
}

func TestRunWithGatewayFactoryMissingCredential(t *testing.T) {
	cfg := testConfig(t)
	noRetry(cfg)
	cfg.RoutingConfig.Execution.FallbackStrategy = FallbackNone
	t.Setenv("ANTHROPIC_API_KEY", "")
	o, err := New(cfg, WithGetenv(allKeys))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), "implement a parser", RunOptions{SkipSynthesis: true})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Success)
	assert.Contains(t, report.Results[0].Error, gateway.ErrMissingCredential.Error())
}

func TestCleanup(t *testing.T) {
	cfg := testConfig(t)
	factory, _ := mockFactory()
	o, err := New(cfg, WithGetenv(allKeys), WithCompleterFactory(factory))
	require.NoError(t, err)

	_, err = o.Run(context.Background(), "Research the latest image models", RunOptions{})
	require.NoError(t, err)

	removed, err := o.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 4, removed)
	removed, err = o.Cleanup()
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.FileExists(t, filepath.Join(cfg.WorkDir, storage.FinalOutputName))
}
