package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Task type labels produced by the router.
const (
	TaskTesting        = "testing"
	TaskCodeGeneration = "code_generation"
	TaskMultimodal     = "multimodal"
	TaskRealTime       = "real_time"
	TaskReasoning      = "reasoning"
)

// RoutingConfig holds providers, routing rules and execution policy.
type RoutingConfig struct {
	Providers    Providers                  `yaml:"providers"`
	KeywordRules KeywordRules               `yaml:"keyword_rules"`
	TaskTypes    map[string]TaskTypeMapping `yaml:"task_types"`
	Execution    ExecutionPolicy            `yaml:"execution"`
	Retry        RetryConfig                `yaml:"retry,omitempty"`
	Endpoints    Registry                   `yaml:"endpoints,omitempty"`
}

// ProviderProfile is the static description of one provider.
type ProviderProfile struct {
	Name          string   `yaml:"-"`
	CredentialEnv string   `yaml:"credential_env"`
	Model         string   `yaml:"model"`
	Enabled       bool     `yaml:"enabled"`
	Priority      int      `yaml:"priority"`
	Strengths     []string `yaml:"strengths,omitempty"`
	ContextPath   string   `yaml:"context_path,omitempty"`
	Fallback      string   `yaml:"fallback,omitempty"`
	// Agent names the prompt in the agent library. Defaults to the provider name.
	Agent string `yaml:"agent,omitempty"`
}

// Providers keeps profiles in document order.
type Providers []ProviderProfile

// RoutingRule maps a keyword to a provider.
type RoutingRule struct {
	Keyword    string  `yaml:"-"`
	Provider   string  `yaml:"provider"`
	Fallback   string  `yaml:"fallback,omitempty"`
	Confidence float64 `yaml:"confidence"`
}

// KeywordRules keeps rules in document order; keyword extraction follows it.
type KeywordRules []RoutingRule

// TaskTypeMapping maps a task type to preferred providers.
type TaskTypeMapping struct {
	Preferred string `yaml:"preferred"`
	Secondary string `yaml:"secondary,omitempty"`
}

// ExecutionPolicy controls how rooms are executed.
type ExecutionPolicy struct {
	ParallelExecution    *bool   `yaml:"parallel_execution,omitempty"`
	MaxParallelRooms     int     `yaml:"max_parallel_rooms,omitempty"`
	ContextIsolation     *bool   `yaml:"context_isolation,omitempty"`
	AutoCompactThreshold float64 `yaml:"auto_compact_threshold,omitempty"`
	ContextBudgetTokens  int     `yaml:"context_budget_tokens,omitempty"`
	FallbackStrategy     string  `yaml:"fallback_strategy,omitempty"`
	TimeoutSeconds       int     `yaml:"timeout_seconds,omitempty"`
}

// RetryConfig defines retry and backoff behavior for provider calls.
type RetryConfig struct {
	MaxRetries    int `yaml:"max_retries,omitempty"`
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int `yaml:"max_backoff_ms,omitempty"`
}

// ParallelEnabled reports whether parallel execution is allowed.
func (p ExecutionPolicy) ParallelEnabled() bool {
	return p.ParallelExecution == nil || *p.ParallelExecution
}

// IsolationEnabled reports whether rooms get isolation instructions.
func (p ExecutionPolicy) IsolationEnabled() bool {
	return p.ContextIsolation == nil || *p.ContextIsolation
}

// UnmarshalYAML decodes a name -> profile mapping, preserving order.
func (p *Providers) UnmarshalYAML(node *yaml.Node) error {
	keys, values, err := orderedMapping[ProviderProfile](node)
	if err != nil {
		return fmt.Errorf("providers: %w", err)
	}
	out := make(Providers, 0, len(keys))
	for i, key := range keys {
		profile := values[i]
		profile.Name = key
		out = append(out, profile)
	}
	*p = out
	return nil
}

// UnmarshalYAML decodes a keyword -> rule mapping, preserving order.
func (r *KeywordRules) UnmarshalYAML(node *yaml.Node) error {
	keys, values, err := orderedMapping[RoutingRule](node)
	if err != nil {
		return fmt.Errorf("keyword_rules: %w", err)
	}
	out := make(KeywordRules, 0, len(keys))
	for i, key := range keys {
		rule := values[i]
		rule.Keyword = strings.ToLower(strings.TrimSpace(key))
		out = append(out, rule)
	}
	*r = out
	return nil
}

func orderedMapping[T any](node *yaml.Node) ([]string, []T, error) {
	if node.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	keys := make([]string, 0, len(node.Content)/2)
	values := make([]T, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var value T
		if err := node.Content[i+1].Decode(&value); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", node.Content[i].Value, err)
		}
		keys = append(keys, node.Content[i].Value)
		values = append(values, value)
	}
	return keys, values, nil
}

// Profile returns the profile with the given name.
func (c *RoutingConfig) Profile(name string) (*ProviderProfile, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// Rule returns the rule for a keyword.
func (c *RoutingConfig) Rule(keyword string) (RoutingRule, bool) {
	for _, rule := range c.KeywordRules {
		if rule.Keyword == keyword {
			return rule, true
		}
	}
	return RoutingRule{}, false
}

// Registry returns the endpoint registry with configured overrides and the
// credential/model of each profile applied.
func (c *RoutingConfig) Registry() Registry {
	reg := DefaultRegistry().Merge(c.Endpoints)
	for _, p := range c.Providers {
		ep, ok := reg[p.Name]
		if !ok {
			continue
		}
		if p.CredentialEnv != "" {
			ep.CredentialEnv = p.CredentialEnv
		}
		if p.Model != "" {
			ep.DefaultModel = p.Model
		}
		reg[p.Name] = ep
	}
	return reg
}

// Validate checks value-level constraints.
func (c *RoutingConfig) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		// Provider names are embedded in dash-separated file names.
		if strings.Contains(p.Name, "-") {
			return fmt.Errorf("provider %q: name must not contain '-'", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %q defined twice", p.Name)
		}
		seen[p.Name] = true
	}
	for _, rule := range c.KeywordRules {
		if rule.Keyword == "" {
			return fmt.Errorf("keyword rule with empty keyword")
		}
		if rule.Confidence < 0 || rule.Confidence > 1 {
			return fmt.Errorf("keyword %q: confidence %.2f out of range [0,1]", rule.Keyword, rule.Confidence)
		}
	}
	if c.Retry.MaxRetries < 0 || c.Retry.BaseBackoffMs < 0 || c.Retry.MaxBackoffMs < 0 {
		return fmt.Errorf("retry values must not be negative: %+v", c.Retry)
	}
	if c.Execution.MaxParallelRooms < 0 || c.Execution.TimeoutSeconds < 0 || c.Execution.ContextBudgetTokens < 0 {
		return fmt.Errorf("execution values must not be negative")
	}
	if t := c.Execution.AutoCompactThreshold; t < 0 || t > 1 {
		return fmt.Errorf("auto_compact_threshold %.2f out of range [0,1]", t)
	}
	return nil
}

// LoadRoutingConfig reads routing configuration from a YAML file.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRoutingConfig(data)
}

// ParseRoutingConfig decodes, defaults and validates a routing document.
func ParseRoutingConfig(data []byte) (*RoutingConfig, error) {
	// Keys absent from the document keep these values; yaml leaves
	// unmentioned struct fields untouched.
	cfg := RoutingConfig{
		Execution: DefaultExecutionPolicy(),
		Retry:     DefaultRetryConfig(),
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyRoutingDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultRoutingConfig returns the default routing configuration.
func DefaultRoutingConfig() *RoutingConfig {
	cfg := &RoutingConfig{
		Providers: Providers{
			{
				Name:          "claude",
				CredentialEnv: "ANTHROPIC_API_KEY",
				Model:         "claude-sonnet-4-20250514",
				Enabled:       true,
				Priority:      1,
				Strengths:     []string{"reasoning", "code", "analysis"},
				ContextPath:   "rooms/claude",
				Fallback:      "openai",
			},
			{
				Name:          "openai",
				CredentialEnv: "OPENAI_API_KEY",
				Model:         "gpt-4o",
				Enabled:       true,
				Priority:      2,
				Strengths:     []string{"code", "general", "summarization"},
				ContextPath:   "rooms/openai",
				Fallback:      "claude",
			},
			{
				Name:          "gemini",
				CredentialEnv: "GOOGLE_API_KEY",
				Model:         "gemini-2.0-pro",
				Enabled:       true,
				Priority:      3,
				Strengths:     []string{"multimodal", "research", "long-context"},
				ContextPath:   "rooms/gemini",
				Fallback:      "openai",
			},
			{
				Name:          "grok",
				CredentialEnv: "XAI_API_KEY",
				Model:         "grok-3",
				Enabled:       true,
				Priority:      4,
				Strengths:     []string{"real-time", "news"},
				ContextPath:   "rooms/grok",
				Fallback:      "gemini",
			},
			{
				Name:          "deepseek",
				CredentialEnv: "DEEPSEEK_API_KEY",
				Model:         "deepseek-chat",
				Enabled:       false,
				Priority:      5,
				Strengths:     []string{"bulk-code", "reasoning"},
				ContextPath:   "rooms/deepseek",
				Fallback:      "openai",
			},
		},
		KeywordRules: KeywordRules{
			{Keyword: "test", Provider: "claude", Fallback: "openai", Confidence: 0.8},
			{Keyword: "validate", Provider: "claude", Fallback: "openai", Confidence: 0.7},
			{Keyword: "verify", Provider: "claude", Fallback: "openai", Confidence: 0.7},
			{Keyword: "code", Provider: "claude", Fallback: "openai", Confidence: 0.8},
			{Keyword: "build", Provider: "claude", Fallback: "openai", Confidence: 0.75},
			{Keyword: "implement", Provider: "claude", Fallback: "openai", Confidence: 0.8},
			{Keyword: "refactor", Provider: "openai", Fallback: "claude", Confidence: 0.7},
			{Keyword: "image", Provider: "gemini", Fallback: "openai", Confidence: 0.85},
			{Keyword: "design", Provider: "gemini", Fallback: "claude", Confidence: 0.6},
			{Keyword: "visual", Provider: "gemini", Fallback: "openai", Confidence: 0.8},
			{Keyword: "real-time", Provider: "grok", Fallback: "gemini", Confidence: 0.9},
			{Keyword: "news", Provider: "grok", Fallback: "gemini", Confidence: 0.85},
			{Keyword: "latest", Provider: "grok", Fallback: "gemini", Confidence: 0.75},
			{Keyword: "current", Provider: "grok", Fallback: "gemini", Confidence: 0.6},
			{Keyword: "research", Provider: "gemini", Fallback: "grok", Confidence: 0.7},
			{Keyword: "analyze", Provider: "claude", Fallback: "openai", Confidence: 0.75},
			{Keyword: "reason", Provider: "claude", Fallback: "deepseek", Confidence: 0.7},
			{Keyword: "explain", Provider: "openai", Fallback: "claude", Confidence: 0.65},
			{Keyword: "plan", Provider: "claude", Fallback: "openai", Confidence: 0.7},
			{Keyword: "summarize", Provider: "openai", Fallback: "gemini", Confidence: 0.7},
		},
		TaskTypes: map[string]TaskTypeMapping{
			TaskTesting:        {Preferred: "claude", Secondary: "openai"},
			TaskCodeGeneration: {Preferred: "claude", Secondary: "openai"},
			TaskMultimodal:     {Preferred: "gemini", Secondary: "openai"},
			TaskRealTime:       {Preferred: "grok", Secondary: "gemini"},
			TaskReasoning:      {Preferred: "claude", Secondary: "openai"},
		},
		Execution: DefaultExecutionPolicy(),
		Retry:     DefaultRetryConfig(),
	}

	applyRoutingDefaults(cfg)
	return cfg
}

// DefaultExecutionPolicy returns the policy used for keys a document omits.
func DefaultExecutionPolicy() ExecutionPolicy {
	enabled := true
	isolated := true
	return ExecutionPolicy{
		ParallelExecution:    &enabled,
		MaxParallelRooms:     3,
		ContextIsolation:     &isolated,
		AutoCompactThreshold: 0.8,
		ContextBudgetTokens:  100000,
		FallbackStrategy:     "cascade",
		TimeoutSeconds:       300,
	}
}

// DefaultRetryConfig returns the retry settings used for keys a document omits.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 2, BaseBackoffMs: 200, MaxBackoffMs: 2000}
}

// applyRoutingDefaults fills what seeding cannot: nil pointers left by an
// explicit null and derived values. Explicit zero numbers are kept.
func applyRoutingDefaults(cfg *RoutingConfig) {
	if cfg == nil {
		return
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}
	if cfg.Execution.ParallelExecution == nil {
		enabled := true
		cfg.Execution.ParallelExecution = &enabled
	}
	if cfg.Execution.ContextIsolation == nil {
		enabled := true
		cfg.Execution.ContextIsolation = &enabled
	}
	if cfg.Execution.FallbackStrategy == "" {
		cfg.Execution.FallbackStrategy = "cascade"
	}
	if cfg.TaskTypes == nil {
		cfg.TaskTypes = make(map[string]TaskTypeMapping)
	}
	for i := range cfg.KeywordRules {
		cfg.KeywordRules[i].Keyword = strings.ToLower(strings.TrimSpace(cfg.KeywordRules[i].Keyword))
	}
}
