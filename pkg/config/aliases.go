package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelAliases manages model alias resolution and validation.
type ModelAliases struct {
	Aliases   map[string]string   `yaml:"aliases"`
	Providers map[string][]string `yaml:"providers"`
}

// LoadAliases reads model aliases from a YAML file.
func LoadAliases(path string) (*ModelAliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var aliases ModelAliases
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, err
	}

	if aliases.Aliases == nil {
		aliases.Aliases = make(map[string]string)
	}
	if aliases.Providers == nil {
		aliases.Providers = make(map[string][]string)
	}

	return &aliases, nil
}

// LoadAliasesWithFallback loads aliases from path, falling back to the
// built-in aliases when the file does not exist.
func LoadAliasesWithFallback(path string) (*ModelAliases, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return LoadAliases(path)
		}
	}
	return DefaultAliases(), nil
}

// Resolve returns the canonical model name for an alias.
// If the input is not an alias, it returns the input unchanged.
func (a *ModelAliases) Resolve(modelOrAlias string) string {
	if a == nil || a.Aliases == nil {
		return modelOrAlias
	}
	if canonical, ok := a.Aliases[modelOrAlias]; ok {
		return canonical
	}
	return modelOrAlias
}

// IsAlias returns true if the given string is a known alias.
func (a *ModelAliases) IsAlias(name string) bool {
	if a == nil || a.Aliases == nil {
		return false
	}
	_, ok := a.Aliases[name]
	return ok
}

// ValidateModel checks if a model exists in the provider's list.
func (a *ModelAliases) ValidateModel(provider, model string) error {
	if a == nil || a.Providers == nil {
		return nil
	}

	models, ok := a.Providers[provider]
	if !ok {
		// Providers without a model list are not validated.
		return nil
	}

	for _, m := range models {
		if m == model {
			return nil
		}
	}

	return fmt.Errorf("model %q not in %s provider list", model, provider)
}

// ListAliases returns a copy of the aliases map.
func (a *ModelAliases) ListAliases() map[string]string {
	if a == nil || a.Aliases == nil {
		return make(map[string]string)
	}
	result := make(map[string]string, len(a.Aliases))
	for k, v := range a.Aliases {
		result[k] = v
	}
	return result
}

// ValidateRoutingConfig checks the model of every enabled profile.
func (a *ModelAliases) ValidateRoutingConfig(cfg *RoutingConfig) []error {
	if a == nil || cfg == nil {
		return nil
	}

	var errs []error
	for _, p := range cfg.Providers {
		if !p.Enabled || p.Model == "" {
			continue
		}
		if err := a.ValidateModel(p.Name, a.Resolve(p.Model)); err != nil {
			errs = append(errs, fmt.Errorf("provider %q: %w", p.Name, err))
		}
	}
	return errs
}

// DefaultAliases returns the default model aliases configuration.
func DefaultAliases() *ModelAliases {
	return &ModelAliases{
		Aliases: map[string]string{
			"quality": "claude-sonnet-4-20250514",
			"deep":    "claude-opus-4-20250514",
			"fast":    "gpt-4o-mini",
			"general": "gpt-4o",
			"vision":  "gemini-2.0-pro",
			"live":    "grok-3",
			"cheap":   "deepseek-chat",
			"reason":  "deepseek-reasoner",
		},
		Providers: map[string][]string{
			"claude":   {"claude-sonnet-4-20250514", "claude-opus-4-20250514"},
			"openai":   {"gpt-4o", "gpt-4o-mini"},
			"gemini":   {"gemini-2.0-pro", "gemini-2.5-flash"},
			"grok":     {"grok-3", "grok-3-mini"},
			"deepseek": {"deepseek-chat", "deepseek-reasoner"},
		},
	}
}
