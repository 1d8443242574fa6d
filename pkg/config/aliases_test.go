package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	aliases := &ModelAliases{
		Aliases: map[string]string{
			"fast":    "gpt-4o-mini",
			"quality": "claude-sonnet-4-20250514",
		},
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "resolve known alias", input: "fast", expected: "gpt-4o-mini"},
		{name: "resolve another alias", input: "quality", expected: "claude-sonnet-4-20250514"},
		{name: "unknown alias returns input unchanged", input: "unknown-model", expected: "unknown-model"},
		{name: "canonical model returns unchanged", input: "gpt-4o", expected: "gpt-4o"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := aliases.Resolve(tt.input); got != tt.expected {
				t.Errorf("Resolve(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestResolve_NilAliases(t *testing.T) {
	var aliases *ModelAliases
	if got := aliases.Resolve("fast"); got != "fast" {
		t.Errorf("nil aliases should return input, got %q", got)
	}
	if aliases.IsAlias("fast") {
		t.Errorf("nil aliases should not report aliases")
	}
}

func TestValidateModel(t *testing.T) {
	aliases := DefaultAliases()

	if err := aliases.ValidateModel("claude", "claude-opus-4-20250514"); err != nil {
		t.Errorf("expected valid model, got %v", err)
	}
	if err := aliases.ValidateModel("claude", "gpt-4o"); err == nil {
		t.Errorf("expected error for model from another provider")
	}
	if err := aliases.ValidateModel("custom", "anything"); err != nil {
		t.Errorf("providers without a model list should not be validated, got %v", err)
	}
}

func TestLoadAliasesWithFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	data := []byte("aliases:\n  smart: claude-opus-4-20250514\nproviders:\n  claude:\n    - claude-opus-4-20250514\n")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write models: %v", err)
	}

	aliases, err := LoadAliasesWithFallback(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := aliases.Resolve("smart"); got != "claude-opus-4-20250514" {
		t.Fatalf("expected alias from file, got %q", got)
	}

	aliases, err = LoadAliasesWithFallback(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("load fallback: %v", err)
	}
	if !aliases.IsAlias("quality") {
		t.Fatalf("expected default aliases when file is missing")
	}
}

func TestValidateRoutingConfig(t *testing.T) {
	cfg := DefaultRoutingConfig()
	if errs := DefaultAliases().ValidateRoutingConfig(cfg); len(errs) != 0 {
		t.Fatalf("default config should validate, got %v", errs)
	}

	cfg.Providers[0].Model = "not-a-model"
	errs := DefaultAliases().ValidateRoutingConfig(cfg)
	if len(errs) != 1 {
		t.Fatalf("expected 1 validation error, got %d: %v", len(errs), errs)
	}
}

func TestListAliasesReturnsCopy(t *testing.T) {
	aliases := DefaultAliases()
	list := aliases.ListAliases()
	list["quality"] = "changed"
	if aliases.Resolve("quality") == "changed" {
		t.Fatalf("ListAliases must return a copy")
	}
}
