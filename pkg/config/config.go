package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	RoutingConfig *RoutingConfig
	Aliases       *ModelAliases
	ConfigDir     string
	WorkDir       string
	PromptDir     string
}

// Load reads configuration from the config directory and the environment.
// A .env file in the current directory is loaded first; variables already set
// in the environment are not overridden by it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	cfg := newConfig(configDir)

	routingPath := filepath.Join(configDir, "routing.yaml")
	if _, err := os.Stat(routingPath); err == nil {
		routing, err := LoadRoutingConfig(routingPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load routing config: %w", err)
		}
		cfg.RoutingConfig = routing
	} else {
		cfg.RoutingConfig = DefaultRoutingConfig()
	}

	return cfg, nil
}

// LoadWithRoutingFile loads config with a specific routing file.
func LoadWithRoutingFile(routingPath string) (*Config, error) {
	_ = godotenv.Load()

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	cfg := newConfig(configDir)

	routing, err := LoadRoutingConfig(routingPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load routing config from %s: %w", routingPath, err)
	}
	cfg.RoutingConfig = routing

	return cfg, nil
}

func newConfig(configDir string) *Config {
	aliases, err := LoadAliasesWithFallback(filepath.Join(configDir, "models.yaml"))
	if err != nil {
		aliases = DefaultAliases()
	}
	return &Config{
		Aliases:   aliases,
		ConfigDir: configDir,
		WorkDir:   getEnvOrDefault("AGENTROOMS_WORKDIR", ".agentrooms"),
		PromptDir: getEnvOrDefault("AGENTROOMS_PROMPTS", filepath.Join(configDir, "agents")),
	}
}

// HasProvider returns true if the credential for the given provider is present.
func (c *Config) HasProvider(name string) bool {
	if c.RoutingConfig == nil {
		return false
	}
	ep, ok := c.RoutingConfig.Registry()[name]
	if !ok || ep.CredentialEnv == "" {
		return false
	}
	return os.Getenv(ep.CredentialEnv) != ""
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	if dir := os.Getenv("AGENTROOMS_CONFIG_DIR"); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".agentrooms")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
