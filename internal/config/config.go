// Package config provides configuration loading and management for mcpbench.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for mcpbench.
type Config struct {
	Harness HarnessConfig `toml:"harness"`
	MCP     MCPConfig     `toml:"mcp"`
	Cache   CacheConfig   `toml:"cache"`
	Docker  DockerConfig  `toml:"docker"`
}

// HarnessConfig contains evaluation settings. The fields up through
// AgentPrompt participate in cache key derivation; the rest are
// orchestration-only and never affect a task's cached identity.
type HarnessConfig struct {
	Model          string `toml:"model"`
	Provider       string `toml:"provider"`
	AgentHarness   string `toml:"agent_harness"`
	Benchmark      string `toml:"benchmark"`
	MaxIterations  int    `toml:"max_iterations"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	AgentPrompt    string `toml:"agent_prompt"`

	MaxConcurrent int    `toml:"max_concurrent"`
	OutputDir     string `toml:"output_dir"`
}

// MCPConfig describes the MCP server made available to the agent under test.
type MCPConfig struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
}

// CacheConfig contains result cache settings.
type CacheConfig struct {
	Enabled    bool   `toml:"enabled"`
	Dir        string `toml:"dir"`         // Defaults to ~/.mcpbench/cache
	TTLSeconds int    `toml:"ttl_seconds"` // 0 disables expiry
	MaxSizeMB  int    `toml:"max_size_mb"`
}

// DockerConfig contains Docker-related settings.
type DockerConfig struct {
	Image    string `toml:"image"`
	AutoPull bool   `toml:"auto_pull"`
}

// Default configuration values.
var Default = Config{
	Harness: HarnessConfig{
		Provider:       "anthropic",
		AgentHarness:   "claude-code",
		Benchmark:      "swe-bench-lite",
		MaxIterations:  30,
		TimeoutSeconds: 1800,
		MaxConcurrent:  4,
		OutputDir:      "./eval-results",
	},
	Cache: CacheConfig{
		Enabled:    true,
		TTLSeconds: 86400,
		MaxSizeMB:  1000,
	},
	Docker: DockerConfig{
		Image:    "ghcr.io/mcpbench/task-env:latest",
		AutoPull: true,
	},
}

// DefaultCacheDir returns the default cache directory under the user's home.
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".mcpbench", "cache")
	}
	return filepath.Join(home, ".mcpbench", "cache")
}

// configPaths returns the list of paths to search for config files.
func configPaths() []string {
	paths := []string{"./mcpbench.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".mcpbench.toml"))
		paths = append(paths, filepath.Join(home, ".config", "mcpbench", "config.toml"))
	}

	return paths
}

// Load loads configuration from a file or discovers it automatically.
// If configFile is empty, it searches standard locations.
// Returns default config if no file is found.
func Load(configFile string) (*Config, error) {
	cfg := Default // Start with defaults

	var path string
	if configFile != "" {
		path = configFile
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	} else {
		for _, p := range configPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	// Ensure critical fields aren't zeroed out by partial config
	if cfg.Harness.MaxIterations <= 0 {
		cfg.Harness.MaxIterations = Default.Harness.MaxIterations
	}
	if cfg.Harness.TimeoutSeconds <= 0 {
		cfg.Harness.TimeoutSeconds = Default.Harness.TimeoutSeconds
	}
	if cfg.Harness.MaxConcurrent <= 0 {
		cfg.Harness.MaxConcurrent = Default.Harness.MaxConcurrent
	}
	if cfg.Harness.OutputDir == "" {
		cfg.Harness.OutputDir = Default.Harness.OutputDir
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = DefaultCacheDir()
	}
	if cfg.Cache.MaxSizeMB <= 0 {
		cfg.Cache.MaxSizeMB = Default.Cache.MaxSizeMB
	}
	if cfg.Docker.Image == "" {
		cfg.Docker.Image = Default.Docker.Image
	}

	return &cfg, nil
}
