package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default
	if cfg.Harness.Provider != "anthropic" || cfg.Harness.AgentHarness != "claude-code" {
		t.Errorf("unexpected agent defaults: %+v", cfg.Harness)
	}
	if cfg.Harness.MaxIterations != 30 || cfg.Harness.TimeoutSeconds != 1800 || cfg.Harness.MaxConcurrent != 4 {
		t.Errorf("unexpected run-limit defaults: %+v", cfg.Harness)
	}
	if !cfg.Cache.Enabled || cfg.Cache.TTLSeconds != 86400 || cfg.Cache.MaxSizeMB != 1000 {
		t.Errorf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Docker.Image == "" || !cfg.Docker.AutoPull {
		t.Errorf("unexpected docker defaults: %+v", cfg.Docker)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mcpbench.toml")
	content := `
[harness]
model = "claude-sonnet-4"
max_concurrent = 8

[mcp]
command = "npx"
args = ["@example/mcp-server"]

[mcp.env]
EXAMPLE_TOKEN = "abc"

[cache]
ttl_seconds = 3600
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Harness.Model != "claude-sonnet-4" || cfg.Harness.MaxConcurrent != 8 {
		t.Errorf("file values not applied: %+v", cfg.Harness)
	}
	if cfg.MCP.Command != "npx" || len(cfg.MCP.Args) != 1 || cfg.MCP.Env["EXAMPLE_TOKEN"] != "abc" {
		t.Errorf("mcp section not applied: %+v", cfg.MCP)
	}
	if cfg.Cache.TTLSeconds != 3600 {
		t.Errorf("cache ttl = %d, want 3600", cfg.Cache.TTLSeconds)
	}

	// Unset fields keep their defaults.
	if cfg.Harness.Provider != "anthropic" || cfg.Harness.MaxIterations != 30 {
		t.Errorf("defaults lost for unset fields: %+v", cfg.Harness)
	}
}

func TestLoadBackfillsZeroedFields(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mcpbench.toml")
	content := `
[harness]
max_iterations = 0
timeout_seconds = -1
max_concurrent = 0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Harness.MaxIterations != Default.Harness.MaxIterations {
		t.Errorf("max_iterations = %d, want backfilled default", cfg.Harness.MaxIterations)
	}
	if cfg.Harness.TimeoutSeconds != Default.Harness.TimeoutSeconds {
		t.Errorf("timeout_seconds = %d, want backfilled default", cfg.Harness.TimeoutSeconds)
	}
	if cfg.Harness.MaxConcurrent != Default.Harness.MaxConcurrent {
		t.Errorf("max_concurrent = %d, want backfilled default", cfg.Harness.MaxConcurrent)
	}
	if cfg.Cache.Dir == "" {
		t.Error("cache dir not backfilled")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("Load accepted a missing explicit config file")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mcpbench.toml")
	if err := os.WriteFile(path, []byte("[harness\nmodel = "), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted malformed TOML")
	}
}

func TestLoadDiscoversWorkingDirConfig(t *testing.T) {
	dir := t.TempDir()
	content := `
[harness]
model = "claude-opus-4"
`
	if err := os.WriteFile(filepath.Join(dir, "mcpbench.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Harness.Model != "claude-opus-4" {
		t.Errorf("working-directory config not discovered: %+v", cfg.Harness)
	}
}
