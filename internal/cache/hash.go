package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/mcpbench/mcpbench/internal/config"
	"github.com/mcpbench/mcpbench/internal/task"
)

// TaskHash computes the digest of a task definition, restricted to the
// fields that affect execution outcome. Benchmark metadata, timestamps, and
// other bookkeeping carried in task.Extra are deliberately excluded so
// cosmetic dataset changes do not invalidate cached results.
func TaskHash(t *task.Task) string {
	content := map[string]any{
		"instance_id":       nullable(t.InstanceID),
		"problem_statement": nullable(t.ProblemStatement),
		"repo":              nullable(t.Repo),
		"base_commit":       nullable(t.BaseCommit),
		"patch":             nullable(t.Patch),
		"test_patch":        nullable(t.TestPatch),
		"FAIL_TO_PASS":      nullableList(t.FailToPass),
		"PASS_TO_PASS":      nullableList(t.PassToPass),
	}
	return hashCanonical(content)
}

// ConfigHash computes the digest of the configuration fields that affect
// task execution. Concurrency, output paths, and cache settings are excluded.
func ConfigHash(cfg *config.Config) string {
	var mcpServer any
	if cfg.MCP.Command != "" {
		mcpServer = map[string]any{
			"command": cfg.MCP.Command,
			"args":    nullableList(cfg.MCP.Args),
			"env":     nullableMap(cfg.MCP.Env),
		}
	}

	content := map[string]any{
		"model":           nullable(cfg.Harness.Model),
		"provider":        nullable(cfg.Harness.Provider),
		"agent_harness":   nullable(cfg.Harness.AgentHarness),
		"benchmark":       nullable(cfg.Harness.Benchmark),
		"max_iterations":  cfg.Harness.MaxIterations,
		"timeout_seconds": cfg.Harness.TimeoutSeconds,
		"agent_prompt":    nullable(cfg.Harness.AgentPrompt),
		"mcp_server":      mcpServer,
	}
	return hashCanonical(content)
}

// DeriveKey combines the version tag, content digests, and run-type label
// into the final cache key. Baking the version into the key means a version
// bump produces disjoint keys; the stored entry's version field is still
// checked on read as a second line against collisions.
func DeriveKey(version, taskHash, configHash, runType string) string {
	return hashString(fmt.Sprintf("%s:%s:%s:%s", version, taskHash, configHash, runType))
}

// hashCanonical digests the canonical JSON form of content: encoding/json
// emits map keys in lexicographic order and explicit nulls for absent
// fields, so a field's presence is itself part of the hash.
func hashCanonical(content map[string]any) string {
	data, err := json.Marshal(content)
	if err != nil {
		// Only reachable with non-serializable values, which the fixed
		// field selections above never produce.
		panic(fmt.Sprintf("cache: canonical marshal failed: %v", err))
	}
	return hashString(string(data))
}

func hashString(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// nullable maps the empty string to an explicit JSON null.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableList maps a nil or empty slice to an explicit JSON null.
func nullableList(v []string) any {
	if len(v) == 0 {
		return nil
	}
	return v
}

// nullableMap maps a nil or empty map to an explicit JSON null.
func nullableMap(v map[string]string) any {
	if len(v) == 0 {
		return nil
	}
	return v
}
