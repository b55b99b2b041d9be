package harness

import (
	"encoding/json"
	"fmt"
)

// Terminal status values for a task run.
const (
	StatusCompleted = "completed"
	StatusTimeout   = "timeout"
	StatusError     = "error"
)

// TokenUsage counts tokens consumed by the agent during a run.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// TaskResult holds the outcome of running an agent against a single task.
type TaskResult struct {
	InstanceID     string     `json:"instance_id"`
	Resolved       bool       `json:"resolved"`
	PatchApplied   bool       `json:"patch_applied"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	Iterations     int        `json:"iterations"`
	ToolCalls      int        `json:"tool_calls"`
	Tokens         TokenUsage `json:"tokens"`
	Cost           float64    `json:"cost"`
	RuntimeSeconds float64    `json:"runtime_seconds"`
	Retried        bool       `json:"retried,omitempty"`

	// Cached marks a result served from the cache rather than a fresh run.
	// Not persisted: an entry read back tomorrow is still a cached read.
	Cached bool `json:"-"`
}

// ToPayload converts the result into the opaque mapping shape the cache
// stores. The cache owns no result schema; this JSON round-trip keeps the
// persisted form decoupled from the struct's evolution.
func (r *TaskResult) ToPayload() (map[string]any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding result payload: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decoding result payload: %w", err)
	}
	return payload, nil
}

// ResultFromPayload reconstructs a TaskResult from a cached payload.
// Unknown payload fields are dropped; missing fields zero out.
func ResultFromPayload(payload map[string]any) (*TaskResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding cached payload: %w", err)
	}
	var r TaskResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding cached payload: %w", err)
	}
	return &r, nil
}
