// Package task provides task definitions and loading for mcpbench.
package task

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Task represents a single evaluation task: a problem against a repository
// snapshot, plus the test selections that score a candidate fix.
//
// Only the fields below participate in cache hashing; everything else a
// benchmark attaches to a task lands in Extra and is carried opaquely.
type Task struct {
	InstanceID       string   `json:"instance_id"`
	ProblemStatement string   `json:"problem_statement"`
	Repo             string   `json:"repo,omitempty"`
	BaseCommit       string   `json:"base_commit,omitempty"`
	Patch            string   `json:"patch,omitempty"`
	TestPatch        string   `json:"test_patch,omitempty"`
	FailToPass       []string `json:"FAIL_TO_PASS,omitempty"`
	PassToPass       []string `json:"PASS_TO_PASS,omitempty"`

	// Extra holds benchmark-specific fields that are not part of the task
	// identity (difficulty labels, dataset bookkeeping, ephemeral IDs).
	Extra map[string]any `json:"-"`
}

// knownFields are the JSON keys that map onto typed Task fields.
var knownFields = map[string]bool{
	"instance_id":       true,
	"problem_statement": true,
	"repo":              true,
	"base_commit":       true,
	"patch":             true,
	"test_patch":        true,
	"FAIL_TO_PASS":      true,
	"PASS_TO_PASS":      true,
}

// Validate checks that required task fields are present.
func (t *Task) Validate() error {
	if t.InstanceID == "" {
		return errors.New("task instance_id is required")
	}
	if t.ProblemStatement == "" {
		return fmt.Errorf("task %s has no problem statement", t.InstanceID)
	}
	return nil
}

// UnmarshalJSON decodes a task, splitting unknown keys into Extra.
func (t *Task) UnmarshalJSON(data []byte) error {
	type alias Task
	var typed alias
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if knownFields[k] {
			delete(raw, k)
		}
	}

	*t = Task(typed)
	if len(raw) > 0 {
		t.Extra = raw
	}
	return nil
}

// MarshalJSON encodes a task with its Extra fields inlined.
func (t *Task) MarshalJSON() ([]byte, error) {
	type alias Task
	data, err := json.Marshal((*alias)(t))
	if err != nil {
		return nil, err
	}
	if len(t.Extra) == 0 {
		return data, nil
	}

	var merged map[string]any
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range t.Extra {
		if !knownFields[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// LoadFile loads tasks from a JSONL file (one task per line) or a JSON array.
// Invalid tasks fail the load; datasets are expected to be well-formed.
func LoadFile(path string) ([]*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tasks file: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("tasks file %s is empty", path)
	}

	var tasks []*Task
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &tasks); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else {
		scanner := bufio.NewScanner(strings.NewReader(trimmed))
		scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var t Task
			if err := json.Unmarshal([]byte(line), &t); err != nil {
				return nil, fmt.Errorf("parsing %s line %d: %w", path, lineNo, err)
			}
			tasks = append(tasks, &t)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("invalid task in %s: %w", path, err)
		}
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].InstanceID < tasks[j].InstanceID
	})

	return tasks, nil
}

// Resolve returns the task with the given instance ID.
func Resolve(tasks []*Task, instanceID string) (*Task, error) {
	for _, t := range tasks {
		if t.InstanceID == instanceID {
			return t, nil
		}
	}
	return nil, fmt.Errorf("task not found: %s", instanceID)
}
