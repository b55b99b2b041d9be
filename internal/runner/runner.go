package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcpbench/mcpbench/internal/config"
	errsummary "github.com/mcpbench/mcpbench/internal/errors"
	"github.com/mcpbench/mcpbench/internal/harness"
	"github.com/mcpbench/mcpbench/internal/task"
)

// Runner executes tasks in per-task Docker containers. It implements
// harness.TaskRunner.
//
// Contract with the task environment image: the image ships an `agent-run`
// shim that reads /workspace/prompt.md, drives the configured agent harness
// (with the MCP server from the environment when MCPBENCH_MCP_COMMAND is
// set), and writes its outcome to /workspace/result.json.
type Runner struct {
	cfg        *config.Config
	client     *Client
	summarizer *errsummary.Summarizer
	logger     *slog.Logger

	// KeepWorkspaces leaves per-task workspace directories on disk for
	// debugging instead of removing them after each run.
	KeepWorkspaces bool
}

// NewRunner creates a Docker-backed task runner.
func NewRunner(cfg *config.Config, logger *slog.Logger) (*Runner, error) {
	cli, err := NewClient()
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Runner{
		cfg:        cfg,
		client:     cli,
		summarizer: errsummary.NewSummarizer(),
		logger:     logger,
	}, nil
}

// Close releases the runner's Docker client.
func (r *Runner) Close() error {
	return r.client.Close()
}

// agentReport is the shape the agent shim writes to result.json.
type agentReport struct {
	Resolved     bool               `json:"resolved"`
	PatchApplied bool               `json:"patch_applied"`
	Iterations   int                `json:"iterations"`
	ToolCalls    int                `json:"tool_calls"`
	Tokens       harness.TokenUsage `json:"tokens"`
	Cost         float64            `json:"cost"`
	Error        string             `json:"error"`
}

// RunTask provisions a container for the task, runs one agent attempt in it,
// and scores the outcome. Exec deadline hits become StatusTimeout results;
// errors are reserved for provisioning and I/O failures.
func (r *Runner) RunTask(ctx context.Context, t *task.Task, runType string) (*harness.TaskResult, error) {
	if err := r.client.EnsureImage(ctx, r.cfg.Docker.Image, r.cfg.Docker.AutoPull); err != nil {
		return nil, fmt.Errorf("ensuring image: %w", err)
	}

	workspace, err := r.setupWorkspace(t)
	if err != nil {
		return nil, err
	}
	defer func() {
		if !r.KeepWorkspaces {
			_ = os.RemoveAll(workspace)
		}
	}()

	containerID, err := r.client.Provision(ctx, EnvironmentSpec{
		Image:        r.cfg.Docker.Image,
		Name:         fmt.Sprintf("mcpbench-%s-%d", sanitizeName(t.InstanceID), time.Now().UnixNano()),
		WorkspaceDir: workspace,
		Env:          r.containerEnv(t, runType),
	})
	if err != nil {
		return nil, fmt.Errorf("provisioning environment: %w", err)
	}
	defer func() {
		r.logger.Debug("tearing down container", "id", containerID[:12])
		_ = r.client.Teardown(context.Background(), containerID)
	}()

	timeout := time.Duration(r.cfg.Harness.TimeoutSeconds) * time.Second
	r.logger.Info("running agent", "task", t.InstanceID, "run_type", runType, "timeout", timeout)

	exec, err := r.client.Exec(ctx, containerID, []string{"agent-run", r.cfg.Harness.AgentHarness}, timeout)
	if err != nil {
		return nil, fmt.Errorf("executing agent: %w", err)
	}

	return r.score(t, exec, workspace), nil
}

// score turns an exec outcome plus the agent's report into a TaskResult.
// A missing or unreadable report is not fatal: timeouts in particular often
// kill the agent before it reports, and those zero-iteration results are
// what the retry policy looks for.
func (r *Runner) score(t *task.Task, exec *ExecResult, workspace string) *harness.TaskResult {
	res := &harness.TaskResult{
		InstanceID:     t.InstanceID,
		RuntimeSeconds: exec.Duration.Seconds(),
	}

	report, reportErr := readReport(filepath.Join(workspace, "result.json"))
	if reportErr == nil {
		res.Resolved = report.Resolved
		res.PatchApplied = report.PatchApplied
		res.Iterations = report.Iterations
		res.ToolCalls = report.ToolCalls
		res.Tokens = report.Tokens
		res.Cost = report.Cost
		res.Error = report.Error
	}

	switch {
	case exec.TimedOut:
		res.Status = harness.StatusTimeout
		if res.Error == "" {
			res.Error = "Timeout"
		}
	case exec.ExitCode != 0 || reportErr != nil:
		res.Status = harness.StatusError
		if res.Error == "" {
			res.Error = strings.Join(r.summarizer.Summarize(exec.Output), "; ")
		}
	default:
		res.Status = harness.StatusCompleted
	}

	return res
}

// setupWorkspace creates the per-task workspace with the prompt file.
func (r *Runner) setupWorkspace(t *task.Task) (string, error) {
	dir, err := os.MkdirTemp("", "mcpbench-"+sanitizeName(t.InstanceID)+"-")
	if err != nil {
		return "", fmt.Errorf("creating workspace: %w", err)
	}

	var prompt strings.Builder
	if r.cfg.Harness.AgentPrompt != "" {
		prompt.WriteString(r.cfg.Harness.AgentPrompt)
		prompt.WriteString("\n\n")
	}
	prompt.WriteString(t.ProblemStatement)
	prompt.WriteString("\n")

	if err := os.WriteFile(filepath.Join(dir, "prompt.md"), []byte(prompt.String()), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("writing prompt: %w", err)
	}
	return dir, nil
}

// containerEnv builds the environment passed into the task container,
// including the MCP server descriptor when one is configured.
func (r *Runner) containerEnv(t *task.Task, runType string) []string {
	env := []string{
		"HOME=/tmp",
		"MCPBENCH_INSTANCE_ID=" + t.InstanceID,
		"MCPBENCH_RUN_TYPE=" + runType,
		"MCPBENCH_REPO=" + t.Repo,
		"MCPBENCH_BASE_COMMIT=" + t.BaseCommit,
		"MCPBENCH_MAX_ITERATIONS=" + fmt.Sprintf("%d", r.cfg.Harness.MaxIterations),
	}
	if r.cfg.Harness.Model != "" {
		env = append(env, "MCPBENCH_MODEL="+r.cfg.Harness.Model)
	}
	if runType == "mcp" && r.cfg.MCP.Command != "" {
		env = append(env, "MCPBENCH_MCP_COMMAND="+r.cfg.MCP.Command)
		if len(r.cfg.MCP.Args) > 0 {
			env = append(env, "MCPBENCH_MCP_ARGS="+strings.Join(r.cfg.MCP.Args, " "))
		}
		for k, v := range r.cfg.MCP.Env {
			env = append(env, k+"="+v)
		}
	}
	return env
}

func readReport(path string) (*agentReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report agentReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// sanitizeName replaces characters that are invalid in container names and
// filesystem paths.
func sanitizeName(s string) string {
	return strings.NewReplacer("/", "-", ":", "-", " ", "-").Replace(s)
}
