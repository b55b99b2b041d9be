package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpbench/mcpbench/internal/cache"
	"github.com/mcpbench/mcpbench/internal/harness"
	"github.com/mcpbench/mcpbench/internal/runner"
	"github.com/mcpbench/mcpbench/internal/task"
)

var (
	evalTasksFile      string
	evalRunTypes       string
	evalOutputDir      string
	evalNoCache        bool
	evalKeepWorkspaces bool
)

// EvalSummary holds the summary for one run type over a task set.
type EvalSummary struct {
	RunType      string                `json:"run_type"`
	AgentHarness string                `json:"agent_harness"`
	Model        string                `json:"model,omitempty"`
	Benchmark    string                `json:"benchmark,omitempty"`
	Timestamp    string                `json:"timestamp"`
	Results      []*harness.TaskResult `json:"results"`
	Resolved     int                   `json:"resolved"`
	Unresolved   int                   `json:"unresolved"`
	Errors       int                   `json:"errors"`
	Total        int                   `json:"total"`
	ResolveRate  float64               `json:"resolve_rate"`
	CacheHits    int                   `json:"cache_hits"`
	TotalCost    float64               `json:"total_cost"`
	Duration     float64               `json:"duration_seconds"`
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate an agent against a benchmark task file",
	Long: `Runs every task in a benchmark export against the configured agent
harness, once per requested run type, and reports resolve rates.

Run types partition the cache namespace: "mcp" runs the agent with the
configured MCP server attached, "baseline" runs it without. Results are
cached by task and config content, so interrupted evaluations resume
for free.

Examples:
  mcpbench eval --tasks swe-bench-lite.jsonl
  mcpbench eval --tasks tasks.jsonl --run-types mcp,baseline
  mcpbench eval --tasks tasks.jsonl --no-cache`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if evalTasksFile == "" {
			return fmt.Errorf("--tasks is required")
		}

		allTasks, err := task.LoadFile(evalTasksFile)
		if err != nil {
			return err
		}

		runTypes := splitRunTypes(evalRunTypes)
		if len(runTypes) == 0 {
			return fmt.Errorf("--run-types must name at least one of mcp, baseline")
		}

		outputDir := evalOutputDir
		if outputDir == "" {
			outputDir = cfg.Harness.OutputDir
		}
		timestamp := time.Now().Format("2006-01-02T150405")
		runDir := filepath.Join(outputDir, timestamp+"-"+cfg.Harness.AgentHarness)
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}

		var store *cache.Store
		if cfg.Cache.Enabled && !evalNoCache {
			store, err = newStore()
			if err != nil {
				return fmt.Errorf("opening result cache: %w", err)
			}
		}

		r, err := runner.NewRunner(cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = r.Close() }()
		r.KeepWorkspaces = evalKeepWorkspaces

		h := harness.New(cfg, store, r, logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Println(" MCPBENCH EVALUATION")
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Println()
		fmt.Printf(" Harness:   %s\n", cfg.Harness.AgentHarness)
		if cfg.Harness.Model != "" {
			fmt.Printf(" Model:     %s\n", cfg.Harness.Model)
		}
		fmt.Printf(" Benchmark: %s\n", cfg.Harness.Benchmark)
		fmt.Printf(" Tasks:     %d\n", len(allTasks))
		fmt.Printf(" Run types: %s\n", strings.Join(runTypes, ", "))
		fmt.Printf(" Parallel:  %d\n", cfg.Harness.MaxConcurrent)
		fmt.Printf(" Output:    %s\n", runDir)
		fmt.Println()

		for _, runType := range runTypes {
			if ctx.Err() != nil {
				break
			}

			fmt.Println("─────────────────────────────────────────────────────────────")
			fmt.Printf(" Run type: %s\n", runType)
			fmt.Println("─────────────────────────────────────────────────────────────")

			start := time.Now()
			outcomes := h.Run(ctx, allTasks, runType)
			summary := summarize(runType, timestamp, outcomes)
			summary.Duration = time.Since(start).Seconds()

			printSummary(summary)

			path := filepath.Join(runDir, "summary-"+runType+".json")
			if err := writeSummary(path, summary); err != nil {
				logger.Warn("failed to save summary", "error", err)
			}
		}

		if store != nil {
			printCacheStats(store.Stats())
		}

		return ctx.Err()
	},
}

// splitRunTypes parses the --run-types flag, keeping only known labels.
func splitRunTypes(s string) []string {
	var out []string
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "mcp" || tok == "baseline" {
			out = append(out, tok)
		}
	}
	return out
}

// summarize aggregates outcomes into an EvalSummary.
func summarize(runType, timestamp string, outcomes []harness.Outcome) *EvalSummary {
	s := &EvalSummary{
		RunType:      runType,
		AgentHarness: cfg.Harness.AgentHarness,
		Model:        cfg.Harness.Model,
		Benchmark:    cfg.Harness.Benchmark,
		Timestamp:    timestamp,
	}

	for _, o := range outcomes {
		s.Total++
		if o.Err != nil || o.Result == nil {
			s.Errors++
			continue
		}
		s.Results = append(s.Results, o.Result)
		s.TotalCost += o.Result.Cost
		if o.Result.Cached {
			s.CacheHits++
		}
		switch {
		case o.Result.Resolved:
			s.Resolved++
		case o.Result.Status == harness.StatusError:
			s.Errors++
		default:
			s.Unresolved++
		}
	}

	if s.Total > 0 {
		s.ResolveRate = float64(s.Resolved) / float64(s.Total) * 100
	}
	return s
}

func printSummary(s *EvalSummary) {
	fmt.Println()
	fmt.Printf(" Resolved:     %d/%d (%.1f%%)\n", s.Resolved, s.Total, s.ResolveRate)
	fmt.Printf(" Unresolved:   %d\n", s.Unresolved)
	fmt.Printf(" Errors:       %d\n", s.Errors)
	fmt.Printf(" Cache hits:   %d\n", s.CacheHits)
	fmt.Printf(" Total cost:   $%.2f\n", s.TotalCost)
	fmt.Printf(" Duration:     %.1fs\n", s.Duration)
	fmt.Println()
}

func writeSummary(path string, s *EvalSummary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}

func init() {
	evalCmd.Flags().StringVar(&evalTasksFile, "tasks", "", "benchmark task file (JSONL or JSON array)")
	evalCmd.Flags().StringVar(&evalRunTypes, "run-types", "mcp", "comma-separated run types (mcp, baseline)")
	evalCmd.Flags().StringVar(&evalOutputDir, "output", "", "output directory (default from config)")
	evalCmd.Flags().BoolVar(&evalNoCache, "no-cache", false, "bypass the result cache")
	evalCmd.Flags().BoolVar(&evalKeepWorkspaces, "keep-workspaces", false, "keep per-task workspaces for debugging")
}
