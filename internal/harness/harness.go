// Package harness orchestrates concurrent task evaluation: cache lookups,
// cold-start staggering, admission gating, and the zero-iteration retry.
package harness

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mcpbench/mcpbench/internal/cache"
	"github.com/mcpbench/mcpbench/internal/config"
	"github.com/mcpbench/mcpbench/internal/task"
)

// TaskRunner executes a single task attempt. Implementations map an exec
// timeout to a StatusTimeout result rather than an error; errors are
// reserved for infrastructure failures where no result exists.
type TaskRunner interface {
	RunTask(ctx context.Context, t *task.Task, runType string) (*TaskResult, error)
}

// Outcome pairs a task with its evaluation result.
type Outcome struct {
	Task   *task.Task
	Result *TaskResult
	Err    error

	// CacheErr records a failed result write. The run continues without
	// caching, but the failure stays visible to the caller.
	CacheErr error
}

// Harness runs tasks against an agent with bounded concurrency.
type Harness struct {
	cfg    *config.Config
	store  *cache.Store // nil disables caching
	runner TaskRunner
	logger *slog.Logger
}

// New creates a Harness. store may be nil to disable result caching.
func New(cfg *config.Config, store *cache.Store, runner TaskRunner, logger *slog.Logger) *Harness {
	if logger == nil {
		logger = slog.Default()
	}
	return &Harness{cfg: cfg, store: store, runner: runner, logger: logger}
}

// Run evaluates all tasks under the configured concurrency limit and returns
// one outcome per task, in task order. Cache lookups happen before any
// scheduling; misses sleep their stagger delay, wait for an admission slot,
// execute, and retry once on a zero-iteration timeout. Cancelling ctx aborts
// tasks still sleeping or waiting on the gate without side effects.
func (h *Harness) Run(ctx context.Context, tasks []*task.Task, runType string) []Outcome {
	maxConcurrent := h.cfg.Harness.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	gate := make(chan struct{}, maxConcurrent)
	outcomes := make([]Outcome, len(tasks))

	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(idx int, t *task.Task) {
			defer wg.Done()
			outcomes[idx] = h.runOne(ctx, idx, t, runType, gate, maxConcurrent)
		}(i, t)
	}
	wg.Wait()

	return outcomes
}

func (h *Harness) runOne(ctx context.Context, index int, t *task.Task, runType string, gate chan struct{}, maxConcurrent int) Outcome {
	if h.store != nil {
		if payload, ok := h.store.Get(t, h.cfg, runType); ok {
			if res, err := ResultFromPayload(payload); err == nil {
				res.Cached = true
				h.logger.Debug("cache hit", "task", t.InstanceID, "run_type", runType)
				return Outcome{Task: t, Result: res}
			}
			// Payload no longer decodes into a result; fall through to a
			// fresh run, which overwrites the entry.
		}
	}

	if err := ctx.Err(); err != nil {
		return Outcome{Task: t, Err: err}
	}

	if delay := StaggerDelay(index, maxConcurrent); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Outcome{Task: t, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	select {
	case <-ctx.Done():
		return Outcome{Task: t, Err: ctx.Err()}
	case gate <- struct{}{}:
	}
	defer func() { <-gate }()

	res, err := h.runner.RunTask(ctx, t, runType)
	if err != nil {
		return Outcome{Task: t, Err: err}
	}

	// A timeout with zero iterations usually means the backend was still
	// cold, not that the task is hard. Retry once, sequentially, holding
	// the same admission slot.
	if ShouldRetryZeroIteration(res) {
		h.logger.Info("zero-iteration timeout, retrying once", "task", t.InstanceID)
		retry, retryErr := h.runner.RunTask(ctx, t, runType)
		if retryErr != nil {
			h.logger.Warn("retry attempt failed", "task", t.InstanceID, "error", retryErr)
		} else {
			retry.Retried = true
			res = retry
		}
	}

	out := Outcome{Task: t, Result: res}
	if h.store != nil {
		payload, perr := res.ToPayload()
		if perr == nil {
			perr = h.store.Put(t, h.cfg, runType, payload)
		}
		if perr != nil {
			h.logger.Error("failed to cache result", "task", t.InstanceID, "error", perr)
			out.CacheErr = perr
		}
	}
	return out
}
