package harness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mcpbench/mcpbench/internal/cache"
	"github.com/mcpbench/mcpbench/internal/config"
	"github.com/mcpbench/mcpbench/internal/task"
)

func runTask(id string) *task.Task {
	return &task.Task{InstanceID: id, ProblemStatement: "fix it"}
}

func runConfig(maxConcurrent int) *config.Config {
	cfg := config.Default
	cfg.Harness.Model = "claude-sonnet-4"
	cfg.Harness.MaxConcurrent = maxConcurrent
	return &cfg
}

// fakeRunner scripts per-task result sequences and tracks call counts and
// peak concurrency.
type fakeRunner struct {
	mu         sync.Mutex
	calls      map[string]int
	scripted   map[string][]*TaskResult
	err        error
	delay      time.Duration
	running    int
	maxRunning int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		calls:    make(map[string]int),
		scripted: make(map[string][]*TaskResult),
	}
}

func (f *fakeRunner) RunTask(ctx context.Context, t *task.Task, runType string) (*TaskResult, error) {
	f.mu.Lock()
	f.calls[t.InstanceID]++
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	var res *TaskResult
	if q := f.scripted[t.InstanceID]; len(q) > 0 {
		res = q[0]
		if len(q) > 1 {
			f.scripted[t.InstanceID] = q[1:]
		}
	}
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			f.done()
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	f.done()

	if f.err != nil {
		return nil, f.err
	}
	if res == nil {
		res = &TaskResult{InstanceID: t.InstanceID, Resolved: true, Status: StatusCompleted, Iterations: 3}
	}
	return res, nil
}

func (f *fakeRunner) done() {
	f.mu.Lock()
	f.running--
	f.mu.Unlock()
}

func (f *fakeRunner) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeRunner) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func newTestStore(t *testing.T) *cache.Store {
	t.Helper()
	s, err := cache.New(cache.Options{Dir: t.TempDir(), Version: "test"})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	return s
}

func TestRunReturnsOutcomesInTaskOrder(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	h := New(runConfig(1), nil, runner, nil)

	tasks := []*task.Task{runTask("b"), runTask("a"), runTask("c")}
	outcomes := h.Run(context.Background(), tasks, "mcp")

	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Task != tasks[i] {
			t.Errorf("outcome %d is for %q, want %q", i, o.Task.InstanceID, tasks[i].InstanceID)
		}
		if o.Err != nil || o.Result == nil {
			t.Errorf("outcome %d failed: %v", i, o.Err)
		}
	}
}

func TestRunCachesResults(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	cfg := runConfig(1)
	tk := runTask("task-001")

	first := newFakeRunner()
	outcomes := New(cfg, store, first, nil).Run(context.Background(), []*task.Task{tk}, "mcp")
	if outcomes[0].Err != nil || outcomes[0].CacheErr != nil {
		t.Fatalf("first run failed: %v %v", outcomes[0].Err, outcomes[0].CacheErr)
	}
	if outcomes[0].Result.Cached {
		t.Error("fresh run marked as cached")
	}

	second := newFakeRunner()
	outcomes = New(cfg, store, second, nil).Run(context.Background(), []*task.Task{tk}, "mcp")
	if outcomes[0].Err != nil {
		t.Fatalf("second run failed: %v", outcomes[0].Err)
	}
	if !outcomes[0].Result.Cached {
		t.Error("second run not served from cache")
	}
	if !outcomes[0].Result.Resolved || outcomes[0].Result.Iterations != 3 {
		t.Errorf("cached result mangled: %+v", outcomes[0].Result)
	}
	if second.totalCalls() != 0 {
		t.Errorf("runner invoked %d times despite cache hit", second.totalCalls())
	}
}

func TestRunCacheIsolatedByRunType(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	cfg := runConfig(1)
	tk := runTask("task-001")

	runner := newFakeRunner()
	h := New(cfg, store, runner, nil)

	h.Run(context.Background(), []*task.Task{tk}, "mcp")
	h.Run(context.Background(), []*task.Task{tk}, "baseline")

	if got := runner.callCount("task-001"); got != 2 {
		t.Errorf("runner called %d times, want one per run type", got)
	}
}

func TestRunRetriesZeroIterationTimeoutOnce(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.scripted["task-001"] = []*TaskResult{
		{InstanceID: "task-001", Status: StatusTimeout, Iterations: 0},
		{InstanceID: "task-001", Status: StatusCompleted, Resolved: true, Iterations: 12},
	}

	h := New(runConfig(1), nil, runner, nil)
	outcomes := h.Run(context.Background(), []*task.Task{runTask("task-001")}, "mcp")

	res := outcomes[0].Result
	if res == nil {
		t.Fatalf("no result: %v", outcomes[0].Err)
	}
	if res.Status != StatusCompleted || !res.Retried {
		t.Errorf("retry result not used: %+v", res)
	}
	if got := runner.callCount("task-001"); got != 2 {
		t.Errorf("runner called %d times, want 2", got)
	}
}

func TestRunRetryCapIsOne(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.scripted["task-001"] = []*TaskResult{
		{InstanceID: "task-001", Status: StatusTimeout, Iterations: 0},
	}

	h := New(runConfig(1), nil, runner, nil)
	outcomes := h.Run(context.Background(), []*task.Task{runTask("task-001")}, "mcp")

	res := outcomes[0].Result
	if res == nil || res.Status != StatusTimeout {
		t.Fatalf("want the second timeout surfaced, got %+v", res)
	}
	if got := runner.callCount("task-001"); got != 2 {
		t.Errorf("runner called %d times, want exactly 2", got)
	}
}

func TestRunNoRetryAfterProgress(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.scripted["task-001"] = []*TaskResult{
		{InstanceID: "task-001", Status: StatusTimeout, Iterations: 9},
	}

	h := New(runConfig(1), nil, runner, nil)
	h.Run(context.Background(), []*task.Task{runTask("task-001")}, "mcp")

	if got := runner.callCount("task-001"); got != 1 {
		t.Errorf("runner called %d times, want 1: timeouts after progress are final", got)
	}
}

func TestRunSurfacesRunnerErrors(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.err = errors.New("daemon unreachable")

	h := New(runConfig(1), nil, runner, nil)
	outcomes := h.Run(context.Background(), []*task.Task{runTask("task-001")}, "mcp")

	if outcomes[0].Err == nil {
		t.Error("infrastructure error not surfaced on the outcome")
	}
	if outcomes[0].Result != nil {
		t.Errorf("outcome has both an error and a result: %+v", outcomes[0].Result)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.delay = 50 * time.Millisecond

	cfg := runConfig(2)
	tasks := make([]*task.Task, 6)
	for i := range tasks {
		tasks[i] = runTask(string(rune('a' + i)))
	}

	outcomes := New(cfg, nil, runner, nil).Run(context.Background(), tasks, "mcp")
	for _, o := range outcomes {
		if o.Err != nil {
			t.Fatalf("task %s failed: %v", o.Task.InstanceID, o.Err)
		}
	}
	if runner.maxRunning > 2 {
		t.Errorf("observed %d concurrent runs, limit is 2", runner.maxRunning)
	}
}

func TestRunCancellationAbortsStaggeredTasks(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	cfg := runConfig(4)
	tasks := []*task.Task{runTask("a"), runTask("b"), runTask("c")}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Task a starts immediately; b and c are still in their 2s and 4s
		// stagger sleeps when the run is cancelled.
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	outcomes := New(cfg, nil, runner, nil).Run(ctx, tasks, "mcp")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("run took %v after cancellation, staggered tasks did not abort", elapsed)
	}

	if outcomes[0].Err != nil || outcomes[0].Result == nil {
		t.Errorf("unstaggered task should have finished: %v", outcomes[0].Err)
	}
	for _, o := range outcomes[1:] {
		if !errors.Is(o.Err, context.Canceled) {
			t.Errorf("task %s: err = %v, want context.Canceled", o.Task.InstanceID, o.Err)
		}
	}
	if got := runner.totalCalls(); got != 1 {
		t.Errorf("runner called %d times, want only the unstaggered task", got)
	}
}

func TestRunPreCancelled(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := New(runConfig(2), nil, runner, nil).Run(ctx, []*task.Task{runTask("a"), runTask("b")}, "mcp")
	for _, o := range outcomes {
		if !errors.Is(o.Err, context.Canceled) {
			t.Errorf("task %s: err = %v, want context.Canceled", o.Task.InstanceID, o.Err)
		}
	}
	if runner.totalCalls() != 0 {
		t.Errorf("runner invoked under a cancelled context")
	}
}

func TestResultPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	in := &TaskResult{
		InstanceID:     "task-001",
		Resolved:       true,
		PatchApplied:   true,
		Status:         StatusCompleted,
		Iterations:     14,
		ToolCalls:      40,
		Tokens:         TokenUsage{Input: 120000, Output: 8000},
		Cost:           1.37,
		RuntimeSeconds: 612.5,
		Retried:        true,
		Cached:         true,
	}

	payload, err := in.ToPayload()
	if err != nil {
		t.Fatalf("ToPayload: %v", err)
	}
	if _, ok := payload["instance_id"]; !ok {
		t.Error("payload missing instance_id")
	}
	if _, ok := payload["cached"]; ok {
		t.Error("cached flag leaked into the persisted payload")
	}

	out, err := ResultFromPayload(payload)
	if err != nil {
		t.Fatalf("ResultFromPayload: %v", err)
	}
	if out.Cached {
		t.Error("cached flag set on a reconstructed result")
	}
	out.Cached = in.Cached
	if *out != *in {
		t.Errorf("round trip changed the result:\n got %+v\nwant %+v", out, in)
	}
}
