package harness

import "time"

// staggerStep is the launch spacing between consecutive tasks in the first
// concurrent wave. Sized for a container backend pulling images: enough to
// keep simultaneous pulls from piling up, small enough to be noise over a
// multi-minute task run.
const staggerStep = 2 * time.Second

// StaggerDelay returns the pre-admission delay for the task at the given
// dispatch index. Only the first wave (index < maxConcurrent) is staggered;
// later tasks are already serialized by the concurrency gate, and with no
// concurrency there is nothing to spread out. Pure function, no randomness.
func StaggerDelay(index, maxConcurrent int) time.Duration {
	if maxConcurrent <= 1 {
		return 0
	}
	if index <= 0 || index >= maxConcurrent {
		return 0
	}
	return time.Duration(index) * staggerStep
}

// ShouldRetryZeroIteration reports whether a result looks like a cold-start
// failure worth one retry: the agent timed out before completing a single
// iteration. A timeout after real progress is a genuine timeout, and a
// zero-iteration error (for example a broken configuration) would fail the
// same way again. The policy is stateless; the caller enforces the
// retry-at-most-once cap.
func ShouldRetryZeroIteration(r *TaskResult) bool {
	return r != nil && r.Iterations == 0 && r.Status == StatusTimeout
}
