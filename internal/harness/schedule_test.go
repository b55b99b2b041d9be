package harness

import (
	"testing"
	"time"
)

func TestStaggerDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		index         int
		maxConcurrent int
		want          time.Duration
	}{
		{"first task immediate", 0, 5, 0},
		{"second task waits", 1, 5, 2 * time.Second},
		{"third task waits longer", 2, 5, 4 * time.Second},
		{"last of first wave", 4, 5, 8 * time.Second},
		{"at concurrency limit", 5, 5, 0},
		{"well past first wave", 10, 5, 0},
		{"serial run never staggers", 3, 1, 0},
		{"zero concurrency", 2, 0, 0},
		{"negative index", -1, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := StaggerDelay(tt.index, tt.maxConcurrent); got != tt.want {
				t.Errorf("StaggerDelay(%d, %d) = %v, want %v", tt.index, tt.maxConcurrent, got, tt.want)
			}
		})
	}
}

func TestStaggerDelayStrictlyIncreasingInFirstWave(t *testing.T) {
	t.Parallel()

	const maxConcurrent = 8
	prev := StaggerDelay(0, maxConcurrent)
	for i := 1; i < maxConcurrent; i++ {
		d := StaggerDelay(i, maxConcurrent)
		if d <= prev {
			t.Errorf("delay at index %d (%v) not greater than index %d (%v)", i, d, i-1, prev)
		}
		if d-prev < 100*time.Millisecond {
			t.Errorf("indexes %d and %d only %v apart, too close to spread cold starts", i-1, i, d-prev)
		}
		prev = d
	}
}

func TestShouldRetryZeroIteration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result *TaskResult
		want   bool
	}{
		{"zero-iteration timeout", &TaskResult{Iterations: 0, Status: StatusTimeout}, true},
		{"timeout with progress", &TaskResult{Iterations: 5, Status: StatusTimeout}, false},
		{"zero-iteration error", &TaskResult{Iterations: 0, Status: StatusError}, false},
		{"zero-iteration completed", &TaskResult{Iterations: 0, Status: StatusCompleted}, false},
		{"completed with progress", &TaskResult{Iterations: 20, Status: StatusCompleted}, false},
		{"nil result", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ShouldRetryZeroIteration(tt.result); got != tt.want {
				t.Errorf("ShouldRetryZeroIteration(%+v) = %v, want %v", tt.result, got, tt.want)
			}
		})
	}
}
