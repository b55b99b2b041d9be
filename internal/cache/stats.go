package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Stats holds cache usage counters. Hits and Misses are persisted across
// process restarts; TotalEntries and SizeBytes are gauges reconciled against
// an actual directory scan rather than trusted incrementally.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	TotalEntries int   `json:"total_entries"`
	SizeBytes    int64 `json:"cache_size_bytes"`
}

// HitRate returns the fraction of lookups that were hits, 0 when no lookups
// have occurred.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

const statsFile = "stats.json"

func (s *Store) statsPath() string {
	return filepath.Join(s.dir, statsFile)
}

// loadStats reads the persisted stats record. An absent or unparsable file
// yields zero counters; the gauges are reconciled by the caller.
func (s *Store) loadStats() Stats {
	var st Stats
	data, err := os.ReadFile(s.statsPath())
	if err != nil {
		return Stats{}
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return Stats{}
	}
	return st
}

// saveStats persists the stats record. Stats are best-effort telemetry:
// persist failures are swallowed, never surfaced to cache callers.
func (s *Store) saveStats() {
	data, err := json.Marshal(s.stats)
	if err != nil {
		return
	}
	if err := os.WriteFile(s.statsPath(), data, 0o644); err != nil {
		s.logger.Debug("failed to persist cache stats", "error", err)
	}
}
