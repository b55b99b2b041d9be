// Package cache implements the content-addressed task result cache.
//
// Each cached evaluation outcome lives in its own JSON file under a
// two-character shard directory derived from its key, with one stats.json at
// the cache root. The cache is built for many worker processes sharing one
// directory: writes are atomic at single-file granularity (temp file plus
// rename), but there is no cross-process lock around the read-check-evict
// sequence or the stats record. Under concurrent writers the aggregate
// counters and the eviction sweep can drift; cached results themselves never
// can. That trade-off is deliberate.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mcpbench/mcpbench/internal/config"
	"github.com/mcpbench/mcpbench/internal/task"
)

const entryExt = ".json"

// entry is the on-disk representation of one cached outcome.
type entry struct {
	Key        string         `json:"key"`
	Result     map[string]any `json:"result"`
	Timestamp  float64        `json:"timestamp"`
	Version    string         `json:"version"`
	TaskHash   string         `json:"task_hash"`
	ConfigHash string         `json:"config_hash"`
}

// Options configures a Store.
type Options struct {
	Dir          string        // Cache root; defaults to config.DefaultCacheDir()
	TTL          time.Duration // 0 disables expiry
	MaxSizeBytes int64         // 0 disables the size limit
	Version      string        // Producing version, used for invalidation
	Logger       *slog.Logger
}

// Store is an on-disk result cache keyed by task, config, and run type.
// Safe for concurrent use by multiple goroutines; the mutex guards the
// in-memory stats record, not the entry files.
//
// Eviction recency is the entry file's mtime, which only a Put refreshes:
// repeated reads of a hot entry do not protect it from eviction.
type Store struct {
	dir     string
	ttl     time.Duration
	maxSize int64
	version string
	logger  *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Store rooted at opts.Dir, creating the directory if needed.
func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		opts.Dir = config.DefaultCacheDir()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	s := &Store{
		dir:     opts.Dir,
		ttl:     opts.TTL,
		maxSize: opts.MaxSizeBytes,
		version: opts.Version,
		logger:  opts.Logger,
	}
	s.stats = s.loadStats()
	s.stats.TotalEntries, s.stats.SizeBytes = s.scan()
	return s, nil
}

// Dir returns the cache root directory.
func (s *Store) Dir() string {
	return s.dir
}

// entryPath returns the sharded file path for a key. The first two key
// characters name the shard directory, bounding per-directory fan-out.
func (s *Store) entryPath(key string) string {
	return filepath.Join(s.dir, key[:2], key+entryExt)
}

// Get returns the cached result for (task, config, runType), or ok=false on
// any form of miss: absent, expired, version-mismatched, or corrupted. The
// cache self-heals by deleting bad entries; Get never returns an error.
func (s *Store) Get(t *task.Task, cfg *config.Config, runType string) (map[string]any, bool) {
	key := DeriveKey(s.version, TaskHash(t), ConfigHash(cfg), runType)
	path := s.entryPath(key)

	data, err := os.ReadFile(path)
	if err != nil {
		s.recordMiss()
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil || e.Key == "" || e.Version == "" || e.Result == nil {
		// Corrupted entry: delete and treat as a miss.
		s.logger.Debug("removing corrupted cache entry", "key", key)
		s.recordMiss()
		_ = os.Remove(path)
		return nil, false
	}

	if e.Version != s.version {
		s.recordMiss()
		_ = os.Remove(path)
		return nil, false
	}

	if s.ttl > 0 {
		age := nowSeconds() - e.Timestamp
		if age > s.ttl.Seconds() {
			s.recordMiss()
			_ = os.Remove(path)
			return nil, false
		}
	}

	s.recordHit()
	return e.Result, true
}

// Put stores a result for (task, config, runType). The entry file is written
// to a temp path and renamed into place so concurrent readers never observe
// a partial write. A write failure is returned to the caller: silently
// dropping a result would cause an invisible, expensive re-computation.
func (s *Store) Put(t *task.Task, cfg *config.Config, runType string, result map[string]any) error {
	taskHash := TaskHash(t)
	configHash := ConfigHash(cfg)
	key := DeriveKey(s.version, taskHash, configHash, runType)

	e := entry{
		Key:        key,
		Result:     result,
		Timestamp:  nowSeconds(),
		Version:    s.version,
		TaskHash:   taskHash,
		ConfigHash: configHash,
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}

	path := s.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache shard: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("committing cache entry: %w", err)
	}

	s.mu.Lock()
	s.stats.TotalEntries, s.stats.SizeBytes = s.scan()
	s.saveStats()
	s.enforceSizeLimit()
	s.mu.Unlock()
	return nil
}

// Clear deletes every cache entry and empty shard directory, resets the
// gauges, and returns the number of entries removed.
func (s *Store) Clear() (int, error) {
	count := 0
	shards, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("reading cache directory: %w", err)
	}

	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(s.dir, shard.Name())
		files, err := os.ReadDir(shardDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != entryExt {
				continue
			}
			if err := os.Remove(filepath.Join(shardDir, f.Name())); err != nil {
				return count, fmt.Errorf("removing cache entry: %w", err)
			}
			count++
		}
		// Shard dirs are recreated on demand; removal failures are fine.
		_ = os.Remove(shardDir)
	}

	s.mu.Lock()
	s.stats.TotalEntries = 0
	s.stats.SizeBytes = 0
	s.saveStats()
	s.mu.Unlock()
	return count, nil
}

// InvalidateVersion deletes every entry whose embedded version equals v and
// returns the count removed. This is a full-store scan; populations are
// bounded by the size limit, so O(n) is acceptable.
func (s *Store) InvalidateVersion(v string) (int, error) {
	count := 0
	for _, path := range s.entryFiles() {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		if e.Version == v {
			if err := os.Remove(path); err != nil {
				continue
			}
			count++
		}
	}

	s.mu.Lock()
	s.stats.TotalEntries, s.stats.SizeBytes = s.scan()
	s.saveStats()
	s.mu.Unlock()
	return count, nil
}

// Stats returns current cache statistics with the entry count and size
// gauges reconciled against the directory.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TotalEntries, s.stats.SizeBytes = s.scan()
	return s.stats
}

func (s *Store) recordHit() {
	s.mu.Lock()
	s.stats.Hits++
	s.saveStats()
	s.mu.Unlock()
}

func (s *Store) recordMiss() {
	s.mu.Lock()
	s.stats.Misses++
	s.saveStats()
	s.mu.Unlock()
}

// entryFiles returns the paths of all entry files across shard directories.
func (s *Store) entryFiles() []string {
	var paths []string
	shards, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(s.dir, shard.Name())
		files, err := os.ReadDir(shardDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !f.IsDir() && filepath.Ext(f.Name()) == entryExt {
				paths = append(paths, filepath.Join(shardDir, f.Name()))
			}
		}
	}
	return paths
}

// scan walks the store and returns the entry count and cumulative size.
func (s *Store) scan() (int, int64) {
	count := 0
	var size int64
	for _, path := range s.entryFiles() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		count++
		size += info.Size()
	}
	return count, size
}

// enforceSizeLimit evicts least-recently-written entries until the store is
// at or under the configured ceiling. File mtime is the recency proxy.
// Individual eviction failures are skipped, never aborting the pass.
// Caller holds s.mu.
func (s *Store) enforceSizeLimit() {
	if s.maxSize <= 0 || s.stats.SizeBytes <= s.maxSize {
		return
	}

	type candidate struct {
		path  string
		mtime time.Time
		size  int64
	}
	var candidates []candidate
	for _, path := range s.entryFiles() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path, info.ModTime(), info.Size()})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].mtime.Before(candidates[j].mtime)
	})

	for _, c := range candidates {
		if s.stats.SizeBytes <= s.maxSize {
			break
		}
		if err := os.Remove(c.path); err != nil {
			continue
		}
		s.logger.Debug("evicted cache entry", "path", c.path, "size", c.size)
		s.stats.SizeBytes -= c.size
		s.stats.TotalEntries--
	}

	s.saveStats()
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
