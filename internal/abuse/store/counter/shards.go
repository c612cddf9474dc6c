// Package counter implements the windowed failure counters behind the lockout
// state machine. The in-memory sliding log is the reference implementation;
// the Redis store shares it across processes and the approximate store trades
// a bounded error for constant memory per key.
package counter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"warden/internal/abuse/metrics"
	psync "warden/pkg/platform/sync"
)

// DefaultMaxKeys bounds the number of live keys in an in-memory store.
const DefaultMaxKeys = 1 << 20

// window is the per-key state an in-memory store keeps.
type window interface {
	// prune drops observations that can no longer be counted at now and
	// reports whether anything is left.
	prune(now time.Time) (live bool)
}

// shardedLRU partitions keys across psync.ShardCount shards, each guarded by
// its own mutex and bounded by an LRU. Evicting a key under capacity pressure
// forgets its observations, so the key reads as zero afterwards.
type shardedLRU[W window] struct {
	shards      [psync.ShardCount]*lruShard[W]
	maxPerShard int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type lruShard[W window] struct {
	mu   sync.Mutex
	logs *simplelru.LRU[string, W]
}

func newShardedLRU[W window](maxKeys int, logger *slog.Logger, m *metrics.Metrics) *shardedLRU[W] {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	perShard := max(1, (maxKeys+psync.ShardCount-1)/psync.ShardCount)
	s := &shardedLRU[W]{maxPerShard: perShard, logger: logger, metrics: m}
	for i := range s.shards {
		// Evictions are done by hand in getOrCreate so that Remove on reset
		// is not mistaken for capacity pressure; the LRU itself never fills.
		lru, _ := simplelru.NewLRU[string, W](perShard+1, nil)
		s.shards[i] = &lruShard[W]{logs: lru}
	}
	return s
}

func (s *shardedLRU[W]) shardFor(key string) (int, *lruShard[W]) {
	idx := psync.ShardIndex(key, psync.ShardCount)
	return idx, s.shards[idx]
}

// with runs fn on the key's shard while holding the shard lock.
func (s *shardedLRU[W]) with(key string, fn func(sh *lruShard[W])) {
	_, sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	fn(sh)
}

// getOrCreate returns the window for key, creating it with create when absent.
// Must be called with the shard lock held.
func (s *shardedLRU[W]) getOrCreate(ctx context.Context, key string, sh *lruShard[W], create func() W) W {
	if w, ok := sh.logs.Get(key); ok {
		return w
	}
	if sh.logs.Len() >= s.maxPerShard {
		if evicted, _, ok := sh.logs.RemoveOldest(); ok {
			idx, _ := s.shardFor(key)
			if s.logger != nil {
				s.logger.WarnContext(ctx, "counter_capacity_eviction",
					"evicted_key", evicted,
					"shard", idx,
					"max_keys_per_shard", s.maxPerShard,
				)
			}
			s.metrics.IncrementCounterEvictions()
		}
	}
	w := create()
	sh.logs.Add(key, w)
	return w
}

func (s *shardedLRU[W]) remove(key string) {
	s.with(key, func(sh *lruShard[W]) {
		sh.logs.Remove(key)
	})
}

// len returns the number of live keys across all shards.
func (s *shardedLRU[W]) len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += sh.logs.Len()
		sh.mu.Unlock()
	}
	return n
}

// sweep prunes every key and drops the empty ones. Each shard is processed in
// slices of at most batch keys so that a foreground caller never waits for
// more than one slice.
func (s *shardedLRU[W]) sweep(ctx context.Context, now time.Time, batch int) (int, error) {
	if batch <= 0 {
		batch = 256
	}
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		keys := sh.logs.Keys()
		sh.mu.Unlock()

		for start := 0; start < len(keys); start += batch {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			end := min(start+batch, len(keys))
			sh.mu.Lock()
			for _, key := range keys[start:end] {
				w, ok := sh.logs.Peek(key)
				if !ok {
					continue
				}
				if !w.prune(now) {
					sh.logs.Remove(key)
					removed++
				}
			}
			sh.mu.Unlock()
		}
	}
	return removed, nil
}
