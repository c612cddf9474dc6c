// Package sync partitions per-key state and locking across a fixed set of
// shards, so memory for locks stays bounded however many identifiers are seen.
package sync

import (
	"sync"
)

// ShardCount is the number of shards used by ShardedMutex and by stores that
// partition their state with ShardIndex.
const ShardCount = 32

// ShardedMutex serializes work per key. Two keys that share a shard
// serialize; a key never maps to two shards.
type ShardedMutex struct {
	shards [ShardCount]sync.Mutex
}

func NewShardedMutex() *ShardedMutex {
	return &ShardedMutex{}
}

// Lock acquires the shard owning key and returns the matching unlock:
//
//	defer locks.Lock(key)()
func (m *ShardedMutex) Lock(key string) (unlock func()) {
	mu := &m.shards[ShardIndex(key, ShardCount)]
	mu.Lock()
	return mu.Unlock
}

// ShardIndex returns the shard in [0, n) that owns key.
func ShardIndex(key string, n int) int {
	if key == "" || n <= 1 {
		return 0
	}
	return int(fnv32a(key) % uint32(n))
}

const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// fnv32a is FNV-1a over the key bytes without the hash.Hash allocation.
func fnv32a(s string) uint32 {
	h := uint32(fnvOffset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}
