// Package lockout stores the per identifier/operation lockout records. Records
// are ephemeral: the in-memory store is authoritative for one process and the
// badger snapshotter carries it across restarts.
package lockout

import (
	"context"
	"sync"
	"time"

	"warden/internal/abuse/models"
	psync "warden/pkg/platform/sync"
)

type shard struct {
	mu      sync.RWMutex
	records map[string]*models.LockoutRecord
}

// InMemoryLockoutStore partitions records across psync.ShardCount shards.
// Records are copied on the way in and out so callers never share state
// with the store.
type InMemoryLockoutStore struct {
	shards [psync.ShardCount]*shard
}

func New() *InMemoryLockoutStore {
	s := &InMemoryLockoutStore{}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]*models.LockoutRecord)}
	}
	return s
}

func (s *InMemoryLockoutStore) shardFor(key string) *shard {
	return s.shards[psync.ShardIndex(key, psync.ShardCount)]
}

// Get returns the record for key, or nil when none exists.
func (s *InMemoryLockoutStore) Get(_ context.Context, key string) (*models.LockoutRecord, error) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.records[key].Clone(), nil
}

func (s *InMemoryLockoutStore) Put(_ context.Context, record *models.LockoutRecord) error {
	key := record.Key()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.records[key] = record.Clone()
	return nil
}

func (s *InMemoryLockoutStore) Delete(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.records, key)
	return nil
}

// Sweep removes records that carry no information at now: expired and with no
// escalation streak. Records with a streak are kept so growth still compounds
// after the block itself lapses. Each shard is processed in slices of at most
// batch records.
func (s *InMemoryLockoutStore) Sweep(ctx context.Context, now time.Time, batch int) (int, error) {
	if batch <= 0 {
		batch = 256
	}
	removed := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		keys := make([]string, 0, len(sh.records))
		for k := range sh.records {
			keys = append(keys, k)
		}
		sh.mu.RUnlock()

		for start := 0; start < len(keys); start += batch {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			end := min(start+batch, len(keys))
			sh.mu.Lock()
			for _, k := range keys[start:end] {
				if r, ok := sh.records[k]; ok && r.IsIdle(now) {
					delete(sh.records, k)
					removed++
				}
			}
			sh.mu.Unlock()
		}
	}
	return removed, nil
}

// All returns a copy of every record, for snapshots.
func (s *InMemoryLockoutStore) All(_ context.Context) ([]*models.LockoutRecord, error) {
	var out []*models.LockoutRecord
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, r := range sh.records {
			out = append(out, r.Clone())
		}
		sh.mu.RUnlock()
	}
	return out, nil
}

// Restore loads records without overwriting newer ones already present.
func (s *InMemoryLockoutStore) Restore(_ context.Context, records []*models.LockoutRecord) (int, error) {
	restored := 0
	for _, r := range records {
		key := r.Key()
		sh := s.shardFor(key)
		sh.mu.Lock()
		if existing, ok := sh.records[key]; !ok || existing.UpdatedAt.Before(r.UpdatedAt) {
			sh.records[key] = r.Clone()
			restored++
		}
		sh.mu.Unlock()
	}
	return restored, nil
}

// Len returns the number of stored records.
func (s *InMemoryLockoutStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.records)
		sh.mu.RUnlock()
	}
	return n
}
