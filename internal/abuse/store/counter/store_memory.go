package counter

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"warden/internal/abuse/metrics"
	"warden/internal/abuse/models"
	"warden/internal/sentinel"
)

// slidingLog keeps every observation inside the retention horizon, sorted
// ascending, so that window counts are exact for any window up to retention.
type slidingLog struct {
	timestamps []time.Time
	retention  time.Duration
}

func (l *slidingLog) add(at time.Time) {
	i, _ := slices.BinarySearchFunc(l.timestamps, at, compareTime)
	// Insert after any equal timestamps to keep the slice stable.
	for i < len(l.timestamps) && l.timestamps[i].Equal(at) {
		i++
	}
	l.timestamps = slices.Insert(l.timestamps, i, at)
}

// countBetween returns the number of observations in [from, to].
func (l *slidingLog) countBetween(from, to time.Time) int {
	lo, _ := slices.BinarySearchFunc(l.timestamps, from, compareTime)
	hi, found := slices.BinarySearchFunc(l.timestamps, to, compareTime)
	for found && hi < len(l.timestamps) && l.timestamps[hi].Equal(to) {
		hi++
	}
	if hi < lo {
		return 0
	}
	return hi - lo
}

// prune drops observations older than now - retention.
func (l *slidingLog) prune(now time.Time) bool {
	cutoff := now.Add(-l.retention)
	i, _ := slices.BinarySearchFunc(l.timestamps, cutoff, compareTime)
	if i > 0 {
		l.timestamps = slices.Delete(l.timestamps, 0, i)
	}
	return len(l.timestamps) > 0
}

func compareTime(a, b time.Time) int {
	return a.Compare(b)
}

// InMemoryCounterStore is an exact sliding-log counter store.
type InMemoryCounterStore struct {
	logs *shardedLRU[*slidingLog]
}

type Option func(*options)

type options struct {
	maxKeys    int
	logger     *slog.Logger
	metrics    *metrics.Metrics
	resolution int
}

// WithMaxKeys bounds the number of keys held before least-recently-used keys
// are evicted.
func WithMaxKeys(n int) Option {
	return func(o *options) {
		o.maxKeys = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func buildOptions(opts []Option) options {
	o := options{maxKeys: DefaultMaxKeys, resolution: DefaultBuckets}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func NewInMemoryCounterStore(opts ...Option) *InMemoryCounterStore {
	o := buildOptions(opts)
	return &InMemoryCounterStore{logs: newShardedLRU[*slidingLog](o.maxKeys, o.logger, o.metrics)}
}

// Increment records an observation at at and returns the count within
// [at - retention, at]. Retention must cover the longest window later queried.
func (s *InMemoryCounterStore) Increment(ctx context.Context, key models.CounterKey, retention time.Duration, at time.Time) (int, error) {
	var count int
	s.logs.with(key.String(), func(sh *lruShard[*slidingLog]) {
		log := s.logs.getOrCreate(ctx, key.String(), sh, func() *slidingLog {
			return &slidingLog{retention: retention}
		})
		log.retention = max(log.retention, retention)
		log.add(at)
		log.prune(at)
		count = log.countBetween(at.Add(-retention), at)
	})
	return count, nil
}

// CountInWindow returns the observations in [at - window, at].
func (s *InMemoryCounterStore) CountInWindow(_ context.Context, key models.CounterKey, window time.Duration, at time.Time) (int, error) {
	var count int
	s.logs.with(key.String(), func(sh *lruShard[*slidingLog]) {
		log, ok := sh.logs.Get(key.String())
		if !ok {
			return
		}
		count = log.countBetween(at.Add(-window), at)
	})
	return count, nil
}

// Reset forgets every observation for the identifier/operation pair.
func (s *InMemoryCounterStore) Reset(_ context.Context, id models.Identifier, op models.Operation) error {
	s.logs.remove(models.NewCounterKey(id, op).String())
	return nil
}

// Record summarizes the retained observations of key.
func (s *InMemoryCounterStore) Record(_ context.Context, key models.CounterKey) (*models.CounterRecord, error) {
	var rec *models.CounterRecord
	s.logs.with(key.String(), func(sh *lruShard[*slidingLog]) {
		log, ok := sh.logs.Peek(key.String())
		if !ok || len(log.timestamps) == 0 {
			return
		}
		rec = &models.CounterRecord{
			Count:     len(log.timestamps),
			FirstSeen: log.timestamps[0],
			LastSeen:  log.timestamps[len(log.timestamps)-1],
		}
	})
	if rec == nil {
		return nil, sentinel.ErrNotFound
	}
	return rec, nil
}

// Sweep drops keys whose newest observation is older than its retention.
func (s *InMemoryCounterStore) Sweep(ctx context.Context, now time.Time, batch int) (int, error) {
	return s.logs.sweep(ctx, now, batch)
}

// Len returns the number of live keys.
func (s *InMemoryCounterStore) Len() int {
	return s.logs.len()
}
