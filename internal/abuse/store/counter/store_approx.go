package counter

import (
	"context"
	"math"
	"time"

	"warden/internal/abuse/models"
	"warden/internal/sentinel"
)

// DefaultBuckets is the number of buckets per retention horizon used by the
// approximate store. With 20 buckets a steady arrival rate is estimated to
// within 5%; in the worst case the estimate is off by the population of the
// single bucket straddling the window start.
const DefaultBuckets = 20

// bucketLog counts observations in fixed-width buckets and interpolates the
// bucket that straddles the window start. Memory per key is bounded by the
// bucket count instead of the number of observations.
type bucketLog struct {
	width     time.Duration
	retention time.Duration
	counts    map[int64]int
	first     time.Time
	last      time.Time
}

func newBucketLog(retention time.Duration, buckets int) *bucketLog {
	width := retention / time.Duration(buckets)
	if width <= 0 {
		width = time.Millisecond
	}
	return &bucketLog{width: width, retention: retention, counts: make(map[int64]int, buckets+1)}
}

func (b *bucketLog) index(t time.Time) int64 {
	return floorDiv(t.UnixNano(), int64(b.width))
}

func (b *bucketLog) add(at time.Time) {
	b.counts[b.index(at)]++
	if b.first.IsZero() || at.Before(b.first) {
		b.first = at
	}
	if at.After(b.last) {
		b.last = at
	}
}

// estimate returns the approximate number of observations in [from, to].
func (b *bucketLog) estimate(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	startIdx, endIdx := b.index(from), b.index(to)
	total := 0.0
	for idx, n := range b.counts {
		switch {
		case idx < startIdx || idx > endIdx:
			continue
		case idx == startIdx:
			bucketEnd := time.Unix(0, (startIdx+1)*int64(b.width))
			covered := bucketEnd.Sub(from)
			if endIdx == startIdx {
				covered = to.Sub(from)
			}
			total += float64(n) * float64(covered) / float64(b.width)
		default:
			total += float64(n)
		}
	}
	return int(math.Round(total))
}

func (b *bucketLog) prune(now time.Time) bool {
	cutoff := b.index(now.Add(-b.retention))
	for idx := range b.counts {
		if idx < cutoff {
			delete(b.counts, idx)
		}
	}
	return len(b.counts) > 0
}

func (b *bucketLog) total() int {
	n := 0
	for _, c := range b.counts {
		n += c
	}
	return n
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// ApproxCounterStore is a bucketed counter store with bounded memory per key.
// Its counts may deviate from the exact sliding log; see DefaultBuckets.
type ApproxCounterStore struct {
	logs    *shardedLRU[*bucketLog]
	buckets int
}

// WithBuckets sets the number of buckets per retention horizon.
func WithBuckets(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.resolution = n
		}
	}
}

func NewApproxCounterStore(opts ...Option) *ApproxCounterStore {
	o := buildOptions(opts)
	return &ApproxCounterStore{
		logs:    newShardedLRU[*bucketLog](o.maxKeys, o.logger, o.metrics),
		buckets: o.resolution,
	}
}

func (s *ApproxCounterStore) Increment(ctx context.Context, key models.CounterKey, retention time.Duration, at time.Time) (int, error) {
	var count int
	s.logs.with(key.String(), func(sh *lruShard[*bucketLog]) {
		log := s.logs.getOrCreate(ctx, key.String(), sh, func() *bucketLog {
			return newBucketLog(retention, s.buckets)
		})
		log.add(at)
		log.prune(at)
		count = log.estimate(at.Add(-retention), at)
	})
	return count, nil
}

func (s *ApproxCounterStore) CountInWindow(_ context.Context, key models.CounterKey, window time.Duration, at time.Time) (int, error) {
	var count int
	s.logs.with(key.String(), func(sh *lruShard[*bucketLog]) {
		if log, ok := sh.logs.Get(key.String()); ok {
			count = log.estimate(at.Add(-window), at)
		}
	})
	return count, nil
}

func (s *ApproxCounterStore) Reset(_ context.Context, id models.Identifier, op models.Operation) error {
	s.logs.remove(models.NewCounterKey(id, op).String())
	return nil
}

func (s *ApproxCounterStore) Record(_ context.Context, key models.CounterKey) (*models.CounterRecord, error) {
	var rec *models.CounterRecord
	s.logs.with(key.String(), func(sh *lruShard[*bucketLog]) {
		if log, ok := sh.logs.Peek(key.String()); ok && len(log.counts) > 0 {
			rec = &models.CounterRecord{Count: log.total(), FirstSeen: log.first, LastSeen: log.last}
		}
	})
	if rec == nil {
		return nil, sentinel.ErrNotFound
	}
	return rec, nil
}

func (s *ApproxCounterStore) Sweep(ctx context.Context, now time.Time, batch int) (int, error) {
	return s.logs.sweep(ctx, now, batch)
}

func (s *ApproxCounterStore) Len() int {
	return s.logs.len()
}
