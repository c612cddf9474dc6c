package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"warden/internal/abuse/models"
	"warden/internal/sentinel"
)

const counterKeyPrefix = "warden:counter:"

// RedisCounterStore keeps one sorted set per key, scored by observation time
// in microseconds (exact in a float64 score), so every engine process shares
// the same exact sliding log. Keys expire on their own once idle for a full retention period.
type RedisCounterStore struct {
	client redis.Cmdable
}

func NewRedisCounterStore(client redis.Cmdable) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func (s *RedisCounterStore) redisKey(key models.CounterKey) string {
	return counterKeyPrefix + key.String()
}

func micros(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

// Increment adds the observation, trims entries older than the retention
// horizon and counts the rest in one MULTI/EXEC transaction.
func (s *RedisCounterStore) Increment(ctx context.Context, key models.CounterKey, retention time.Duration, at time.Time) (int, error) {
	rk := s.redisKey(key)
	from := at.Add(-retention)

	var count *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, rk, redis.Z{Score: float64(at.UnixMicro()), Member: uuid.NewString()})
		pipe.ZRemRangeByScore(ctx, rk, "-inf", "("+micros(from))
		count = pipe.ZCount(ctx, rk, micros(from), micros(at))
		pipe.PExpire(ctx, rk, retention)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment counter: %w: %w", sentinel.ErrUnavailable, err)
	}
	return int(count.Val()), nil
}

func (s *RedisCounterStore) CountInWindow(ctx context.Context, key models.CounterKey, window time.Duration, at time.Time) (int, error) {
	n, err := s.client.ZCount(ctx, s.redisKey(key), micros(at.Add(-window)), micros(at)).Result()
	if err != nil {
		return 0, fmt.Errorf("count counter window: %w: %w", sentinel.ErrUnavailable, err)
	}
	return int(n), nil
}

func (s *RedisCounterStore) Reset(ctx context.Context, id models.Identifier, op models.Operation) error {
	if err := s.client.Del(ctx, s.redisKey(models.NewCounterKey(id, op))).Err(); err != nil {
		return fmt.Errorf("reset counter: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *RedisCounterStore) Record(ctx context.Context, key models.CounterKey) (*models.CounterRecord, error) {
	rk := s.redisKey(key)
	pipe := s.client.Pipeline()
	card := pipe.ZCard(ctx, rk)
	first := pipe.ZRangeWithScores(ctx, rk, 0, 0)
	last := pipe.ZRangeWithScores(ctx, rk, -1, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read counter record: %w: %w", sentinel.ErrUnavailable, err)
	}
	if card.Val() == 0 || len(first.Val()) == 0 || len(last.Val()) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return &models.CounterRecord{
		Count:     int(card.Val()),
		FirstSeen: time.UnixMicro(int64(first.Val()[0].Score)).UTC(),
		LastSeen:  time.UnixMicro(int64(last.Val()[0].Score)).UTC(),
	}, nil
}

// Health pings the server.
func (s *RedisCounterStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
