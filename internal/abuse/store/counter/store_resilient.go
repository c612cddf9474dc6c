package counter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"warden/internal/abuse/metrics"
	"warden/internal/abuse/models"
	"warden/internal/sentinel"
)

// Store is the contract every counter implementation satisfies.
type Store interface {
	Increment(ctx context.Context, key models.CounterKey, retention time.Duration, at time.Time) (int, error)
	CountInWindow(ctx context.Context, key models.CounterKey, window time.Duration, at time.Time) (int, error)
	Reset(ctx context.Context, id models.Identifier, op models.Operation) error
	Record(ctx context.Context, key models.CounterKey) (*models.CounterRecord, error)
}

// BreakerConfig tunes the circuit breaker around a remote store.
type BreakerConfig struct {
	Name             string
	CallTimeout      time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "counter-store",
		CallTimeout:      50 * time.Millisecond,
		FailureThreshold: 5,
		OpenTimeout:      5 * time.Second,
		HalfOpenRequests: 1,
	}
}

// ResilientStore bounds every call to the wrapped store with a timeout and
// stops calling it while a circuit breaker is open. Every failure it returns
// wraps sentinel.ErrUnavailable, so callers can apply their fail mode.
type ResilientStore struct {
	next    Store
	cb      *gobreaker.CircuitBreaker[any]
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewResilientStore(next Store, cfg BreakerConfig, logger *slog.Logger, m *metrics.Metrics) *ResilientStore {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, sentinel.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("counter_breaker_state_changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			}
			m.SetBreakerOpen(to == gobreaker.StateOpen)
		},
	}
	return &ResilientStore{
		next:    next,
		cb:      gobreaker.NewCircuitBreaker[any](settings),
		timeout: cfg.CallTimeout,
		metrics: m,
	}
}

func (s *ResilientStore) call(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	out, err := s.cb.Execute(func() (any, error) {
		callCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		return fn(callCtx)
	})
	if err == nil || errors.Is(err, sentinel.ErrNotFound) {
		return out, err
	}
	s.metrics.IncrementCounterStoreErrors(name)
	if errors.Is(err, sentinel.ErrUnavailable) {
		return nil, err
	}
	return nil, fmt.Errorf("counter store %s: %w: %w", name, sentinel.ErrUnavailable, err)
}

func (s *ResilientStore) Increment(ctx context.Context, key models.CounterKey, retention time.Duration, at time.Time) (int, error) {
	out, err := s.call(ctx, "increment", func(ctx context.Context) (any, error) {
		return s.next.Increment(ctx, key, retention, at)
	})
	if err != nil {
		return 0, err
	}
	return out.(int), nil
}

func (s *ResilientStore) CountInWindow(ctx context.Context, key models.CounterKey, window time.Duration, at time.Time) (int, error) {
	out, err := s.call(ctx, "count", func(ctx context.Context) (any, error) {
		return s.next.CountInWindow(ctx, key, window, at)
	})
	if err != nil {
		return 0, err
	}
	return out.(int), nil
}

func (s *ResilientStore) Reset(ctx context.Context, id models.Identifier, op models.Operation) error {
	_, err := s.call(ctx, "reset", func(ctx context.Context) (any, error) {
		return nil, s.next.Reset(ctx, id, op)
	})
	return err
}

func (s *ResilientStore) Record(ctx context.Context, key models.CounterKey) (*models.CounterRecord, error) {
	out, err := s.call(ctx, "record", func(ctx context.Context) (any, error) {
		return s.next.Record(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return out.(*models.CounterRecord), nil
}

// State reports the breaker state, for health checks.
func (s *ResilientStore) State() string {
	return s.cb.State().String()
}
