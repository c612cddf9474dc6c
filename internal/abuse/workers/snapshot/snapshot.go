// Package snapshot periodically persists lockout records and restores them on
// start, so blocks and escalation streaks survive a restart.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"warden/internal/abuse/metrics"
	"warden/internal/abuse/models"
)

// Source is the live lockout store.
type Source interface {
	All(ctx context.Context) ([]*models.LockoutRecord, error)
	Restore(ctx context.Context, records []*models.LockoutRecord) (int, error)
}

// Sink is durable snapshot storage.
type Sink interface {
	Save(ctx context.Context, records []*models.LockoutRecord, now time.Time) (int, error)
	Load(ctx context.Context, now time.Time) ([]*models.LockoutRecord, error)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithTick registers a hook run after every snapshot, e.g. to sample pool stats.
func WithTick(fn func()) Option {
	return func(s *Service) {
		s.onTick = append(s.onTick, fn)
	}
}

type Service struct {
	source   Source
	sink     Sink
	logger   *slog.Logger
	interval time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
	onTick   []func()
}

func New(source Source, sink Sink, opts ...Option) *Service {
	s := &Service{
		source:   source,
		sink:     sink,
		logger:   slog.Default(),
		interval: 30 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads the last snapshot into the live store.
func (s *Service) Restore(ctx context.Context) (int, error) {
	records, err := s.sink.Load(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	n, err := s.source.Restore(ctx, records)
	if err != nil {
		return n, fmt.Errorf("restore lockouts: %w", err)
	}
	s.logger.Info("lockout snapshot restored", "records", n)
	return n, nil
}

// RunOnce writes one snapshot.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	records, err := s.source.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("read lockouts: %w", err)
	}
	n, err := s.sink.Save(ctx, records, s.now())
	if err != nil {
		return n, fmt.Errorf("save snapshot: %w", err)
	}
	return n, nil
}

// Serve snapshots on every tick and once more on shutdown.
func (s *Service) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.snapshot(ctx)
			for _, fn := range s.onTick {
				fn()
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			s.snapshot(final)
			cancel()
			s.logger.Info("lockout snapshot worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

func (s *Service) snapshot(ctx context.Context) {
	start := time.Now()
	n, err := s.RunOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("lockout_snapshot_failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		s.metrics.IncrementSnapshotRuns("error")
		return
	}
	s.logger.Debug("lockout_snapshot_completed", "records", n, "duration_ms", time.Since(start).Milliseconds())
	s.metrics.IncrementSnapshotRuns("success")
}

func (s *Service) String() string {
	return "lockout-snapshot"
}
