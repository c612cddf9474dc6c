// Package cleanup evicts idle counter logs and lockout records on an interval.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"warden/internal/abuse/metrics"
)

// Sweeper is a store that can drop state with no remaining effect at now.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time, batch int) (int, error)
	Len() int
}

// Target is a named store swept by the worker. The name labels metrics and logs.
type Target struct {
	Name  string
	Store Sweeper
}

// Result contains the results of a cleanup run.
type Result struct {
	Removed  map[string]int
	Duration time.Duration
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

func WithBatch(batch int) Option {
	return func(s *Service) {
		if batch > 0 {
			s.batch = batch
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock replaces time.Now for deterministic runs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

type Service struct {
	targets  []Target
	logger   *slog.Logger
	interval time.Duration
	batch    int
	metrics  *metrics.Metrics
	now      func() time.Time
}

func New(targets []Target, opts ...Option) *Service {
	service := &Service{
		targets:  targets,
		logger:   slog.Default(),
		interval: time.Minute,
		batch:    256,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Serve runs the sweep loop until ctx is cancelled. A failed run is logged and
// retried on the next tick.
func (s *Service) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.RunOnce(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return ctx.Err()
				}
				s.logger.Error("abuse_cleanup_failed",
					"error", err,
					"duration_ms", res.Duration.Milliseconds(),
				)
				s.metrics.IncrementCleanupRuns("error")
				continue
			}
			args := []any{"duration_ms", res.Duration.Milliseconds()}
			for name, n := range res.Removed {
				args = append(args, name+"_removed", n)
			}
			s.logger.Info("abuse_cleanup_completed", args...)
			s.metrics.IncrementCleanupRuns("success")

		case <-ctx.Done():
			s.logger.Info("abuse cleanup worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

func (s *Service) String() string {
	return "abuse-cleanup"
}

// RunOnce sweeps every target once. All targets are attempted even when one
// fails; the returned error joins the failures.
func (s *Service) RunOnce(ctx context.Context) (*Result, error) {
	start := time.Now()
	now := s.now()
	res := &Result{Removed: make(map[string]int, len(s.targets))}

	var errs []error
	for _, t := range s.targets {
		n, err := t.Store.Sweep(ctx, now, s.batch)
		res.Removed[t.Name] = n
		s.metrics.AddCleanupRemoved(t.Name, n)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %s: %w", t.Name, err))
			continue
		}
		if t.Name == "lockouts" {
			s.metrics.SetLockoutRecords(t.Store.Len())
		}
	}
	res.Duration = time.Since(start)
	s.metrics.ObserveCleanupDuration(res.Duration.Seconds())
	return res, errors.Join(errs...)
}
