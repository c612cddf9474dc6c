// Package lockout implements the per identifier/operation lockout state
// machine: allowed, challenge_required and blocked, with escalating blocks
// that expire lazily on read.
//
// Lockout records and the per-key lock live in the process that owns the
// Service, even when the counter store is shared (counter_backend redis).
// A block recorded by one instance is invisible to Check on another, so
// deployments running more than one instance must route every identifier
// to a single instance, for example by hashing the identifier at the load
// balancer.
package lockout

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"warden/internal/abuse/metrics"
	"warden/internal/abuse/models"
	"warden/internal/abuse/policy"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/audit"
	psync "warden/pkg/platform/sync"
	"warden/pkg/requestcontext"
)

// CounterStore is the windowed failure log the state machine reads.
type CounterStore interface {
	Increment(ctx context.Context, key models.CounterKey, retention time.Duration, at time.Time) (int, error)
	CountInWindow(ctx context.Context, key models.CounterKey, window time.Duration, at time.Time) (int, error)
	Reset(ctx context.Context, id models.Identifier, op models.Operation) error
}

// Store holds lockout records. Get returns nil, nil for an unknown key.
type Store interface {
	Get(ctx context.Context, key string) (*models.LockoutRecord, error)
	Put(ctx context.Context, record *models.LockoutRecord) error
	Delete(ctx context.Context, key string) error
}

// PolicySource yields the current policy snapshot.
type PolicySource interface {
	Current() *policy.Snapshot
}

type Service struct {
	counters CounterStore
	records  Store
	policies PolicySource
	locks    *psync.ShardedMutex
	logger   *slog.Logger
	auditor  *audit.Logger
	emitter  audit.Emitter
	metrics  *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher audit.Emitter) Option {
	return func(s *Service) {
		s.emitter = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(counters CounterStore, records Store, policies PolicySource, opts ...Option) (*Service, error) {
	if counters == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if records == nil {
		return nil, fmt.Errorf("lockout store is required")
	}
	if policies == nil {
		return nil, fmt.Errorf("policy source is required")
	}

	svc := &Service{
		counters: counters,
		records:  records,
		policies: policies,
		locks:    psync.NewShardedMutex(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.auditor = audit.NewLogger(svc.logger, svc.emitter)
	return svc, nil
}

// Check returns the effective state of one identifier for op. It never writes:
// a lapsed restriction reads as allowed until the next failure or success.
func (s *Service) Check(ctx context.Context, id models.Identifier, op models.Operation) (models.LockoutStatus, error) {
	now := requestcontext.Now(ctx)
	record, err := s.records.Get(ctx, models.LockoutKey(id, op))
	if err != nil {
		return models.LockoutStatus{}, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to read lockout record")
	}
	return models.StatusOf(id, op, record, now), nil
}

// RecordFailure counts one failed attempt and moves the pair into the
// strictest state its windows call for. Block is tested before challenge so
// a burst crossing both thresholds at once lands in blocked.
func (s *Service) RecordFailure(ctx context.Context, id models.Identifier, op models.Operation) (models.LockoutStatus, error) {
	now := requestcontext.Now(ctx)
	p := s.policies.Current().For(op)
	key := models.NewCounterKey(id, op)
	recordKey := models.LockoutKey(id, op)

	defer s.locks.Lock(recordKey)()

	if _, err := s.counters.Increment(ctx, key, p.Retention(), now); err != nil {
		return models.LockoutStatus{}, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to record failure")
	}
	s.metrics.IncrementFailures(string(op))

	record, err := s.records.Get(ctx, recordKey)
	if err != nil {
		return models.LockoutStatus{}, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to read lockout record")
	}
	if record == nil {
		record = models.NewLockoutRecord(id, op, now)
	}

	// An active block is not extended by further failures; they only count.
	if record.EffectiveState(now) == models.StateBlocked {
		return models.StatusOf(id, op, record, now), nil
	}

	next, expiresAt, err := s.nextState(ctx, key, p, record, now)
	if err != nil {
		return models.LockoutStatus{}, err
	}
	if next == models.StateAllowed {
		return models.StatusOf(id, op, record, now), nil
	}

	previous := record.EffectiveState(now)
	record.Transition(next, expiresAt, now)
	if next == models.StateBlocked {
		record.ConsecutiveLockouts++
	}
	if err := s.records.Put(ctx, record); err != nil {
		return models.LockoutStatus{}, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to store lockout record")
	}

	if previous != next {
		s.metrics.IncrementTransition(string(op), string(next))
		s.auditor.Log(ctx, transitionEvent(next),
			audit.AttrSubject, id.Redacted(),
			audit.AttrOperation, string(op),
			audit.AttrDecision, string(next),
			"expires_at", expiresAt.Format(time.RFC3339),
			"consecutive_lockouts", record.ConsecutiveLockouts,
		)
	}
	return models.StatusOf(id, op, record, now), nil
}

func (s *Service) nextState(ctx context.Context, key models.CounterKey, p policy.OperationPolicy, record *models.LockoutRecord, now time.Time) (models.LockoutState, time.Time, error) {
	blockCount, err := s.counters.CountInWindow(ctx, key, p.BlockWindow, now)
	if err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to count block window")
	}
	if blockCount >= p.BlockThreshold {
		return models.StateBlocked, now.Add(BlockDuration(p, record.ConsecutiveLockouts)), nil
	}

	captchaCount, err := s.counters.CountInWindow(ctx, key, p.CaptchaWindow, now)
	if err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to count captcha window")
	}
	if captchaCount >= p.CaptchaThreshold {
		return models.StateChallengeRequired, p.ChallengeExpiry(now), nil
	}
	return models.StateAllowed, time.Time{}, nil
}

// RecordSuccess clears the failure log and any restriction, and forgives the
// escalation streak.
func (s *Service) RecordSuccess(ctx context.Context, id models.Identifier, op models.Operation) error {
	now := requestcontext.Now(ctx)
	recordKey := models.LockoutKey(id, op)

	defer s.locks.Lock(recordKey)()

	if err := s.counters.Reset(ctx, id, op); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to reset counters")
	}
	record, err := s.records.Get(ctx, recordKey)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to read lockout record")
	}
	if record == nil {
		return nil
	}
	if err := s.records.Delete(ctx, recordKey); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to clear lockout record")
	}

	if previous := record.EffectiveState(now); previous != models.StateAllowed || record.ConsecutiveLockouts > 0 {
		s.metrics.IncrementTransition(string(op), string(models.StateAllowed))
		s.auditor.Log(ctx, string(audit.EventLockoutCleared),
			audit.AttrSubject, id.Redacted(),
			audit.AttrOperation, string(op),
			"previous_state", string(previous),
			"consecutive_lockouts", record.ConsecutiveLockouts,
		)
	}
	return nil
}

// BlockDuration is the length of the block that follows priorLockouts
// consecutive blocks: base × growth^priorLockouts, capped at the maximum.
func BlockDuration(p policy.OperationPolicy, priorLockouts int) time.Duration {
	if priorLockouts <= 0 {
		return min(p.BlockDuration, p.MaxBlockDuration)
	}
	d := float64(p.BlockDuration) * math.Pow(p.GrowthFactor, float64(priorLockouts))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(p.MaxBlockDuration) {
		return p.MaxBlockDuration
	}
	return time.Duration(d)
}

func transitionEvent(state models.LockoutState) string {
	if state == models.StateBlocked {
		return string(audit.EventLockoutBlocked)
	}
	return string(audit.EventLockoutChallenged)
}
