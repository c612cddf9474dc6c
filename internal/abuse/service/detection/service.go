// Package detection records scored events that cross the record threshold
// and runs their review lifecycle.
package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"warden/internal/abuse/metrics"
	"warden/internal/abuse/models"
	"warden/internal/abuse/policy"
	"warden/internal/abuse/scoring"
	"warden/internal/sentinel"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/audit"
	"warden/pkg/platform/pagination"
	"warden/pkg/requestcontext"
)

// Store persists detections. Create returns sentinel.ErrAlreadyExists for a
// second detection of the same event; UpdateStatus returns
// sentinel.ErrInvalidState once the detection has left open.
type Store interface {
	Create(ctx context.Context, d *models.Detection) error
	FindByID(ctx context.Context, id string) (*models.Detection, error)
	FindByEventID(ctx context.Context, eventID string) (*models.Detection, error)
	UpdateStatus(ctx context.Context, u models.StatusUpdate) (*models.Detection, error)
	List(ctx context.Context, filter models.DetectionFilter, cursor *pagination.Cursor, limit int) ([]*models.Detection, error)
}

// EventPublisher forwards detection lifecycle events downstream.
type EventPublisher interface {
	PublishDetection(ctx context.Context, event models.DetectionEvent) error
}

// PolicySource yields the current policy snapshot.
type PolicySource interface {
	Current() *policy.Snapshot
}

type Service struct {
	store     Store
	policies  PolicySource
	publisher EventPublisher
	logger    *slog.Logger
	emitter   audit.Emitter
	auditor   *audit.Logger
	metrics   *metrics.Metrics
	newID     func() string
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

func WithEventPublisher(publisher EventPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithIDGenerator replaces the UUID generator used for detection ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

func New(store Store, policies PolicySource, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("detection store is required")
	}
	if policies == nil {
		return nil, fmt.Errorf("policy source is required")
	}
	svc := &Service{
		store:    store,
		policies: policies,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.auditor = audit.NewLogger(svc.logger, svc.emitter)
	return svc, nil
}

// Record creates a detection for ev when its score reaches the record
// threshold of the current policy. It returns nil, nil below the threshold.
func (s *Service) Record(ctx context.Context, ev *models.RiskEvent) (*models.Detection, error) {
	return s.RecordWithPolicy(ctx, ev, s.policies.Current().Scoring())
}

// RecordWithPolicy is Record against the scoring policy that produced ev, so
// scoring and recording agree on one snapshot. Recording the same event twice
// returns the existing detection.
func (s *Service) RecordWithPolicy(ctx context.Context, ev *models.RiskEvent, sp policy.ScoringPolicy) (*models.Detection, error) {
	if ev == nil || ev.EventID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "risk event with id is required")
	}
	if !scoring.ShouldRecord(ev.Score, sp) {
		return nil, nil
	}

	now := storedTime(requestcontext.Now(ctx))
	d, err := models.NewDetection(s.newID(), ev, now)
	if err != nil {
		return nil, err
	}
	d.OccurredAt = storedTime(d.OccurredAt)

	if err := s.store.Create(ctx, d); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			existing, findErr := s.store.FindByEventID(ctx, ev.EventID)
			if findErr != nil {
				return nil, dErrors.Wrap(findErr, dErrors.CodeInternal, "failed to load existing detection")
			}
			return existing, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record detection")
	}

	s.metrics.IncrementDetections(string(d.Tier))
	s.auditor.Log(ctx, string(audit.EventDetectionRecorded),
		audit.AttrDetection, d.ID,
		audit.AttrOperation, string(d.Operation),
		"event_id", d.EventID,
		"tier", string(d.Tier),
		"score", d.Score,
	)
	s.publish(ctx, models.DetectionEvent{
		Type:       models.DetectionCreated,
		Detection:  d,
		OccurredAt: now,
	})
	return d, nil
}

// Get returns one detection.
func (s *Service) Get(ctx context.Context, id string) (*models.Detection, error) {
	d, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "detection not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load detection")
	}
	return d, nil
}

// List returns one page of detections matching filter, newest first.
func (s *Service) List(ctx context.Context, filter models.DetectionFilter, page models.Pagination) (*models.DetectionPage, error) {
	page = page.Normalized()
	cursor, err := pagination.Decode(page.Cursor)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid cursor")
	}

	items, err := s.store.List(ctx, filter, cursor, page.Limit+1)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidInput) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid cursor")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list detections")
	}
	items, next, more := pagination.ComputePage(items, page.Limit, func(d *models.Detection) (time.Time, string) {
		return d.CreatedAt, d.ID
	})
	return &models.DetectionPage{
		Detections: items,
		NextCursor: next,
		HasMore:    more,
	}, nil
}

// UpdateStatus applies a reviewer decision to an open detection. Only one of
// several concurrent updates succeeds; the others get invalid_transition.
func (s *Service) UpdateStatus(ctx context.Context, u models.StatusUpdate) (*models.Detection, error) {
	u.At = storedTime(requestcontext.Now(ctx))
	if err := u.Validate(); err != nil {
		return nil, err
	}

	d, err := s.store.UpdateStatus(ctx, u)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "detection not found")
		case errors.Is(err, sentinel.ErrInvalidState):
			s.metrics.IncrementStatusConflicts()
			return nil, dErrors.New(dErrors.CodeInvalidTransition, "detection is no longer open")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update detection")
	}

	s.metrics.IncrementStatusUpdates(string(d.Status))
	s.auditor.Log(ctx, string(audit.EventDetectionStatusChange),
		audit.AttrDetection, d.ID,
		audit.AttrActor, u.Reviewer,
		audit.AttrDecision, string(d.Status),
		"previous_status", string(models.StatusOpen),
	)
	s.publish(ctx, models.DetectionEvent{
		Type:           models.DetectionStatusChanged,
		Detection:      d,
		PreviousStatus: models.StatusOpen,
		OccurredAt:     u.At,
	})
	return d, nil
}

func (s *Service) publish(ctx context.Context, event models.DetectionEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDetection(ctx, event); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to publish detection event",
			"error", err,
			"type", string(event.Type),
			"detection_id", event.Detection.ID,
		)
	}
}

// storedTime drops precision Postgres cannot keep so cursors built from a
// freshly created detection match the persisted row.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
