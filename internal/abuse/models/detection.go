package models

import (
	"time"

	dErrors "warden/pkg/domain-errors"
)

// DetectionStatus is the review state of a detection.
type DetectionStatus string

const (
	StatusOpen          DetectionStatus = "open"
	StatusReviewed      DetectionStatus = "reviewed"
	StatusFalsePositive DetectionStatus = "false_positive"
	StatusConfirmed     DetectionStatus = "confirmed"
)

// ParseDetectionStatus validates a status string.
func ParseDetectionStatus(s string) (DetectionStatus, error) {
	status := DetectionStatus(s)
	if !status.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown detection status: "+s)
	}
	return status, nil
}

// IsValid reports whether s is a known status.
func (s DetectionStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusReviewed, StatusFalsePositive, StatusConfirmed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a reviewer may move a detection from s to next.
// Only open detections transition, and nothing transitions back to open.
func (s DetectionStatus) CanTransitionTo(next DetectionStatus) bool {
	if s != StatusOpen {
		return false
	}
	return next == StatusReviewed || next == StatusFalsePositive || next == StatusConfirmed
}

// MaxNotesLength bounds reviewer notes.
const MaxNotesLength = 4096

// Detection is a persisted, reviewable RiskEvent. Score and provenance fields
// are immutable after creation; only Status, Reviewer, Notes and UpdatedAt change.
type Detection struct {
	ID             string          `json:"id"`
	EventID        string          `json:"event_id"`
	Identifiers    IdentifierSet   `json:"identifiers"`
	Operation      Operation       `json:"operation"`
	Score          float64         `json:"score"`
	Tier           Tier            `json:"tier"`
	TriggeredRules []TriggeredRule `json:"triggered_rules"`
	PolicyVersion  int64           `json:"policy_version"`
	Status         DetectionStatus `json:"status"`
	Reviewer       string          `json:"reviewer,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewDetection creates an open detection for a risk event.
func NewDetection(id string, ev *RiskEvent, now time.Time) (*Detection, error) {
	if id == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "detection id is required")
	}
	if ev == nil || ev.EventID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "risk event with id is required")
	}
	rules := make([]TriggeredRule, len(ev.TriggeredRules))
	copy(rules, ev.TriggeredRules)
	ids := make(IdentifierSet, len(ev.Identifiers))
	copy(ids, ev.Identifiers)
	return &Detection{
		ID:             id,
		EventID:        ev.EventID,
		Identifiers:    ids,
		Operation:      ev.Operation,
		Score:          ev.Score,
		Tier:           ev.Tier,
		TriggeredRules: rules,
		PolicyVersion:  ev.PolicyVersion,
		Status:         StatusOpen,
		OccurredAt:     ev.Timestamp,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Clone returns a deep copy.
func (d *Detection) Clone() *Detection {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Identifiers = append(IdentifierSet(nil), d.Identifiers...)
	cp.TriggeredRules = append([]TriggeredRule(nil), d.TriggeredRules...)
	return &cp
}

// StatusUpdate is a reviewer action on a detection.
type StatusUpdate struct {
	ID       string
	Status   DetectionStatus
	Reviewer string
	Notes    string
	At       time.Time
}

// Validate checks the update is well-formed before touching storage.
func (u StatusUpdate) Validate() error {
	if u.ID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "detection id is required")
	}
	if u.Status == StatusOpen || !u.Status.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "status must be reviewed, false_positive or confirmed")
	}
	if u.Reviewer == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "reviewer is required")
	}
	if len(u.Notes) > MaxNotesLength {
		return dErrors.New(dErrors.CodeInvalidInput, "notes too long")
	}
	return nil
}

// DetectionFilter narrows a detection listing. Zero values match everything.
type DetectionFilter struct {
	Status        DetectionStatus
	Tier          Tier
	Operation     Operation
	Identifier    *Identifier
	MinScore      *float64
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// Matches reports whether d satisfies every set criterion.
func (f DetectionFilter) Matches(d *Detection) bool {
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.Tier != "" && d.Tier != f.Tier {
		return false
	}
	if f.Operation != "" && d.Operation != f.Operation {
		return false
	}
	if f.Identifier != nil && !d.Identifiers.Contains(*f.Identifier) {
		return false
	}
	if f.MinScore != nil && d.Score < *f.MinScore {
		return false
	}
	if f.CreatedAfter != nil && !d.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !d.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Pagination selects a page of a listing. Cursor is opaque to callers.
type Pagination struct {
	Cursor string
	Limit  int
}

// Normalized applies default and maximum page sizes.
func (p Pagination) Normalized() Pagination {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

// DetectionPage is one page of detections, newest first.
type DetectionPage struct {
	Detections []*Detection
	NextCursor string
	HasMore    bool
}

// DetectionEventType names a detection lifecycle event.
type DetectionEventType string

const (
	DetectionCreated       DetectionEventType = "detection.created"
	DetectionStatusChanged DetectionEventType = "detection.status_changed"
)

// DetectionEvent is published when a detection is created or reviewed.
type DetectionEvent struct {
	Type           DetectionEventType `json:"type"`
	Detection      *Detection         `json:"detection"`
	PreviousStatus DetectionStatus    `json:"previous_status,omitempty"`
	OccurredAt     time.Time          `json:"occurred_at"`
}
