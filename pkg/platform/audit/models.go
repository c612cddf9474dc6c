package audit

import (
	"context"
	"time"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	Subject   string            `json:"subject,omitempty"`   // redacted identifier or detection id
	Operation string            `json:"operation,omitempty"` // protected operation, when relevant
	Actor     string            `json:"actor,omitempty"`     // reviewer for detection actions
	Decision  string            `json:"decision,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Store persists or forwards audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

type AuditEvent string

const (
	EventLockoutChallenged     AuditEvent = "lockout_challenge_required"
	EventLockoutBlocked        AuditEvent = "lockout_blocked"
	EventLockoutCleared        AuditEvent = "lockout_cleared"
	EventLockoutDegraded       AuditEvent = "lockout_decision_degraded"
	EventDetectionRecorded     AuditEvent = "detection_recorded"
	EventDetectionStatusChange AuditEvent = "detection_status_changed"
	EventPolicyPublished       AuditEvent = "policy_published"
)

// Category groups events for routing. Unknown events fall back to
// CategoryOperations so nothing is dropped for lack of a mapping.
type Category string

const (
	CategorySecurity   Category = "security"
	CategoryReview     Category = "review"
	CategoryOperations Category = "operations"
)

func (e AuditEvent) Category() Category {
	switch e {
	case EventLockoutChallenged, EventLockoutBlocked, EventLockoutCleared, EventLockoutDegraded:
		return CategorySecurity
	case EventDetectionRecorded, EventDetectionStatusChange:
		return CategoryReview
	}
	return CategoryOperations
}
