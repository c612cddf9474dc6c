package handler

import (
	"strings"
	"time"

	"warden/internal/abuse/models"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/validation"
)

// IdentifierRequest is the wire form of an identifier.
type IdentifierRequest struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

func toIdentifierSet(in []IdentifierRequest) (models.IdentifierSet, error) {
	if len(in) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one identifier is required")
	}
	if err := validation.CheckSliceCount("identifiers", len(in), validation.MaxIdentifiers); err != nil {
		return nil, err
	}
	ids := make([]models.Identifier, 0, len(in))
	for _, raw := range in {
		id, err := models.NewIdentifier(models.IdentifierKind(raw.Kind), raw.Value)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return models.NewIdentifierSet(ids...)
}

func validateOperation(op string) error {
	if op == "" {
		return dErrors.New(dErrors.CodeValidation, "operation is required")
	}
	if !models.Operation(op).Validate() {
		return dErrors.New(dErrors.CodeValidation, "invalid operation")
	}
	return nil
}

func normalizeIdentifiers(in []IdentifierRequest) {
	for i := range in {
		in[i].Kind = strings.ToLower(strings.TrimSpace(in[i].Kind))
		in[i].Value = strings.TrimSpace(in[i].Value)
	}
}

// LockoutCheckRequest is the body of POST /v1/lockout/check.
type LockoutCheckRequest struct {
	Identifiers []IdentifierRequest `json:"identifiers"`
	Operation   string              `json:"operation"`
}

func (r *LockoutCheckRequest) Normalize() {
	normalizeIdentifiers(r.Identifiers)
	r.Operation = strings.TrimSpace(r.Operation)
}

func (r *LockoutCheckRequest) Validate() error {
	if err := validateOperation(r.Operation); err != nil {
		return err
	}
	_, err := toIdentifierSet(r.Identifiers)
	return err
}

// OutcomeRequest is the body of POST /v1/lockout/outcome.
type OutcomeRequest struct {
	Identifiers []IdentifierRequest `json:"identifiers"`
	Operation   string              `json:"operation"`
	Success     *bool               `json:"success"`
	Context     map[string]string   `json:"context,omitempty"`
}

func (r *OutcomeRequest) Normalize() {
	normalizeIdentifiers(r.Identifiers)
	r.Operation = strings.TrimSpace(r.Operation)
}

func (r *OutcomeRequest) Validate() error {
	if err := validateOperation(r.Operation); err != nil {
		return err
	}
	if r.Success == nil {
		return dErrors.New(dErrors.CodeValidation, "success is required")
	}
	if err := validation.CheckSliceCount("context entries", len(r.Context), validation.MaxContextEntries); err != nil {
		return err
	}
	_, err := toIdentifierSet(r.Identifiers)
	return err
}

// ScoreRequest is the body of POST /v1/events/score.
type ScoreRequest struct {
	EventID     string              `json:"event_id,omitempty"`
	Identifiers []IdentifierRequest `json:"identifiers"`
	Operation   string              `json:"operation"`
	Attributes  map[string]any      `json:"attributes,omitempty"`
	UserAgent   string              `json:"user_agent,omitempty"`
	OccurredAt  *time.Time          `json:"occurred_at,omitempty"`
}

func (r *ScoreRequest) Normalize() {
	normalizeIdentifiers(r.Identifiers)
	r.Operation = strings.TrimSpace(r.Operation)
	r.EventID = strings.TrimSpace(r.EventID)
}

func (r *ScoreRequest) Validate() error {
	if err := validateOperation(r.Operation); err != nil {
		return err
	}
	if err := validation.CheckStringLength("event_id", r.EventID, validation.MaxEventIDLength); err != nil {
		return err
	}
	if err := validation.CheckStringLength("user_agent", r.UserAgent, validation.MaxUserAgentLength); err != nil {
		return err
	}
	if err := validation.CheckSliceCount("attributes", len(r.Attributes), validation.MaxAttributes); err != nil {
		return err
	}
	for name := range r.Attributes {
		if strings.TrimSpace(name) == "" {
			return dErrors.New(dErrors.CodeValidation, "attribute names must not be empty")
		}
		if err := validation.CheckStringLength("attribute name", name, validation.MaxAttributeNameLength); err != nil {
			return err
		}
	}
	_, err := toIdentifierSet(r.Identifiers)
	return err
}

// ToEvent converts a validated request into an engine event.
func (r *ScoreRequest) ToEvent() (*models.Event, error) {
	ids, err := toIdentifierSet(r.Identifiers)
	if err != nil {
		return nil, err
	}
	ev := &models.Event{
		ID:          r.EventID,
		Identifiers: ids,
		Operation:   models.Operation(r.Operation),
		Attributes:  r.Attributes,
		UserAgent:   r.UserAgent,
	}
	if r.OccurredAt != nil {
		ev.OccurredAt = r.OccurredAt.UTC()
	}
	return ev, nil
}

// UpdateDetectionRequest is the body of PATCH /admin/detections/{id}.
type UpdateDetectionRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

func (r *UpdateDetectionRequest) Normalize() {
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
}

func (r *UpdateDetectionRequest) Validate() error {
	if _, err := models.ParseDetectionStatus(r.Status); err != nil {
		return err
	}
	if len(r.Notes) > models.MaxNotesLength {
		return dErrors.New(dErrors.CodeValidation, "notes too long")
	}
	return nil
}
