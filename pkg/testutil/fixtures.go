package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"warden/internal/abuse/models"
)

// TestTime is a fixed instant used as "now" by deterministic tests.
var TestTime = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

// MustIdentifier builds a normalized identifier or panics.
func MustIdentifier(kind models.IdentifierKind, value string) models.Identifier {
	id, err := models.NewIdentifier(kind, value)
	if err != nil {
		panic(fmt.Sprintf("testutil: %v", err))
	}
	return id
}

// TestIdentifiers provides one identifier of each kind.
var TestIdentifiers = struct {
	IP      models.Identifier
	IP2     models.Identifier
	Account models.Identifier
	Email   models.Identifier
	Device  models.Identifier
}{
	IP:      MustIdentifier(models.KindIP, "1.2.3.4"),
	IP2:     MustIdentifier(models.KindIP, "5.6.7.8"),
	Account: MustIdentifier(models.KindAccount, "acct-42"),
	Email:   MustIdentifier(models.KindEmail, "Alice@Example.com"),
	Device:  MustIdentifier(models.KindDevice, "dev-9f2c"),
}

// RiskEventBuilder provides a fluent interface for building scored events.
type RiskEventBuilder struct {
	event *models.RiskEvent
}

// NewRiskEventBuilder creates a RiskEventBuilder with a high-tier login event.
func NewRiskEventBuilder() *RiskEventBuilder {
	return &RiskEventBuilder{
		event: &models.RiskEvent{
			EventID:        uuid.NewString(),
			Identifiers:    models.IdentifierSet{TestIdentifiers.IP},
			Operation:      "login",
			Score:          60,
			Tier:           models.TierHigh,
			TriggeredRules: []models.TriggeredRule{{RuleID: "impossible-travel", Weight: 60}},
			PolicyVersion:  1,
			Timestamp:      TestTime,
		},
	}
}

func (b *RiskEventBuilder) WithEventID(id string) *RiskEventBuilder {
	b.event.EventID = id
	return b
}

func (b *RiskEventBuilder) WithIdentifiers(ids ...models.Identifier) *RiskEventBuilder {
	b.event.Identifiers = ids
	return b
}

func (b *RiskEventBuilder) WithOperation(op models.Operation) *RiskEventBuilder {
	b.event.Operation = op
	return b
}

func (b *RiskEventBuilder) WithScore(score float64, tier models.Tier) *RiskEventBuilder {
	b.event.Score = score
	b.event.Tier = tier
	return b
}

func (b *RiskEventBuilder) WithTriggered(rules ...models.TriggeredRule) *RiskEventBuilder {
	b.event.TriggeredRules = rules
	return b
}

func (b *RiskEventBuilder) WithTimestamp(t time.Time) *RiskEventBuilder {
	b.event.Timestamp = t
	return b
}

func (b *RiskEventBuilder) Build() *models.RiskEvent {
	return b.event
}

// DetectionBuilder provides a fluent interface for building stored detections.
type DetectionBuilder struct {
	detection *models.Detection
}

// NewDetectionBuilder creates an open detection from a default risk event.
func NewDetectionBuilder() *DetectionBuilder {
	d, err := models.NewDetection(uuid.NewString(), NewRiskEventBuilder().Build(), TestTime)
	if err != nil {
		panic(fmt.Sprintf("testutil: %v", err))
	}
	return &DetectionBuilder{detection: d}
}

func (b *DetectionBuilder) FromEvent(ev *models.RiskEvent) *DetectionBuilder {
	d, err := models.NewDetection(b.detection.ID, ev, b.detection.CreatedAt)
	if err != nil {
		panic(fmt.Sprintf("testutil: %v", err))
	}
	b.detection = d
	return b
}

func (b *DetectionBuilder) WithID(id string) *DetectionBuilder {
	b.detection.ID = id
	return b
}

func (b *DetectionBuilder) WithStatus(status models.DetectionStatus) *DetectionBuilder {
	b.detection.Status = status
	return b
}

func (b *DetectionBuilder) WithCreatedAt(t time.Time) *DetectionBuilder {
	b.detection.CreatedAt = t
	b.detection.UpdatedAt = t
	return b
}

func (b *DetectionBuilder) Build() *models.Detection {
	return b.detection
}
