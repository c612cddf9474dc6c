// Package tracer provides a lightweight tracing abstraction for the engine.
//
// Services depend on the Tracer interface rather than OpenTelemetry directly,
// so tests run with the no-op implementation and production installs the OTel
// adapter on top of the global tracer provider (see Init).
package tracer

import (
	"context"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span, marking it failed when err is non-nil.
	// End must be called exactly once, typically via defer.
	End(err error)

	SetAttributes(attrs ...Attribute)

	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a span; the returned context carries it to child calls.
	//
	// Example:
	//   ctx, span := t.Start(ctx, tracer.SpanCheckLockout,
	//       tracer.String(tracer.AttrOperation, "login"),
	//   )
	//   defer span.End(nil)
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int(key string, value int) Attribute {
	return Attribute{Key: key, Value: value}
}

func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// Span names.
const (
	SpanCheckLockout    = "warden.lockout.check"
	SpanRecordOutcome   = "warden.lockout.outcome"
	SpanScoreEvent      = "warden.risk.score"
	SpanRecordDetection = "warden.detection.record"
	SpanListDetections  = "warden.detection.list"
	SpanUpdateDetection = "warden.detection.update_status"
)

// Attribute keys. Identifier values are never attached raw.
const (
	AttrOperation      = "warden.operation"
	AttrIdentifiers    = "warden.identifier_count"
	AttrDecision       = "warden.decision"
	AttrDegraded       = "warden.degraded"
	AttrFailMode       = "warden.fail_mode"
	AttrSuccess        = "warden.success"
	AttrScore          = "warden.score"
	AttrTier           = "warden.tier"
	AttrTriggeredRules = "warden.triggered_rules"
	AttrPolicyVersion  = "warden.policy_version"
	AttrDetectionID    = "warden.detection_id"
	AttrStatus         = "warden.status"
)

// Event names.
const (
	EventRuleErrors       = "rules.evaluation_errors"
	EventDetectionCreated = "detection.created"
)
