// Package events forwards detection lifecycle events and audit events to Kafka.
package events

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"warden/internal/abuse/models"
	"warden/internal/platform/kafka/producer"
	"warden/pkg/platform/audit"
)

// Header keys set on every record.
const (
	HeaderEventType = "event_type"
	HeaderCategory  = "category"
	HeaderSource    = "source"

	source = "warden"
)

// Producer is the subset of the Kafka producer the publishers use.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
	ProduceAsync(msg *producer.Message) error
}

// DetectionPublisher writes detection events to a topic, keyed by detection
// id so every event of one detection lands on the same partition.
type DetectionPublisher struct {
	producer Producer
	topic    string
}

func NewDetectionPublisher(p Producer, topic string) *DetectionPublisher {
	return &DetectionPublisher{producer: p, topic: topic}
}

// PublishDetection produces synchronously; the caller decides what a failure means.
func (p *DetectionPublisher) PublishDetection(ctx context.Context, event models.DetectionEvent) error {
	if event.Detection == nil {
		return fmt.Errorf("detection event without detection")
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal detection event: %w", err)
	}
	return p.producer.Produce(ctx, &producer.Message{
		Topic: p.topic,
		Key:   []byte(event.Detection.ID),
		Value: value,
		Headers: map[string]string{
			HeaderEventType: string(event.Type),
			HeaderSource:    source,
		},
	})
}

// AuditSink is an audit.Store that forwards events to a topic without
// waiting for acknowledgement.
type AuditSink struct {
	producer Producer
	topic    string
}

func NewAuditSink(p Producer, topic string) *AuditSink {
	return &AuditSink{producer: p, topic: topic}
}

func (s *AuditSink) Append(_ context.Context, event audit.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return s.producer.ProduceAsync(&producer.Message{
		Topic: s.topic,
		Key:   []byte(event.Subject),
		Value: value,
		Headers: map[string]string{
			HeaderEventType: event.Action,
			HeaderCategory:  string(audit.AuditEvent(event.Action).Category()),
			HeaderSource:    source,
		},
	})
}

// NoopPublisher discards detection events. Used when Kafka is not configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishDetection(context.Context, models.DetectionEvent) error {
	return nil
}

// NoopAuditSink discards audit events; the text audit log still carries them.
type NoopAuditSink struct{}

func (NoopAuditSink) Append(context.Context, audit.Event) error {
	return nil
}
