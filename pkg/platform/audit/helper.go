package audit

import (
	"context"
	"fmt"
	"log/slog"

	"warden/pkg/requestcontext"
)

// Emitter is the interface for audit event emission.
// Satisfied by publisher.Publisher.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Logger provides structured audit logging with optional event emission.
// Use this in services to standardize audit logging patterns.
type Logger struct {
	textLogger *slog.Logger
	emitter    Emitter
}

// NewLogger creates an audit logger.
// textLogger is used for structured logging; emitter is optional for event persistence.
func NewLogger(textLogger *slog.Logger, emitter Emitter) *Logger {
	return &Logger{
		textLogger: textLogger,
		emitter:    emitter,
	}
}

// Known attribute keys lifted into Event fields; the rest land in Details.
const (
	AttrSubject   = "identifier"
	AttrDetection = "detection_id"
	AttrOperation = "operation"
	AttrActor     = "reviewer"
	AttrDecision  = "state"
	AttrReason    = "reason"
)

// Log logs an audit event to text and optionally emits to the audit store.
// Automatically enriches with request_id from context. A nil Logger is a no-op.
//
// Usage:
//
//	logger.Log(ctx, "lockout_blocked", "identifier", id.Redacted(), "operation", "login")
func (l *Logger) Log(ctx context.Context, event string, attributes ...any) {
	if l == nil {
		return
	}
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}

	l.logToText(ctx, event, attributes)
	l.emitToAudit(ctx, event, requestID, attributes)
}

func (l *Logger) logToText(ctx context.Context, event string, attributes []any) {
	if l.textLogger == nil {
		return
	}
	args := append(attributes, "event", event, "log_type", "audit")
	l.textLogger.InfoContext(ctx, event, args...)
}

func (l *Logger) emitToAudit(ctx context.Context, event, requestID string, attributes []any) {
	if l.emitter == nil {
		return
	}

	ev := Event{
		Timestamp: requestcontext.Now(ctx),
		Action:    event,
		RequestID: requestID,
	}
	for i := 0; i+1 < len(attributes); i += 2 {
		key, ok := attributes[i].(string)
		if !ok || key == "request_id" {
			continue
		}
		value := fmt.Sprint(attributes[i+1])
		switch key {
		case AttrSubject, AttrDetection:
			ev.Subject = value
		case AttrOperation:
			ev.Operation = value
		case AttrActor:
			ev.Actor = value
		case AttrDecision:
			ev.Decision = value
		case AttrReason:
			ev.Reason = value
		default:
			if ev.Details == nil {
				ev.Details = make(map[string]string)
			}
			ev.Details[key] = value
		}
	}

	if err := l.emitter.Emit(ctx, ev); err != nil && l.textLogger != nil {
		l.textLogger.ErrorContext(ctx, "failed to emit audit event",
			"error", err,
			"event", event,
		)
	}
}
