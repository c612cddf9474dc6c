// Package requestcontext holds request-scoped values shared by middleware,
// handlers, services and stores: request id, request time, client IP and the
// authenticated reviewer.
package requestcontext

import (
	"context"
	"time"
)

type (
	contextKeyRequestID struct{}
	contextKeyTime      struct{}
	contextKeyClientIP  struct{}
	contextKeyReviewer  struct{}
)

// WithRequestID stores the correlation id for the current request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID{}, requestID)
}

// RequestID returns the correlation id, or "" outside a request.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyRequestID{}).(string); ok {
		return v
	}
	return ""
}

// WithTime injects a specific "now" into a context.
// Useful for:
//   - Service unit tests that need deterministic windows and expiries
//   - Workers that need consistent time within a batch operation
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, contextKeyTime{}, t)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(contextKeyTime{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithClientIP stores the caller's network address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKeyClientIP{}, ip)
}

// ClientIP returns the caller's network address, or "".
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyClientIP{}).(string); ok {
		return v
	}
	return ""
}

// WithReviewer stores the authenticated reviewer subject.
func WithReviewer(ctx context.Context, reviewer string) context.Context {
	return context.WithValue(ctx, contextKeyReviewer{}, reviewer)
}

// Reviewer returns the authenticated reviewer subject, or "".
func Reviewer(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyReviewer{}).(string); ok {
		return v
	}
	return ""
}
