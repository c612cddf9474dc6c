package models

import (
	"time"
)

// Event is the immutable snapshot of an activity submitted for risk analysis.
// Any lookup a rule depends on (geolocation, device novelty) must already be
// present in Attributes.
type Event struct {
	ID          string
	Identifiers IdentifierSet
	Operation   Operation
	Attributes  map[string]any
	UserAgent   string
	OccurredAt  time.Time
}

// Attribute returns the named attribute.
func (e *Event) Attribute(name string) (any, bool) {
	if e == nil || e.Attributes == nil {
		return nil, false
	}
	v, ok := e.Attributes[name]
	return v, ok
}

// WithAttributes returns a copy of the event whose attribute map includes extra.
// Existing attributes win over extra so callers cannot be overridden by enrichment.
func (e *Event) WithAttributes(extra map[string]any) *Event {
	cp := *e
	cp.Attributes = make(map[string]any, len(e.Attributes)+len(extra))
	for k, v := range extra {
		cp.Attributes[k] = v
	}
	for k, v := range e.Attributes {
		cp.Attributes[k] = v
	}
	return &cp
}

// Outcome reports how a protected operation ended.
type Outcome struct {
	Success bool
	Context map[string]string
}
