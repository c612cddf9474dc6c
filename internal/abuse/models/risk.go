package models

import (
	"time"
)

// Tier is the discrete risk band derived from a score.
type Tier string

const (
	TierLow      Tier = "low"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
	TierCritical Tier = "critical"
)

// Tiers lists tiers from lowest to highest.
var Tiers = []Tier{TierLow, TierMedium, TierHigh, TierCritical}

// IsValid reports whether t is a known tier.
func (t Tier) IsValid() bool {
	for _, known := range Tiers {
		if t == known {
			return true
		}
	}
	return false
}

// TriggeredRule is one rule that matched an event, with its weight.
type TriggeredRule struct {
	RuleID string  `json:"rule_id"`
	Weight float64 `json:"weight"`
}

// RiskEvent is the scored outcome of an Event.
type RiskEvent struct {
	EventID        string          `json:"event_id"`
	Identifiers    IdentifierSet   `json:"identifiers"`
	Operation      Operation       `json:"operation"`
	Score          float64         `json:"score"`
	Tier           Tier            `json:"tier"`
	TriggeredRules []TriggeredRule `json:"triggered_rules"`
	PolicyVersion  int64           `json:"policy_version"`
	Timestamp      time.Time       `json:"timestamp"`
}

// TriggeredRuleIDs returns the ids of the triggered rules in evaluation order.
func (r *RiskEvent) TriggeredRuleIDs() []string {
	ids := make([]string, len(r.TriggeredRules))
	for i, t := range r.TriggeredRules {
		ids[i] = t.RuleID
	}
	return ids
}
