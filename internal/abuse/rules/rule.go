package rules

import (
	"fmt"
	"math"

	"warden/internal/abuse/models"
)

// Rule is a declarative condition set with a signed risk weight.
// All conditions must hold for the rule to trigger; an empty list always holds.
type Rule struct {
	ID          string           `koanf:"id" json:"id" validate:"required"`
	Description string           `koanf:"description" json:"description,omitempty"`
	AppliesTo   models.Operation `koanf:"applies_to" json:"applies_to"`
	Conditions  []Condition      `koanf:"conditions" json:"conditions" validate:"dive"`
	Weight      float64          `koanf:"weight" json:"weight"`
	Enabled     bool             `koanf:"enabled" json:"enabled"`
}

// Matches reports whether the rule is enabled and applies to op.
func (r *Rule) Matches(op models.Operation) bool {
	if !r.Enabled {
		return false
	}
	return r.AppliesTo == "" || r.AppliesTo == models.OperationAny || r.AppliesTo == op
}

// Validate checks the rule is well-formed.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if math.IsNaN(r.Weight) || math.IsInf(r.Weight, 0) {
		return fmt.Errorf("rule %s: weight must be finite", r.ID)
	}
	if r.AppliesTo != "" && r.AppliesTo != models.OperationAny && !r.AppliesTo.Validate() {
		return fmt.Errorf("rule %s: invalid applies_to %q", r.ID, r.AppliesTo)
	}
	for i, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("rule %s condition %d: %w", r.ID, i, err)
		}
	}
	return nil
}

func (r Rule) clone() Rule {
	cp := r
	cp.Conditions = append([]Condition(nil), r.Conditions...)
	return cp
}

// RuleSet is an immutable, ordered collection of rules. It is built once per
// policy version and shared by concurrent evaluations without locking.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet validates and copies rules. Duplicate ids are rejected.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	seen := make(map[string]struct{}, len(rules))
	copied := make([]Rule, 0, len(rules))
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[rules[i].ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", rules[i].ID)
		}
		seen[rules[i].ID] = struct{}{}
		copied = append(copied, rules[i].clone())
	}
	return &RuleSet{rules: copied}, nil
}

// Len returns the number of rules, enabled or not.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Rules returns a copy of the rules in declared order.
func (s *RuleSet) Rules() []Rule {
	if s == nil {
		return nil
	}
	out := make([]Rule, len(s.rules))
	for i := range s.rules {
		out[i] = s.rules[i].clone()
	}
	return out
}
