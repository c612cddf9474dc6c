package rules

import (
	"context"
	"fmt"
	"log/slog"

	"warden/internal/abuse/models"
	dErrors "warden/pkg/domain-errors"
)

// Observer receives per-rule evaluation outcomes, typically for metrics.
type Observer interface {
	RuleTriggered(ruleID string)
	RuleEvaluationFailed(ruleID string)
}

// SkippedRule records a rule dropped from an evaluation because a condition failed to evaluate.
type SkippedRule struct {
	RuleID         string
	ConditionIndex int
	Err            error
}

// Evaluation is the output of one Evaluate call.
type Evaluation struct {
	Triggered []models.TriggeredRule
	Skipped   []SkippedRule
}

// Engine evaluates rule sets against events. It holds no rule state of its
// own, so the caller's snapshot is the only rule source for a call.
type Engine struct {
	logger   *slog.Logger
	observer Observer
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		e.observer = observer
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns every enabled rule applicable to the event's operation whose
// conditions all hold, in declared order. Conditions short-circuit per rule.
// A condition error skips only its rule.
func (e *Engine) Evaluate(ctx context.Context, set *RuleSet, ev *models.Event) *Evaluation {
	result := &Evaluation{}
	if set == nil || ev == nil {
		return result
	}

	for i := range set.rules {
		rule := &set.rules[i]
		if !rule.Matches(ev.Operation) {
			continue
		}
		matched, idx, err := evaluateConditions(rule, ev)
		if err != nil {
			skipped := SkippedRule{
				RuleID:         rule.ID,
				ConditionIndex: idx,
				Err:            dErrors.Wrap(err, dErrors.CodeRuleEvaluationError, fmt.Sprintf("rule %s condition %d failed", rule.ID, idx)),
			}
			result.Skipped = append(result.Skipped, skipped)
			if e.logger != nil {
				e.logger.WarnContext(ctx, "rule_evaluation_error",
					"rule_id", rule.ID,
					"condition_index", idx,
					"event_id", ev.ID,
					"error", err,
				)
			}
			if e.observer != nil {
				e.observer.RuleEvaluationFailed(rule.ID)
			}
			continue
		}
		if !matched {
			continue
		}
		result.Triggered = append(result.Triggered, models.TriggeredRule{RuleID: rule.ID, Weight: rule.Weight})
		if e.observer != nil {
			e.observer.RuleTriggered(rule.ID)
		}
	}
	return result
}

func evaluateConditions(rule *Rule, ev *models.Event) (matched bool, index int, err error) {
	for i, c := range rule.Conditions {
		ok, err := c.Evaluate(ev)
		if err != nil {
			return false, i, err
		}
		if !ok {
			return false, i, nil
		}
	}
	return true, -1, nil
}
