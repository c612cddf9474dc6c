package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"warden/internal/abuse/models"
)

// Operator is a comparison applied by a Condition.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpNotIn    Operator = "not_in"
	OpContains Operator = "contains"
	OpExists   Operator = "exists"
	OpMissing  Operator = "missing"
)

var (
	ErrTypeMismatch    = errors.New("attribute and condition value have incompatible types")
	ErrUnknownOperator = errors.New("unknown operator")
)

// Condition is a pure predicate over one event attribute.
type Condition struct {
	Attribute string   `koanf:"attribute" json:"attribute" validate:"required"`
	Operator  Operator `koanf:"operator" json:"operator" validate:"required"`
	Value     any      `koanf:"value" json:"value,omitempty"`
}

// Validate checks the operator is known and the value has a usable shape.
func (c Condition) Validate() error {
	if c.Attribute == "" {
		return fmt.Errorf("condition attribute is required")
	}
	switch c.Operator {
	case OpExists, OpMissing:
		return nil
	case OpEq, OpNeq:
		if c.Value == nil {
			return fmt.Errorf("operator %s requires a value", c.Operator)
		}
		return nil
	case OpGt, OpGte, OpLt, OpLte:
		if _, ok := toFloat(c.Value); ok {
			return nil
		}
		if _, ok := toTime(c.Value); ok {
			return nil
		}
		return fmt.Errorf("operator %s requires a numeric or time value", c.Operator)
	case OpIn, OpNotIn:
		if _, ok := toList(c.Value); !ok {
			return fmt.Errorf("operator %s requires a list value", c.Operator)
		}
		return nil
	case OpContains:
		if c.Value == nil {
			return fmt.Errorf("operator contains requires a value")
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
}

// Evaluate applies the condition to the event snapshot. An absent attribute
// satisfies only the missing operator; it is not an error.
func (c Condition) Evaluate(ev *models.Event) (bool, error) {
	actual, present := ev.Attribute(c.Attribute)
	switch c.Operator {
	case OpExists:
		return present, nil
	case OpMissing:
		return !present, nil
	}
	if !present || actual == nil {
		return false, nil
	}

	switch c.Operator {
	case OpEq:
		return equal(actual, c.Value)
	case OpNeq:
		eq, err := equal(actual, c.Value)
		return !eq, err
	case OpGt, OpGte, OpLt, OpLte:
		cmp, err := compare(actual, c.Value)
		if err != nil {
			return false, err
		}
		switch c.Operator {
		case OpGt:
			return cmp > 0, nil
		case OpGte:
			return cmp >= 0, nil
		case OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case OpIn, OpNotIn:
		list, ok := toList(c.Value)
		if !ok {
			return false, fmt.Errorf("%w: %s expects a list", ErrTypeMismatch, c.Operator)
		}
		found := false
		for _, candidate := range list {
			if eq, err := equal(actual, candidate); err == nil && eq {
				found = true
				break
			}
		}
		if c.Operator == OpIn {
			return found, nil
		}
		return !found, nil
	case OpContains:
		return contains(actual, c.Value)
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
}

func equal(actual, expected any) (bool, error) {
	if af, ok := toFloat(actual); ok {
		ef, ok := toFloat(expected)
		if !ok {
			return false, fmt.Errorf("%w: %T vs %T", ErrTypeMismatch, actual, expected)
		}
		return af == ef, nil
	}
	if et, ok := toTime(expected); ok {
		if at, ok := toTime(actual); ok {
			return at.Equal(et), nil
		}
	}
	switch a := actual.(type) {
	case string:
		e, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("%w: %T vs %T", ErrTypeMismatch, actual, expected)
		}
		return a == e, nil
	case bool:
		e, ok := toBool(expected)
		if !ok {
			return false, fmt.Errorf("%w: %T vs %T", ErrTypeMismatch, actual, expected)
		}
		return a == e, nil
	case time.Time:
		e, ok := toTime(expected)
		if !ok {
			return false, fmt.Errorf("%w: %T vs %T", ErrTypeMismatch, actual, expected)
		}
		return a.Equal(e), nil
	}
	return false, fmt.Errorf("%w: unsupported attribute type %T", ErrTypeMismatch, actual)
}

func compare(actual, expected any) (int, error) {
	if af, ok := toFloat(actual); ok {
		ef, ok := toFloat(expected)
		if !ok {
			return 0, fmt.Errorf("%w: %T vs %T", ErrTypeMismatch, actual, expected)
		}
		switch {
		case af < ef:
			return -1, nil
		case af > ef:
			return 1, nil
		}
		return 0, nil
	}
	// Attributes decoded from JSON carry timestamps as RFC3339 strings.
	if et, ok := toTime(expected); ok {
		at, ok := toTime(actual)
		if !ok {
			return 0, fmt.Errorf("%w: %T vs time", ErrTypeMismatch, actual)
		}
		return at.Compare(et), nil
	}
	return 0, fmt.Errorf("%w: %T is not ordered", ErrTypeMismatch, actual)
}

func contains(actual, expected any) (bool, error) {
	switch a := actual.(type) {
	case string:
		e, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("%w: contains on string needs a string", ErrTypeMismatch)
		}
		return strings.Contains(a, e), nil
	}
	list, ok := toList(actual)
	if !ok {
		return false, fmt.Errorf("%w: contains on %T", ErrTypeMismatch, actual)
	}
	for _, item := range list {
		if eq, err := equal(item, expected); err == nil && eq {
			return true, nil
		}
	}
	return false, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(b) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(l))
		for i, f := range l {
			out[i] = f
		}
		return out, true
	case []int:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}
