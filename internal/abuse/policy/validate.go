package policy

import (
	"fmt"

	"warden/internal/abuse/models"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/validation"
)

// Validate checks a policy document. Every failure carries CodeInvalidPolicy;
// a document that fails here is never published.
func Validate(doc *Document) error {
	if doc == nil {
		return dErrors.New(dErrors.CodeInvalidPolicy, "policy document is required")
	}
	if err := validation.ValidateAs(doc, dErrors.CodeInvalidPolicy); err != nil {
		return err
	}
	for op := range doc.Operations {
		if !op.Validate() {
			return dErrors.New(dErrors.CodeInvalidPolicy, fmt.Sprintf("invalid operation name %q", op))
		}
	}
	return validateScoring(doc.Scoring)
}

// validateScoring enforces monotonic, non-overlapping bands starting at zero
// and ordered by tier.
func validateScoring(sp ScoringPolicy) error {
	if sp.RecordThreshold > sp.MaxScore {
		return dErrors.New(dErrors.CodeInvalidPolicy, "record_threshold must not exceed max_score")
	}
	if sp.Bands[0].Min != 0 {
		return dErrors.New(dErrors.CodeInvalidPolicy, "the first band must start at 0")
	}
	lastRank := -1
	for i, band := range sp.Bands {
		rank := tierRank(band.Tier)
		if rank < 0 {
			return dErrors.New(dErrors.CodeInvalidPolicy, fmt.Sprintf("band %d: unknown tier %q", i, band.Tier))
		}
		if rank <= lastRank {
			return dErrors.New(dErrors.CodeInvalidPolicy, fmt.Sprintf("band %d: tiers must ascend", i))
		}
		if i > 0 && band.Min <= sp.Bands[i-1].Min {
			return dErrors.New(dErrors.CodeInvalidPolicy, fmt.Sprintf("band %d: lower bounds must strictly increase", i))
		}
		if band.Min > sp.MaxScore {
			return dErrors.New(dErrors.CodeInvalidPolicy, fmt.Sprintf("band %d: lower bound exceeds max_score", i))
		}
		lastRank = rank
	}
	return nil
}

func tierRank(t models.Tier) int {
	for i, known := range models.Tiers {
		if t == known {
			return i
		}
	}
	return -1
}

func invalid(err error, msg string) error {
	return &dErrors.Error{Code: dErrors.CodeInvalidPolicy, Message: fmt.Sprintf("%s: %v", msg, err), Err: err}
}
