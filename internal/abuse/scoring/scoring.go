// Package scoring turns triggered rules into a clamped score and risk tier.
package scoring

import (
	"warden/internal/abuse/models"
	"warden/internal/abuse/policy"
)

// Score sums the triggered weights and clamps the total to [0, MaxScore].
// Adding a positively weighted rule never lowers the result.
func Score(triggered []models.TriggeredRule, sp policy.ScoringPolicy) float64 {
	var sum float64
	for _, t := range triggered {
		sum += t.Weight
	}
	return min(max(sum, 0), sp.MaxScore)
}

// TierFor returns the band containing score. A score equal to a band's lower
// bound belongs to that band, so boundaries resolve to the higher tier.
// Bands are assumed validated: ascending and starting at zero.
func TierFor(score float64, sp policy.ScoringPolicy) models.Tier {
	tier := models.TierLow
	for _, band := range sp.Bands {
		if score < band.Min {
			break
		}
		tier = band.Tier
	}
	return tier
}

// Evaluate returns the score and tier together.
func Evaluate(triggered []models.TriggeredRule, sp policy.ScoringPolicy) (float64, models.Tier) {
	score := Score(triggered, sp)
	return score, TierFor(score, sp)
}

// ShouldRecord reports whether a score qualifies for a persisted detection.
func ShouldRecord(score float64, sp policy.ScoringPolicy) bool {
	return score >= sp.RecordThreshold
}
