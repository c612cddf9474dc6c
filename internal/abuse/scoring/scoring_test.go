package scoring

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"

	"warden/internal/abuse/models"
	"warden/internal/abuse/policy"
)

func scoringPolicy() policy.ScoringPolicy {
	return policy.DefaultDocument().Scoring
}

func rulesWithWeights(weights ...float64) []models.TriggeredRule {
	out := make([]models.TriggeredRule, len(weights))
	for i, w := range weights {
		out[i] = models.TriggeredRule{RuleID: "r", Weight: w}
	}
	return out
}

func TestScore(t *testing.T) {
	sp := scoringPolicy()

	t.Run("sums weights of triggered rules", func(t *testing.T) {
		score, tier := Evaluate(rulesWithWeights(40, 50), sp)
		assert.Equal(t, 90.0, score)
		assert.Equal(t, models.TierCritical, tier)
	})

	t.Run("clamps above max", func(t *testing.T) {
		assert.Equal(t, 100.0, Score(rulesWithWeights(80, 70), sp))
	})

	t.Run("clamps below zero", func(t *testing.T) {
		assert.Equal(t, 0.0, Score(rulesWithWeights(10, -40), sp))
	})

	t.Run("no rules scores zero", func(t *testing.T) {
		score, tier := Evaluate(nil, sp)
		assert.Equal(t, 0.0, score)
		assert.Equal(t, models.TierLow, tier)
	})
}

func TestTierBoundaries(t *testing.T) {
	sp := scoringPolicy()
	cases := map[float64]models.Tier{
		0:     models.TierLow,
		19.99: models.TierLow,
		20:    models.TierMedium,
		49.5:  models.TierMedium,
		50:    models.TierHigh,
		74:    models.TierHigh,
		75:    models.TierCritical,
		100:   models.TierCritical,
	}
	for score, want := range cases {
		assert.Equal(t, want, TierFor(score, sp), "score %v", score)
	}
}

func TestScoreIsMonotonic(t *testing.T) {
	sp := scoringPolicy()
	r := rand.New(rand.NewPCG(1, 2))
	for range 500 {
		n := r.IntN(6)
		weights := make([]float64, n)
		for i := range weights {
			weights[i] = r.Float64()*120 - 40
		}
		base := Score(rulesWithWeights(weights...), sp)
		extended := Score(rulesWithWeights(append(weights, r.Float64()*30)...), sp)
		assert.GreaterOrEqual(t, extended, base)
	}
}

func TestShouldRecord(t *testing.T) {
	sp := scoringPolicy()
	assert.True(t, ShouldRecord(50, sp))
	assert.False(t, ShouldRecord(49.9, sp))
}
