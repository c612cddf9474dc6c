package e2e

import (
	"github.com/cucumber/godog"

	"warden/e2e/steps/common"
	"warden/e2e/steps/lockout"
	"warden/e2e/steps/review"
	"warden/e2e/steps/scoring"
)

// RegisterSteps registers all step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	lockout.RegisterSteps(ctx, tc)
	scoring.RegisterSteps(ctx, tc)
	review.RegisterSteps(ctx, tc)
}
