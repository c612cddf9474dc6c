package lockout

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	ParseIdentifiers(raw string) ([]map[string]string, error)
}

// RegisterSteps registers lockout-related step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &lockoutSteps{tc: tc}

	ctx.Step(`^I record (\d+) failed "([^"]*)" attempts? for "([^"]*)"$`, steps.recordFailures)
	ctx.Step(`^I record a successful "([^"]*)" for "([^"]*)"$`, steps.recordSuccess)
	ctx.Step(`^I check the lockout state of "([^"]*)" for "([^"]*)"$`, steps.checkLockout)
	ctx.Step(`^the decision should be "([^"]*)"$`, steps.decisionShouldBe)
	ctx.Step(`^the governing identifier kind should be "([^"]*)"$`, steps.governingKindShouldBe)
	ctx.Step(`^the retry hint should be positive$`, steps.retryHintShouldBePositive)
}

type lockoutSteps struct {
	tc TestContext
}

func (s *lockoutSteps) recordFailures(ctx context.Context, n int, operation, identifiers string) error {
	for i := range n {
		if err := s.recordOutcome(operation, identifiers, false); err != nil {
			return fmt.Errorf("failure %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *lockoutSteps) recordSuccess(ctx context.Context, operation, identifiers string) error {
	return s.recordOutcome(operation, identifiers, true)
}

func (s *lockoutSteps) recordOutcome(operation, identifiers string, success bool) error {
	ids, err := s.tc.ParseIdentifiers(identifiers)
	if err != nil {
		return err
	}
	if err := s.tc.POST("/v1/lockout/outcome", map[string]any{
		"identifiers": ids,
		"operation":   operation,
		"success":     success,
	}); err != nil {
		return err
	}
	if status := s.tc.GetLastResponseStatus(); status != 204 {
		return fmt.Errorf("record outcome: expected 204 but got %d: %s", status, string(s.tc.GetLastResponseBody()))
	}
	return nil
}

func (s *lockoutSteps) checkLockout(ctx context.Context, operation, identifiers string) error {
	ids, err := s.tc.ParseIdentifiers(identifiers)
	if err != nil {
		return err
	}
	return s.tc.POST("/v1/lockout/check", map[string]any{
		"identifiers": ids,
		"operation":   operation,
	})
}

func (s *lockoutSteps) decisionShouldBe(ctx context.Context, expected string) error {
	decision, err := s.tc.GetResponseField("decision")
	if err != nil {
		return err
	}
	if decision != expected {
		return fmt.Errorf("expected decision %s but got %v", expected, decision)
	}
	return nil
}

func (s *lockoutSteps) governingKindShouldBe(ctx context.Context, kind string) error {
	raw, err := s.tc.GetResponseField("governing_identifier")
	if err != nil {
		return err
	}
	id, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("governing_identifier is not an object: %v", raw)
	}
	if id["kind"] != kind {
		return fmt.Errorf("expected governing identifier kind %s but got %v", kind, id["kind"])
	}
	return nil
}

func (s *lockoutSteps) retryHintShouldBePositive(ctx context.Context) error {
	raw, err := s.tc.GetResponseField("retry_after_seconds")
	if err != nil {
		return err
	}
	seconds, ok := raw.(float64)
	if !ok || seconds <= 0 {
		return fmt.Errorf("expected positive retry_after_seconds but got %v", raw)
	}
	return nil
}
