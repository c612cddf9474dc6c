package scoring

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	ParseIdentifiers(raw string) ([]map[string]string, error)
	Unique(value string) string
	SetDetectionID(id string)
}

// RegisterSteps registers risk scoring step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &scoringSteps{tc: tc, attributes: map[string]any{}}

	ctx.Step(`^an event for "([^"]*)" on "([^"]*)"$`, steps.newEvent)
	ctx.Step(`^the event has attribute "([^"]*)" set to "([^"]*)"$`, steps.setAttribute)
	ctx.Step(`^the event has user agent "([^"]*)"$`, steps.setUserAgent)
	ctx.Step(`^I score the event$`, steps.scoreEvent)
	ctx.Step(`^I score the event again$`, steps.scoreEvent)
	ctx.Step(`^the risk score should be (\d+(?:\.\d+)?)$`, steps.scoreShouldBe)
	ctx.Step(`^the risk tier should be "([^"]*)"$`, steps.tierShouldBe)
	ctx.Step(`^the triggered rules should be "([^"]*)"$`, steps.triggeredRulesShouldBe)
	ctx.Step(`^a detection should have been recorded$`, steps.detectionRecorded)
	ctx.Step(`^no detection should have been recorded$`, steps.noDetectionRecorded)
	ctx.Step(`^the detection id should be unchanged$`, steps.detectionIDUnchanged)
}

type scoringSteps struct {
	tc TestContext

	eventID     string
	identifiers string
	operation   string
	attributes  map[string]any
	userAgent   string
	detectionID string
}

func (s *scoringSteps) newEvent(ctx context.Context, identifiers, operation string) error {
	s.eventID = s.tc.Unique("evt")
	s.identifiers = identifiers
	s.operation = operation
	s.attributes = map[string]any{}
	s.userAgent = ""
	return nil
}

// setAttribute parses booleans and numbers so conditions compare typed values.
func (s *scoringSteps) setAttribute(ctx context.Context, name, value string) error {
	if b, err := strconv.ParseBool(value); err == nil {
		s.attributes[name] = b
		return nil
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		s.attributes[name] = f
		return nil
	}
	s.attributes[name] = value
	return nil
}

func (s *scoringSteps) setUserAgent(ctx context.Context, ua string) error {
	s.userAgent = ua
	return nil
}

func (s *scoringSteps) scoreEvent(ctx context.Context) error {
	ids, err := s.tc.ParseIdentifiers(s.identifiers)
	if err != nil {
		return err
	}
	body := map[string]any{
		"event_id":    s.eventID,
		"identifiers": ids,
		"operation":   s.operation,
		"attributes":  s.attributes,
	}
	if s.userAgent != "" {
		body["user_agent"] = s.userAgent
	}
	if err := s.tc.POST("/v1/events/score", body); err != nil {
		return err
	}
	if status := s.tc.GetLastResponseStatus(); status != 200 {
		return fmt.Errorf("score event: expected 200 but got %d: %s", status, string(s.tc.GetLastResponseBody()))
	}
	return nil
}

func (s *scoringSteps) scoreShouldBe(ctx context.Context, expected float64) error {
	raw, err := s.tc.GetResponseField("score")
	if err != nil {
		return err
	}
	if raw != expected {
		return fmt.Errorf("expected score %v but got %v", expected, raw)
	}
	return nil
}

func (s *scoringSteps) tierShouldBe(ctx context.Context, expected string) error {
	raw, err := s.tc.GetResponseField("tier")
	if err != nil {
		return err
	}
	if raw != expected {
		return fmt.Errorf("expected tier %s but got %v", expected, raw)
	}
	return nil
}

func (s *scoringSteps) triggeredRulesShouldBe(ctx context.Context, expected string) error {
	raw, err := s.tc.GetResponseField("triggered_rules")
	if err != nil {
		return err
	}
	rules, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("triggered_rules is not a list: %v", raw)
	}
	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		rule, _ := r.(map[string]any)
		ids = append(ids, fmt.Sprint(rule["rule_id"]))
	}
	if got := strings.Join(ids, ","); got != expected {
		return fmt.Errorf("expected triggered rules %s but got %s", expected, got)
	}
	return nil
}

func (s *scoringSteps) detectionRecorded(ctx context.Context) error {
	raw, err := s.tc.GetResponseField("detection_id")
	if err != nil {
		return fmt.Errorf("no detection recorded: %s", string(s.tc.GetLastResponseBody()))
	}
	id, ok := raw.(string)
	if !ok || id == "" {
		return fmt.Errorf("detection_id is empty: %v", raw)
	}
	s.detectionID = id
	s.tc.SetDetectionID(id)
	return nil
}

func (s *scoringSteps) noDetectionRecorded(ctx context.Context) error {
	if raw, err := s.tc.GetResponseField("detection_id"); err == nil {
		return fmt.Errorf("expected no detection but got %v", raw)
	}
	return nil
}

func (s *scoringSteps) detectionIDUnchanged(ctx context.Context) error {
	previous := s.detectionID
	if err := s.detectionRecorded(ctx); err != nil {
		return err
	}
	if s.detectionID != previous {
		return fmt.Errorf("expected detection %s to be reused but got %s", previous, s.detectionID)
	}
	return nil
}
