package review

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cucumber/godog"

	jwttoken "warden/internal/jwt_token"
	"warden/internal/platform/config"
	platformstrings "warden/pkg/platform/strings"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	PATCH(path string, body any, headers map[string]string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	GetDetectionID() string
	SetReviewerToken(token string)
	AuthHeaders() map[string]string
	Unique(value string) string
}

// RegisterSteps registers detection review step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &reviewSteps{tc: tc}

	ctx.Step(`^I am a reviewer with scopes "([^"]*)"$`, steps.reviewerWithScopes)
	ctx.Step(`^I am a reviewer with all scopes$`, steps.reviewerWithAllScopes)
	ctx.Step(`^I list detections for "([^"]*)"$`, steps.listDetectionsFor)
	ctx.Step(`^I fetch the recorded detection$`, steps.fetchDetection)
	ctx.Step(`^I mark the recorded detection as "([^"]*)"$`, steps.markDetection)
	ctx.Step(`^I mark the recorded detection as "([^"]*)" without a token$`, steps.markDetectionAnonymously)
	ctx.Step(`^I fetch the active policy$`, steps.fetchPolicy)
	ctx.Step(`^the detection list should contain the recorded detection$`, steps.listContainsDetection)
}

type reviewSteps struct {
	tc TestContext
}

// signingKey matches the server default unless the environment overrides it.
func signingKey() string {
	if key := os.Getenv(config.EnvPrefix + "SERVER__REVIEWER_SIGNING_KEY"); key != "" {
		return key
	}
	return config.Default().Server.ReviewerSigningKey
}

func (s *reviewSteps) reviewerWithScopes(ctx context.Context, scopes string) error {
	return s.mint(ctx, platformstrings.SplitList(scopes))
}

func (s *reviewSteps) reviewerWithAllScopes(ctx context.Context) error {
	return s.mint(ctx, jwttoken.AllScopes)
}

func (s *reviewSteps) mint(ctx context.Context, scopes []string) error {
	svc := jwttoken.NewJWTService(signingKey(), config.Default().Server.ReviewerIssuer, 10*time.Minute)
	token, err := svc.GenerateReviewerToken(ctx, s.tc.Unique("e2e-reviewer"), scopes)
	if err != nil {
		return fmt.Errorf("mint reviewer token: %w", err)
	}
	s.tc.SetReviewerToken(token)
	return nil
}

func (s *reviewSteps) listDetectionsFor(ctx context.Context, identifier string) error {
	kind, value, ok := strings.Cut(identifier, ":")
	if !ok {
		return fmt.Errorf("identifier %q must be kind:value", identifier)
	}
	q := url.Values{"identifier": {kind + ":" + s.tc.Unique(value)}}
	return s.tc.GET("/admin/detections?"+q.Encode(), s.tc.AuthHeaders())
}

func (s *reviewSteps) fetchDetection(ctx context.Context) error {
	id := s.tc.GetDetectionID()
	if id == "" {
		return fmt.Errorf("no detection recorded in this scenario")
	}
	return s.tc.GET("/admin/detections/"+id, s.tc.AuthHeaders())
}

func (s *reviewSteps) markDetection(ctx context.Context, status string) error {
	return s.patchStatus(status, s.tc.AuthHeaders())
}

func (s *reviewSteps) markDetectionAnonymously(ctx context.Context, status string) error {
	return s.patchStatus(status, nil)
}

func (s *reviewSteps) patchStatus(status string, headers map[string]string) error {
	id := s.tc.GetDetectionID()
	if id == "" {
		return fmt.Errorf("no detection recorded in this scenario")
	}
	return s.tc.PATCH("/admin/detections/"+id, map[string]any{
		"status": status,
		"notes":  "marked by e2e",
	}, headers)
}

func (s *reviewSteps) fetchPolicy(ctx context.Context) error {
	return s.tc.GET("/admin/policy", s.tc.AuthHeaders())
}

func (s *reviewSteps) listContainsDetection(ctx context.Context) error {
	raw, err := s.tc.GetResponseField("detections")
	if err != nil {
		return err
	}
	list, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("detections is not a list: %v", raw)
	}
	want := s.tc.GetDetectionID()
	for _, item := range list {
		if d, ok := item.(map[string]any); ok && d["id"] == want {
			return nil
		}
	}
	return fmt.Errorf("detection %s not in list: %s", want, string(s.tc.GetLastResponseBody()))
}
