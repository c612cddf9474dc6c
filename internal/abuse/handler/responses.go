package handler

import (
	"math"
	"time"

	"warden/internal/abuse/engine"
	"warden/internal/abuse/models"
	"warden/internal/abuse/policy"
)

// DecisionResponse is the coarse lockout outcome returned to the caller.
type DecisionResponse struct {
	Decision            models.LockoutState `json:"decision"`
	GoverningIdentifier *models.Identifier  `json:"governing_identifier,omitempty"`
	RetryAfterSeconds   int64               `json:"retry_after_seconds,omitempty"`
	Degraded            bool                `json:"degraded"`
}

func toDecisionResponse(d *models.Decision) *DecisionResponse {
	return &DecisionResponse{
		Decision:            d.State,
		GoverningIdentifier: d.Governing,
		RetryAfterSeconds:   retryAfterSeconds(d.RetryAfter),
		Degraded:            d.Degraded,
	}
}

func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

// ScoreResponse is a RiskEvent plus the id of the detection it produced, if any.
type ScoreResponse struct {
	*models.RiskEvent
	DetectionID  string   `json:"detection_id,omitempty"`
	SkippedRules []string `json:"skipped_rules,omitempty"`
	RecordFailed bool     `json:"record_failed,omitempty"`
}

func toScoreResponse(res *engine.ScoreResult) *ScoreResponse {
	out := &ScoreResponse{RiskEvent: res.Risk, RecordFailed: res.RecordFailed}
	if res.Detection != nil {
		out.DetectionID = res.Detection.ID
	}
	for _, sk := range res.Skipped {
		out.SkippedRules = append(out.SkippedRules, sk.RuleID)
	}
	return out
}

// DetectionListResponse is one page of detections.
type DetectionListResponse struct {
	Detections []*models.Detection `json:"detections"`
	NextCursor string              `json:"next_cursor,omitempty"`
	HasMore    bool                `json:"has_more"`
}

func toDetectionListResponse(page *models.DetectionPage) *DetectionListResponse {
	out := &DetectionListResponse{
		Detections: page.Detections,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	if out.Detections == nil {
		out.Detections = []*models.Detection{}
	}
	return out
}

// OperationPolicyResponse renders durations as Go duration strings.
type OperationPolicyResponse struct {
	CaptchaThreshold int             `json:"captcha_threshold"`
	CaptchaWindow    string          `json:"captcha_window"`
	BlockThreshold   int             `json:"block_threshold"`
	BlockWindow      string          `json:"block_window"`
	BlockDuration    string          `json:"block_duration"`
	GrowthFactor     float64         `json:"growth_factor"`
	MaxBlockDuration string          `json:"max_block_duration"`
	ChallengeTTL     string          `json:"challenge_ttl,omitempty"`
	FailMode         policy.FailMode `json:"fail_mode"`
}

func toOperationPolicyResponse(p policy.OperationPolicy) OperationPolicyResponse {
	out := OperationPolicyResponse{
		CaptchaThreshold: p.CaptchaThreshold,
		CaptchaWindow:    p.CaptchaWindow.String(),
		BlockThreshold:   p.BlockThreshold,
		BlockWindow:      p.BlockWindow.String(),
		BlockDuration:    p.BlockDuration.String(),
		GrowthFactor:     p.GrowthFactor,
		MaxBlockDuration: p.MaxBlockDuration.String(),
		FailMode:         p.FailMode,
	}
	if p.ChallengeTTL > 0 {
		out.ChallengeTTL = p.ChallengeTTL.String()
	}
	return out
}

// PolicyResponse describes the active policy snapshot.
type PolicyResponse struct {
	Version     int64                                        `json:"version"`
	Name        string                                       `json:"name,omitempty"`
	PublishedAt time.Time                                    `json:"published_at"`
	Default     OperationPolicyResponse                      `json:"default"`
	Operations  map[models.Operation]OperationPolicyResponse `json:"operations,omitempty"`
	Scoring     policy.ScoringPolicy                         `json:"scoring"`
	RuleIDs     []string                                     `json:"rule_ids"`
}

func toPolicyResponse(s *policy.Snapshot) *PolicyResponse {
	out := &PolicyResponse{
		Version:     s.Version,
		Name:        s.Name,
		PublishedAt: s.PublishedAt,
		Default:     toOperationPolicyResponse(s.Default()),
		Scoring:     s.Scoring(),
		RuleIDs:     []string{},
	}
	if ops := s.Operations(); len(ops) > 0 {
		out.Operations = make(map[models.Operation]OperationPolicyResponse, len(ops))
		for op, p := range ops {
			out.Operations[op] = toOperationPolicyResponse(p)
		}
	}
	if set := s.Rules(); set != nil {
		for _, r := range set.Rules() {
			out.RuleIDs = append(out.RuleIDs, r.ID)
		}
	}
	return out
}
