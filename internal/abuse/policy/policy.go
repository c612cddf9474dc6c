// Package policy holds the versioned, immutable thresholds and rules consumed
// by the lockout state machine, rule engine, scorer and detection recorder.
package policy

import (
	"maps"
	"time"

	"warden/internal/abuse/models"
	"warden/internal/abuse/rules"
)

// FailMode decides the lockout outcome when the counter store cannot be reached.
type FailMode string

const (
	FailOpen   FailMode = "fail_open"
	FailClosed FailMode = "fail_closed"
)

// OperationPolicy holds the lockout thresholds for one operation.
type OperationPolicy struct {
	CaptchaThreshold int           `koanf:"captcha_threshold" json:"captcha_threshold" validate:"gte=1"`
	CaptchaWindow    time.Duration `koanf:"captcha_window" json:"captcha_window" validate:"gt=0"`
	BlockThreshold   int           `koanf:"block_threshold" json:"block_threshold" validate:"gte=1,gtefield=CaptchaThreshold"`
	BlockWindow      time.Duration `koanf:"block_window" json:"block_window" validate:"gt=0"`
	BlockDuration    time.Duration `koanf:"block_duration" json:"block_duration" validate:"gt=0"`
	GrowthFactor     float64       `koanf:"growth_factor" json:"growth_factor" validate:"gte=1"`
	MaxBlockDuration time.Duration `koanf:"max_block_duration" json:"max_block_duration" validate:"gt=0,gtefield=BlockDuration"`
	// ChallengeTTL overrides the challenge expiry; zero means the end of the captcha window.
	ChallengeTTL time.Duration `koanf:"challenge_ttl" json:"challenge_ttl,omitempty" validate:"gte=0"`
	FailMode     FailMode      `koanf:"fail_mode" json:"fail_mode" validate:"oneof=fail_open fail_closed"`
}

// Retention is how long a failure must be kept to answer both window queries.
func (p OperationPolicy) Retention() time.Duration {
	return max(p.CaptchaWindow, p.BlockWindow)
}

// ChallengeExpiry returns when a challenge issued at now lapses.
func (p OperationPolicy) ChallengeExpiry(now time.Time) time.Time {
	if p.ChallengeTTL > 0 {
		return now.Add(p.ChallengeTTL)
	}
	return now.Add(p.CaptchaWindow)
}

// Band maps the scores at or above Min to Tier, up to the next band's Min.
type Band struct {
	Tier models.Tier `koanf:"tier" json:"tier" validate:"required"`
	Min  float64     `koanf:"min" json:"min" validate:"gte=0"`
}

// ScoringPolicy configures the risk scorer and detection recorder.
type ScoringPolicy struct {
	MaxScore        float64 `koanf:"max_score" json:"max_score" validate:"gt=0"`
	RecordThreshold float64 `koanf:"record_threshold" json:"record_threshold" validate:"gte=0"`
	Bands           []Band  `koanf:"bands" json:"bands" validate:"required,min=1,dive"`
}

// Document is the authored form of a policy, as loaded from a file.
type Document struct {
	Name       string                               `koanf:"name" json:"name,omitempty"`
	Default    OperationPolicy                      `koanf:"default" json:"default"`
	Operations map[models.Operation]OperationPolicy `koanf:"operations" json:"operations,omitempty" validate:"dive"`
	Scoring    ScoringPolicy                        `koanf:"scoring" json:"scoring"`
	Rules      []rules.Rule                         `koanf:"rules" json:"rules,omitempty"`
}

// DefaultDocument returns a conservative policy that is valid on its own.
func DefaultDocument() *Document {
	return &Document{
		Name: "default",
		Default: OperationPolicy{
			CaptchaThreshold: 3,
			CaptchaWindow:    time.Minute,
			BlockThreshold:   5,
			BlockWindow:      time.Minute,
			BlockDuration:    5 * time.Minute,
			GrowthFactor:     2.0,
			MaxBlockDuration: 24 * time.Hour,
			FailMode:         FailClosed,
		},
		Scoring: ScoringPolicy{
			MaxScore:        100,
			RecordThreshold: 50,
			Bands: []Band{
				{Tier: models.TierLow, Min: 0},
				{Tier: models.TierMedium, Min: 20},
				{Tier: models.TierHigh, Min: 50},
				{Tier: models.TierCritical, Min: 75},
			},
		},
	}
}

// Snapshot is a published, immutable policy. Readers share it without locking;
// nothing mutates a Snapshot after Publish.
type Snapshot struct {
	Version     int64
	Name        string
	PublishedAt time.Time

	defaults   OperationPolicy
	operations map[models.Operation]OperationPolicy
	scoring    ScoringPolicy
	ruleSet    *rules.RuleSet
}

// For returns the lockout policy for op, falling back to the default entry.
func (s *Snapshot) For(op models.Operation) OperationPolicy {
	if p, ok := s.operations[op]; ok {
		return p
	}
	return s.defaults
}

// Operations returns a copy of the per-operation overrides.
func (s *Snapshot) Operations() map[models.Operation]OperationPolicy {
	return maps.Clone(s.operations)
}

// Default returns the fallback lockout policy.
func (s *Snapshot) Default() OperationPolicy {
	return s.defaults
}

// Scoring returns the scoring policy. Bands are copied.
func (s *Snapshot) Scoring() ScoringPolicy {
	sp := s.scoring
	sp.Bands = append([]Band(nil), s.scoring.Bands...)
	return sp
}

// Rules returns the rule set bound to this snapshot.
func (s *Snapshot) Rules() *rules.RuleSet {
	return s.ruleSet
}

// Compile validates doc and builds an unpublished snapshot from a deep copy of it.
func Compile(doc *Document) (*Snapshot, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}
	ruleSet, err := rules.NewRuleSet(doc.Rules)
	if err != nil {
		return nil, invalid(err, "invalid rules")
	}
	return &Snapshot{
		Name:       doc.Name,
		defaults:   doc.Default,
		operations: maps.Clone(doc.Operations),
		scoring: ScoringPolicy{
			MaxScore:        doc.Scoring.MaxScore,
			RecordThreshold: doc.Scoring.RecordThreshold,
			Bands:           append([]Band(nil), doc.Scoring.Bands...),
		},
		ruleSet: ruleSet,
	}, nil
}
