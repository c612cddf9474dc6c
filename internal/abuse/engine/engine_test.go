package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"warden/internal/abuse/enrich"
	"warden/internal/abuse/metrics"
	"warden/internal/abuse/models"
	"warden/internal/abuse/policy"
	"warden/internal/abuse/rules"
	detectionsvc "warden/internal/abuse/service/detection"
	lockoutsvc "warden/internal/abuse/service/lockout"
	"warden/internal/abuse/store/counter"
	detectionstore "warden/internal/abuse/store/detection"
	lockoutstore "warden/internal/abuse/store/lockout"
	"warden/internal/sentinel"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/audit"
	"warden/pkg/requestcontext"
	wtestutil "warden/pkg/testutil"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingEmitter) Emit(_ context.Context, ev audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEmitter) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Action
	}
	return out
}

// stubLockouts answers Check from a fixed table and can fail or stall.
type stubLockouts struct {
	err   error
	delay time.Duration
}

func (s *stubLockouts) Check(_ context.Context, id models.Identifier, op models.Operation) (models.LockoutStatus, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return models.LockoutStatus{}, s.err
	}
	return models.LockoutStatus{Identifier: id, Operation: op, State: models.StateAllowed}, nil
}

func (s *stubLockouts) RecordFailure(context.Context, models.Identifier, models.Operation) (models.LockoutStatus, error) {
	return models.LockoutStatus{}, s.err
}

func (s *stubLockouts) RecordSuccess(context.Context, models.Identifier, models.Operation) error {
	return s.err
}

// failingDetections rejects every record attempt.
type failingDetections struct {
	DetectionService
}

func (failingDetections) RecordWithPolicy(context.Context, *models.RiskEvent, policy.ScoringPolicy) (*models.Detection, error) {
	return nil, dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeInternal, "insert failed")
}

func scoringDocument() *policy.Document {
	doc := policy.DefaultDocument()
	doc.Rules = []rules.Rule{
		{
			ID:         "country-change",
			AppliesTo:  "login",
			Conditions: []rules.Condition{{Attribute: "country_changed", Operator: rules.OpEq, Value: true}},
			Weight:     40,
			Enabled:    true,
		},
		{
			ID:         "burst",
			AppliesTo:  models.OperationAny,
			Conditions: []rules.Condition{{Attribute: "attempts_last_minute", Operator: rules.OpGte, Value: 10}},
			Weight:     30,
			Enabled:    true,
		},
		{
			ID:         "headless",
			Conditions: []rules.Condition{{Attribute: enrich.AttrUABot, Operator: rules.OpEq, Value: true}},
			Weight:     50,
			Enabled:    true,
		},
	}
	return doc
}

// =============================================================================
// Engine Test Suite
// =============================================================================
// Justification: the engine is the only surface callers see. These tests cover
// the fan-out across identifiers, fail-mode handling when stores are down, and
// the enrich, evaluate, score and record pipeline against one snapshot.

type EngineSuite struct {
	suite.Suite
	policies   *policy.Provider
	counters   *counter.InMemoryCounterStore
	detections *detectionstore.InMemoryDetectionStore
	lockouts   *lockoutsvc.Service
	recorder   *detectionsvc.Service
	emitter    *recordingEmitter
	metrics    *metrics.Metrics
	engine     *Engine
	now        time.Time
	logger     *slog.Logger
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	var err error
	s.now = wtestutil.TestTime
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.emitter = &recordingEmitter{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.policies, err = policy.NewProvider(scoringDocument())
	s.Require().NoError(err)

	s.counters = counter.NewInMemoryCounterStore()
	s.lockouts, err = lockoutsvc.New(s.counters, lockoutstore.New(), s.policies)
	s.Require().NoError(err)
	s.detections = detectionstore.NewInMemory()
	s.recorder, err = detectionsvc.New(s.detections, s.policies)
	s.Require().NoError(err)

	s.engine = s.newEngine(s.lockouts, s.recorder)
}

func (s *EngineSuite) newEngine(lockouts LockoutService, detections DetectionService, opts ...Option) *Engine {
	opts = append([]Option{
		WithLogger(s.logger),
		WithMetrics(s.metrics),
		WithAuditPublisher(s.emitter),
		WithEnrichers(enrich.NewUserAgent()),
	}, opts...)
	e, err := New(lockouts, detections, s.policies, opts...)
	s.Require().NoError(err)
	return e
}

func (s *EngineSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *EngineSuite) ids(ids ...models.Identifier) models.IdentifierSet {
	set, err := models.NewIdentifierSet(ids...)
	s.Require().NoError(err)
	return set
}

func (s *EngineSuite) TestNewRequiresDependencies() {
	_, err := New(nil, s.recorder, s.policies)
	s.Error(err)
	_, err = New(s.lockouts, nil, s.policies)
	s.Error(err)
	_, err = New(s.lockouts, s.recorder, nil)
	s.Error(err)
}

func (s *EngineSuite) TestCheckLockoutRejectsBadRequests() {
	s.Run("no identifiers", func() {
		_, err := s.engine.CheckLockout(s.at(s.now), nil, "login")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
	s.Run("invalid operation", func() {
		_, err := s.engine.CheckLockout(s.at(s.now), s.ids(wtestutil.TestIdentifiers.IP), "log in")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *EngineSuite) TestCheckLockoutReturnsMostRestrictiveIdentifier() {
	ip := wtestutil.TestIdentifiers.IP
	account := wtestutil.TestIdentifiers.Account

	s.Run("fresh identifiers are allowed", func() {
		d, err := s.engine.CheckLockout(s.at(s.now), s.ids(ip, account), "login")
		s.Require().NoError(err)
		s.Equal(models.StateAllowed, d.State)
		s.Nil(d.Governing)
		s.False(d.Degraded)
	})

	for i := range 5 {
		err := s.engine.RecordOutcome(s.at(s.now.Add(time.Duration(i)*time.Second)), s.ids(ip), "login", models.Outcome{})
		s.Require().NoError(err)
	}

	s.Run("blocked ip governs the combined decision", func() {
		d, err := s.engine.CheckLockout(s.at(s.now.Add(10*time.Second)), s.ids(ip, account), "login")
		s.Require().NoError(err)
		s.Equal(models.StateBlocked, d.State)
		s.Require().NotNil(d.Governing)
		s.Equal(ip, *d.Governing)
		s.Positive(d.RetryAfter)
		s.Len(d.Statuses, 2)
	})

	s.Run("other operations are unaffected", func() {
		d, err := s.engine.CheckLockout(s.at(s.now.Add(10*time.Second)), s.ids(ip), "signup")
		s.Require().NoError(err)
		s.Equal(models.StateAllowed, d.State)
	})

	s.Equal(float64(1), testutil.ToFloat64(s.metrics.LockoutDecisionsTotal.WithLabelValues("login", "blocked")))
}

func (s *EngineSuite) TestRecordOutcomeSuccessClearsEveryIdentifier() {
	ip := wtestutil.TestIdentifiers.IP
	account := wtestutil.TestIdentifiers.Account
	set := s.ids(ip, account)
	for range 3 {
		s.Require().NoError(s.engine.RecordOutcome(s.at(s.now), set, "login", models.Outcome{}))
	}
	d, err := s.engine.CheckLockout(s.at(s.now), set, "login")
	s.Require().NoError(err)
	s.Equal(models.StateChallengeRequired, d.State)

	s.Require().NoError(s.engine.RecordOutcome(s.at(s.now), set, "login", models.Outcome{Success: true}))

	d, err = s.engine.CheckLockout(s.at(s.now), set, "login")
	s.Require().NoError(err)
	s.Equal(models.StateAllowed, d.State)
}

func (s *EngineSuite) TestRepeatedIdentifierCountsOnce() {
	ip := wtestutil.TestIdentifiers.IP
	repeated := models.IdentifierSet{ip, ip, ip}

	s.Run("one failed attempt is one failure", func() {
		s.Require().NoError(s.engine.RecordOutcome(s.at(s.now), repeated, "login", models.Outcome{}))

		d, err := s.engine.CheckLockout(s.at(s.now), repeated, "login")
		s.Require().NoError(err)
		s.Equal(models.StateAllowed, d.State)
		s.Len(d.Statuses, 1)
	})

	s.Run("threshold still reached by distinct attempts", func() {
		for range 2 {
			s.Require().NoError(s.engine.RecordOutcome(s.at(s.now), repeated, "login", models.Outcome{}))
		}
		d, err := s.engine.CheckLockout(s.at(s.now), s.ids(ip), "login")
		s.Require().NoError(err)
		s.Equal(models.StateChallengeRequired, d.State)
	})

	s.Run("scored events carry the de-duplicated set", func() {
		result, err := s.engine.ScoreEvent(s.at(s.now), &models.Event{Identifiers: repeated, Operation: "login"})
		s.Require().NoError(err)
		s.Equal(models.IdentifierSet{ip}, result.Risk.Identifiers)
	})

	s.Run("empty identifiers are rejected", func() {
		err := s.engine.RecordOutcome(s.at(s.now), models.IdentifierSet{ip, {}}, "login", models.Outcome{})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *EngineSuite) TestRecordOutcomeSurfacesStoreFailure() {
	e := s.newEngine(&stubLockouts{err: dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeStoreUnavailable, "down")}, s.recorder)
	err := e.RecordOutcome(s.at(s.now), s.ids(wtestutil.TestIdentifiers.IP), "login", models.Outcome{})
	s.True(dErrors.HasCode(err, dErrors.CodeStoreUnavailable))
}

func (s *EngineSuite) TestDegradedDecisionFollowsFailMode() {
	down := &stubLockouts{err: dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeStoreUnavailable, "down")}
	e := s.newEngine(down, s.recorder, WithDegradedRetryAfter(30*time.Second))
	set := s.ids(wtestutil.TestIdentifiers.IP)

	s.Run("fail closed blocks with a retry hint", func() {
		d, err := e.CheckLockout(s.at(s.now), set, "login")
		s.Require().NoError(err)
		s.Equal(models.StateBlocked, d.State)
		s.True(d.Degraded)
		s.Equal(30*time.Second, d.RetryAfter)
	})

	doc := scoringDocument()
	open := doc.Default
	open.FailMode = policy.FailOpen
	doc.Operations = map[models.Operation]policy.OperationPolicy{"search": open}
	_, err := s.policies.Publish(context.Background(), doc)
	s.Require().NoError(err)

	s.Run("fail open allows", func() {
		d, err := e.CheckLockout(s.at(s.now), set, "search")
		s.Require().NoError(err)
		s.Equal(models.StateAllowed, d.State)
		s.True(d.Degraded)
		s.Zero(d.RetryAfter)
	})

	s.Contains(s.emitter.actions(), string(audit.EventLockoutDegraded))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.LockoutDegradedTotal.WithLabelValues("login", "fail_closed")))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.LockoutDegradedTotal.WithLabelValues("search", "fail_open")))
}

func (s *EngineSuite) TestCheckLockoutIsBoundedByTimeout() {
	slow := &stubLockouts{delay: 300 * time.Millisecond}
	e := s.newEngine(slow, s.recorder, WithCheckTimeout(20*time.Millisecond))

	start := time.Now()
	d, err := e.CheckLockout(s.at(s.now), s.ids(wtestutil.TestIdentifiers.IP, wtestutil.TestIdentifiers.Account), "login")
	elapsed := time.Since(start)

	s.Require().NoError(err)
	s.True(d.Degraded)
	s.Equal(models.StateBlocked, d.State)
	s.Less(elapsed, 200*time.Millisecond, "a stalled store must not hold the caller")
}

func (s *EngineSuite) TestCheckLockoutCancelledByCaller() {
	slow := &stubLockouts{delay: 100 * time.Millisecond}
	e := s.newEngine(slow, s.recorder, WithCheckTimeout(time.Second))
	ctx, cancel := context.WithCancel(s.at(s.now))
	cancel()

	_, err := e.CheckLockout(ctx, s.ids(wtestutil.TestIdentifiers.IP), "login")
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
}

func (s *EngineSuite) TestScoreEventBelowThresholdIsNotRecorded() {
	ev := &models.Event{
		ID:          "evt-low",
		Identifiers: s.ids(wtestutil.TestIdentifiers.IP),
		Operation:   "login",
		Attributes:  map[string]any{"country_changed": true},
		UserAgent:   "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	}
	result, err := s.engine.ScoreEvent(s.at(s.now), ev)
	s.Require().NoError(err)
	s.Equal(float64(40), result.Risk.Score)
	s.Equal(models.TierMedium, result.Risk.Tier)
	s.Nil(result.Detection)
	s.False(result.RecordFailed)
	s.Zero(s.detections.Len())
}

func (s *EngineSuite) TestScoreEventRecordsDetection() {
	ev := &models.Event{
		Identifiers: s.ids(wtestutil.TestIdentifiers.IP, wtestutil.TestIdentifiers.Account),
		Operation:   "login",
		Attributes:  map[string]any{"country_changed": true, "attempts_last_minute": 12},
	}
	result, err := s.engine.ScoreEvent(s.at(s.now), ev)
	s.Require().NoError(err)

	s.NotEmpty(result.Risk.EventID, "an id is assigned when the caller omits one")
	s.Equal(float64(70), result.Risk.Score)
	s.Equal(models.TierHigh, result.Risk.Tier)
	s.Equal([]models.TriggeredRule{
		{RuleID: "country-change", Weight: 40},
		{RuleID: "burst", Weight: 30},
	}, result.Risk.TriggeredRules)
	s.Equal(s.policies.Current().Version, result.Risk.PolicyVersion)
	s.True(result.Risk.Timestamp.Equal(s.now))
	s.Require().NotNil(result.Detection)
	s.Equal(models.StatusOpen, result.Detection.Status)
	s.Equal(1, s.detections.Len())

	s.Run("rescoring the same event keeps one detection", func() {
		again, err := s.engine.ScoreEvent(s.at(s.now), ev)
		s.Require().NoError(err)
		s.Equal(result.Detection.ID, again.Detection.ID)
		s.Equal(1, s.detections.Len())
	})
}

func (s *EngineSuite) TestScoreEventIsolatesRuleErrors() {
	ev := &models.Event{
		ID:          "evt-mismatch",
		Identifiers: s.ids(wtestutil.TestIdentifiers.IP),
		Operation:   "login",
		Attributes:  map[string]any{"country_changed": true, "attempts_last_minute": "many"},
	}
	result, err := s.engine.ScoreEvent(s.at(s.now), ev)
	s.Require().NoError(err)
	s.Equal(float64(40), result.Risk.Score)
	s.Require().Len(result.Skipped, 1)
	s.Equal("burst", result.Skipped[0].RuleID)
	s.True(dErrors.HasCode(result.Skipped[0].Err, dErrors.CodeRuleEvaluationError))
}

func (s *EngineSuite) TestScoreEventClampsToMaxScore() {
	ev := &models.Event{
		Identifiers: s.ids(wtestutil.TestIdentifiers.IP),
		Operation:   "login",
		Attributes:  map[string]any{"country_changed": true, "attempts_last_minute": 50, enrich.AttrUABot: true},
	}
	result, err := s.engine.ScoreEvent(s.at(s.now), ev)
	s.Require().NoError(err)
	s.Equal(float64(100), result.Risk.Score)
	s.Equal(models.TierCritical, result.Risk.Tier)
}

func (s *EngineSuite) TestScoreEventSurvivesRecordFailure() {
	e := s.newEngine(s.lockouts, failingDetections{})
	ev := &models.Event{
		Identifiers: s.ids(wtestutil.TestIdentifiers.IP),
		Operation:   "login",
		Attributes:  map[string]any{"country_changed": true, "attempts_last_minute": 12},
	}
	result, err := e.ScoreEvent(s.at(s.now), ev)
	s.Require().NoError(err)
	s.True(result.RecordFailed)
	s.Nil(result.Detection)
	s.Equal(float64(70), result.Risk.Score)
}

func (s *EngineSuite) TestScoreEventUsesOneSnapshot() {
	ev := &models.Event{
		ID:          "evt-policy",
		Identifiers: s.ids(wtestutil.TestIdentifiers.IP),
		Operation:   "login",
		Attributes:  map[string]any{"country_changed": true},
	}
	before, err := s.engine.ScoreEvent(s.at(s.now), ev)
	s.Require().NoError(err)

	doc := scoringDocument()
	doc.Rules[0].Weight = 80
	published, err := s.policies.Publish(context.Background(), doc)
	s.Require().NoError(err)

	ev.ID = "evt-policy-2"
	after, err := s.engine.ScoreEvent(s.at(s.now), ev)
	s.Require().NoError(err)
	s.Equal(float64(40), before.Risk.Score)
	s.Equal(float64(80), after.Risk.Score)
	s.Equal(published.Version, after.Risk.PolicyVersion)
	s.Less(before.Risk.PolicyVersion, after.Risk.PolicyVersion)
	s.NotNil(after.Detection)
}

func (s *EngineSuite) TestScoreEventRejectsBadEvents() {
	_, err := s.engine.ScoreEvent(s.at(s.now), nil)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.engine.ScoreEvent(s.at(s.now), &models.Event{Operation: "login"})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *EngineSuite) TestDetectionReviewFlow() {
	ev := &models.Event{
		Identifiers: s.ids(wtestutil.TestIdentifiers.Email),
		Operation:   "login",
		Attributes:  map[string]any{enrich.AttrUABot: true, "attempts_last_minute": 10},
	}
	result, err := s.engine.ScoreEvent(s.at(s.now), ev)
	s.Require().NoError(err)
	s.Require().NotNil(result.Detection)

	page, err := s.engine.GetDetections(s.at(s.now), models.DetectionFilter{
		Identifier: &wtestutil.TestIdentifiers.Email,
	}, models.Pagination{})
	s.Require().NoError(err)
	s.Require().Len(page.Detections, 1)
	s.False(page.HasMore)

	updated, err := s.engine.UpdateDetectionStatus(s.at(s.now.Add(time.Hour)), models.StatusUpdate{
		ID:       result.Detection.ID,
		Status:   models.StatusConfirmed,
		Reviewer: "analyst@example.com",
	})
	s.Require().NoError(err)
	s.Equal(models.StatusConfirmed, updated.Status)

	_, err = s.engine.UpdateDetectionStatus(s.at(s.now.Add(time.Hour)), models.StatusUpdate{
		ID:       result.Detection.ID,
		Status:   models.StatusFalsePositive,
		Reviewer: "analyst@example.com",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	got, err := s.engine.GetDetection(s.at(s.now), result.Detection.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusConfirmed, got.Status)

	_, err = s.engine.GetDetection(s.at(s.now), "00000000-0000-0000-0000-000000000000")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *EngineSuite) TestConcurrentChecksAndOutcomes() {
	set := s.ids(wtestutil.TestIdentifiers.IP, wtestutil.TestIdentifiers.Device)
	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for range 50 {
		wg.Go(func() {
			if err := s.engine.RecordOutcome(s.at(s.now), set, "login", models.Outcome{}); err != nil {
				errs <- err
			}
		})
		wg.Go(func() {
			if _, err := s.engine.CheckLockout(s.at(s.now), set, "login"); err != nil {
				errs <- err
			}
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Fail("unexpected error", err.Error())
	}

	d, err := s.engine.CheckLockout(s.at(s.now), set, "login")
	s.Require().NoError(err)
	s.Equal(models.StateBlocked, d.State)
}
