// Package engine is the boundary of the abuse-mitigation engine: lockout
// checks and outcomes, event scoring, and the detection review surface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"warden/internal/abuse/metrics"
	"warden/internal/abuse/models"
	"warden/internal/abuse/policy"
	"warden/internal/abuse/rules"
	"warden/internal/abuse/scoring"
	"warden/internal/abuse/tracer"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/audit"
	"warden/pkg/requestcontext"
)

// LockoutService is the per-identifier lockout state machine.
type LockoutService interface {
	Check(ctx context.Context, id models.Identifier, op models.Operation) (models.LockoutStatus, error)
	RecordFailure(ctx context.Context, id models.Identifier, op models.Operation) (models.LockoutStatus, error)
	RecordSuccess(ctx context.Context, id models.Identifier, op models.Operation) error
}

// DetectionService records and reviews detections.
type DetectionService interface {
	RecordWithPolicy(ctx context.Context, ev *models.RiskEvent, sp policy.ScoringPolicy) (*models.Detection, error)
	Get(ctx context.Context, id string) (*models.Detection, error)
	List(ctx context.Context, filter models.DetectionFilter, page models.Pagination) (*models.DetectionPage, error)
	UpdateStatus(ctx context.Context, u models.StatusUpdate) (*models.Detection, error)
}

// PolicySource yields the current policy snapshot.
type PolicySource interface {
	Current() *policy.Snapshot
}

// Enricher adds derived attributes to an event before rule evaluation.
type Enricher interface {
	Enrich(ev *models.Event) *models.Event
}

const (
	DefaultCheckTimeout       = 50 * time.Millisecond
	DefaultScoreTimeout       = 250 * time.Millisecond
	DefaultDegradedRetryAfter = 5 * time.Second
)

type Engine struct {
	lockouts   LockoutService
	detections DetectionService
	policies   PolicySource
	rules      *rules.Engine
	enrichers  []Enricher
	tracer     tracer.Tracer
	logger     *slog.Logger
	emitter    audit.Emitter
	auditor    *audit.Logger
	metrics    *metrics.Metrics

	checkTimeout       time.Duration
	scoreTimeout       time.Duration
	degradedRetryAfter time.Duration
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithAuditPublisher(publisher audit.Emitter) Option {
	return func(e *Engine) {
		e.emitter = publisher
	}
}

func WithRuleEngine(r *rules.Engine) Option {
	return func(e *Engine) {
		e.rules = r
	}
}

// WithEnrichers appends event enrichers, applied in order before rules run.
func WithEnrichers(enrichers ...Enricher) Option {
	return func(e *Engine) {
		e.enrichers = append(e.enrichers, enrichers...)
	}
}

// WithCheckTimeout bounds CheckLockout across all identifiers.
func WithCheckTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.checkTimeout = d
		}
	}
}

// WithScoreTimeout bounds detection persistence inside ScoreEvent.
func WithScoreTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.scoreTimeout = d
		}
	}
}

// WithDegradedRetryAfter sets the retry hint of a fail-closed decision.
func WithDegradedRetryAfter(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.degradedRetryAfter = d
		}
	}
}

func New(lockouts LockoutService, detections DetectionService, policies PolicySource, opts ...Option) (*Engine, error) {
	if lockouts == nil {
		return nil, fmt.Errorf("lockout service is required")
	}
	if detections == nil {
		return nil, fmt.Errorf("detection service is required")
	}
	if policies == nil {
		return nil, fmt.Errorf("policy source is required")
	}
	e := &Engine{
		lockouts:           lockouts,
		detections:         detections,
		policies:           policies,
		tracer:             tracer.NewNoop(),
		checkTimeout:       DefaultCheckTimeout,
		scoreTimeout:       DefaultScoreTimeout,
		degradedRetryAfter: DefaultDegradedRetryAfter,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rules == nil {
		ruleOpts := []rules.Option{rules.WithLogger(e.logger)}
		if e.metrics != nil {
			ruleOpts = append(ruleOpts, rules.WithObserver(e.metrics))
		}
		e.rules = rules.New(ruleOpts...)
	}
	e.auditor = audit.NewLogger(e.logger, e.emitter)
	return e, nil
}

// Policy returns the snapshot currently in force.
func (e *Engine) Policy() *policy.Snapshot {
	return e.policies.Current()
}

// validateRequest checks op and returns ids de-duplicated, so one attempt
// never counts more than once against the same identifier.
func validateRequest(ids models.IdentifierSet, op models.Operation) (models.IdentifierSet, error) {
	if !op.Validate() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid operation")
	}
	return models.NewIdentifierSet(ids...)
}

// CheckLockout returns the most restrictive lockout state across ids. Every
// identifier is checked concurrently within the check timeout. When the
// stores cannot answer in time the operation's fail mode decides, and the
// decision is marked degraded.
func (e *Engine) CheckLockout(ctx context.Context, ids models.IdentifierSet, op models.Operation) (decision *models.Decision, err error) {
	ids, err = validateRequest(ids, op)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, tracer.SpanCheckLockout,
		tracer.String(tracer.AttrOperation, string(op)),
		tracer.Int(tracer.AttrIdentifiers, len(ids)),
	)
	defer func() {
		if decision != nil {
			span.SetAttributes(
				tracer.String(tracer.AttrDecision, string(decision.State)),
				tracer.Bool(tracer.AttrDegraded, decision.Degraded),
			)
			e.metrics.IncrementDecision(string(op), string(decision.State))
		}
		e.metrics.ObserveCheckDuration(time.Since(start).Seconds())
		span.End(err)
	}()

	checkCtx, cancel := context.WithTimeout(ctx, e.checkTimeout)
	defer cancel()

	statuses := make([]models.LockoutStatus, len(ids))
	g, gctx := errgroup.WithContext(checkCtx)
	for i, id := range ids {
		g.Go(func() error {
			st, err := e.lockouts.Check(gctx, id, op)
			if err != nil {
				return err
			}
			statuses[i] = st
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var checkErr error
	select {
	case checkErr = <-done:
	case <-checkCtx.Done():
		checkErr = dErrors.Wrap(checkCtx.Err(), dErrors.CodeStoreUnavailable, "lockout check timed out")
	}
	if checkErr == nil {
		return models.Combine(statuses), nil
	}
	if ctx.Err() != nil {
		return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "request cancelled")
	}
	return e.degraded(ctx, op, checkErr), nil
}

func (e *Engine) degraded(ctx context.Context, op models.Operation, cause error) *models.Decision {
	mode := e.policies.Current().For(op).FailMode
	d := &models.Decision{State: models.StateAllowed, Degraded: true}
	if mode == policy.FailClosed {
		d.State = models.StateBlocked
		d.RetryAfter = e.degradedRetryAfter
	}

	e.metrics.IncrementDegraded(string(op), string(mode))
	if e.logger != nil {
		e.logger.ErrorContext(ctx, "lockout check degraded",
			"operation", string(op),
			"fail_mode", string(mode),
			"error", cause,
		)
	}
	e.auditor.Log(ctx, string(audit.EventLockoutDegraded),
		audit.AttrOperation, string(op),
		audit.AttrDecision, string(d.State),
		audit.AttrReason, string(dErrors.CodeOf(cause)),
		"fail_mode", string(mode),
	)
	return d
}

// RecordOutcome feeds the result of a protected operation back into the
// lockout state of every identifier involved.
func (e *Engine) RecordOutcome(ctx context.Context, ids models.IdentifierSet, op models.Operation, outcome models.Outcome) (err error) {
	ids, err = validateRequest(ids, op)
	if err != nil {
		return err
	}
	ctx, span := e.tracer.Start(ctx, tracer.SpanRecordOutcome,
		tracer.String(tracer.AttrOperation, string(op)),
		tracer.Int(tracer.AttrIdentifiers, len(ids)),
		tracer.Bool(tracer.AttrSuccess, outcome.Success),
	)
	defer func() { span.End(err) }()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			if outcome.Success {
				return e.lockouts.RecordSuccess(gctx, id, op)
			}
			_, err := e.lockouts.RecordFailure(gctx, id, op)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if e.logger != nil {
			e.logger.ErrorContext(ctx, "failed to record outcome",
				"operation", string(op),
				"success", outcome.Success,
				"error", err,
			)
		}
		return err
	}
	return nil
}

// ScoreResult is the outcome of ScoreEvent.
type ScoreResult struct {
	Risk      *models.RiskEvent
	Detection *models.Detection
	Skipped   []rules.SkippedRule
	// RecordFailed is set when the event qualified for a detection that could
	// not be persisted. The score is still valid for in-line decisions.
	RecordFailed bool
}

// ScoreEvent enriches ev, evaluates it against one policy snapshot, scores it
// and records a detection when the score reaches the record threshold.
func (e *Engine) ScoreEvent(ctx context.Context, ev *models.Event) (result *ScoreResult, err error) {
	if ev == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "event is required")
	}
	ids, err := validateRequest(ev.Identifiers, ev.Operation)
	if err != nil {
		return nil, err
	}
	ev.Identifiers = ids
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = requestcontext.Now(ctx)
	}

	snap := e.policies.Current()
	ctx, span := e.tracer.Start(ctx, tracer.SpanScoreEvent,
		tracer.String(tracer.AttrOperation, string(ev.Operation)),
		tracer.Int64(tracer.AttrPolicyVersion, snap.Version),
	)
	defer func() { span.End(err) }()

	enriched := ev
	for _, enricher := range e.enrichers {
		enriched = enricher.Enrich(enriched)
	}

	evaluation := e.rules.Evaluate(ctx, snap.Rules(), enriched)
	sp := snap.Scoring()
	score, tier := scoring.Evaluate(evaluation.Triggered, sp)
	risk := &models.RiskEvent{
		EventID:        ev.ID,
		Identifiers:    ev.Identifiers,
		Operation:      ev.Operation,
		Score:          score,
		Tier:           tier,
		TriggeredRules: evaluation.Triggered,
		PolicyVersion:  snap.Version,
		Timestamp:      ev.OccurredAt,
	}
	if risk.TriggeredRules == nil {
		risk.TriggeredRules = []models.TriggeredRule{}
	}
	e.metrics.ObserveRiskScore(string(ev.Operation), score)
	span.SetAttributes(
		tracer.Float64(tracer.AttrScore, score),
		tracer.String(tracer.AttrTier, string(tier)),
		tracer.Int(tracer.AttrTriggeredRules, len(risk.TriggeredRules)),
	)
	if len(evaluation.Skipped) > 0 {
		span.AddEvent(tracer.EventRuleErrors, tracer.Int("count", len(evaluation.Skipped)))
	}

	result = &ScoreResult{Risk: risk, Skipped: evaluation.Skipped}
	if !scoring.ShouldRecord(score, sp) {
		return result, nil
	}

	recordCtx, cancel := context.WithTimeout(ctx, e.scoreTimeout)
	defer cancel()
	d, recErr := e.detections.RecordWithPolicy(recordCtx, risk, sp)
	if recErr != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "request cancelled")
		}
		result.RecordFailed = true
		if e.logger != nil {
			e.logger.ErrorContext(ctx, "failed to record detection",
				"event_id", risk.EventID,
				"score", score,
				"error", recErr,
			)
		}
		return result, nil
	}
	result.Detection = d
	if d != nil {
		span.AddEvent(tracer.EventDetectionCreated, tracer.String(tracer.AttrDetectionID, d.ID))
	}
	return result, nil
}

// GetDetections lists detections for the review surface.
func (e *Engine) GetDetections(ctx context.Context, filter models.DetectionFilter, page models.Pagination) (result *models.DetectionPage, err error) {
	ctx, span := e.tracer.Start(ctx, tracer.SpanListDetections)
	defer func() { span.End(err) }()
	return e.detections.List(ctx, filter, page)
}

// GetDetection returns one detection.
func (e *Engine) GetDetection(ctx context.Context, id string) (*models.Detection, error) {
	return e.detections.Get(ctx, id)
}

// UpdateDetectionStatus applies a reviewer decision.
func (e *Engine) UpdateDetectionStatus(ctx context.Context, u models.StatusUpdate) (d *models.Detection, err error) {
	ctx, span := e.tracer.Start(ctx, tracer.SpanUpdateDetection,
		tracer.String(tracer.AttrDetectionID, u.ID),
		tracer.String(tracer.AttrStatus, string(u.Status)),
	)
	defer func() { span.End(err) }()
	return e.detections.UpdateStatus(ctx, u)
}
