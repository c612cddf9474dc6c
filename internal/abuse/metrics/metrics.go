// Package metrics exposes the engine's prometheus instruments. Every method is
// safe to call on a nil *Metrics so components can run without metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	LockoutFailuresTotal        *prometheus.CounterVec
	LockoutTransitionsTotal     *prometheus.CounterVec
	LockoutDecisionsTotal       *prometheus.CounterVec
	LockoutDegradedTotal        *prometheus.CounterVec
	LockoutCheckDurationSeconds prometheus.Histogram
	LockoutRecords              prometheus.Gauge

	CounterEvictionsTotal   prometheus.Counter
	CounterStoreErrorsTotal *prometheus.CounterVec
	CounterBreakerOpen      prometheus.Gauge

	RuleTriggersTotal         *prometheus.CounterVec
	RuleEvaluationErrorsTotal *prometheus.CounterVec
	RiskScore                 *prometheus.HistogramVec

	DetectionsRecordedTotal      *prometheus.CounterVec
	DetectionStatusUpdatesTotal  *prometheus.CounterVec
	DetectionStatusConflictTotal prometheus.Counter

	PolicyVersion prometheus.Gauge

	CleanupRunsTotal       *prometheus.CounterVec
	CleanupRemovedTotal    *prometheus.CounterVec
	CleanupDurationSeconds prometheus.Histogram
	SnapshotRunsTotal      *prometheus.CounterVec
}

// New registers the engine metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LockoutFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_lockout_failures_recorded_total",
			Help: "Total number of failed outcomes recorded per operation",
		}, []string{"operation"}),
		LockoutTransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_lockout_transitions_total",
			Help: "Lockout state transitions into challenge_required or blocked",
		}, []string{"operation", "state"}),
		LockoutDecisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_lockout_decisions_total",
			Help: "Combined lockout decisions returned by CheckLockout",
		}, []string{"operation", "decision"}),
		LockoutDegradedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_lockout_degraded_decisions_total",
			Help: "Lockout decisions taken without the counter store, by fail mode",
		}, []string{"operation", "fail_mode"}),
		LockoutCheckDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_lockout_check_duration_seconds",
			Help:    "Latency of CheckLockout across all identifiers of a request",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		LockoutRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "warden_lockout_records",
			Help: "Lockout records currently held in memory",
		}),
		CounterEvictionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_counter_capacity_evictions_total",
			Help: "Counter keys evicted under memory pressure; evicted keys read as zero",
		}),
		CounterStoreErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_counter_store_errors_total",
			Help: "Counter store calls that failed, by call",
		}, []string{"call"}),
		CounterBreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "warden_counter_breaker_open",
			Help: "1 while the counter store circuit breaker is open",
		}),
		RuleTriggersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_rule_triggers_total",
			Help: "Times each rule matched an event",
		}, []string{"rule_id"}),
		RuleEvaluationErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_rule_evaluation_errors_total",
			Help: "Rules skipped because a condition failed to evaluate",
		}, []string{"rule_id"}),
		RiskScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_risk_score",
			Help:    "Distribution of risk scores per operation",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 75, 90, 100},
		}, []string{"operation"}),
		DetectionsRecordedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_detections_recorded_total",
			Help: "Detections created, by tier",
		}, []string{"tier"}),
		DetectionStatusUpdatesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_detection_status_updates_total",
			Help: "Successful detection status changes, by new status",
		}, []string{"status"}),
		DetectionStatusConflictTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_detection_status_conflicts_total",
			Help: "Status updates rejected because the detection was no longer open",
		}),
		PolicyVersion: f.NewGauge(prometheus.GaugeOpts{
			Name: "warden_policy_version",
			Help: "Version of the currently published policy snapshot",
		}),
		CleanupRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_cleanup_runs_total",
			Help: "Total number of cleanup runs",
		}, []string{"status"}),
		CleanupRemovedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_cleanup_removed_total",
			Help: "Expired entries removed by the cleanup worker, by store",
		}, []string{"store"}),
		CleanupDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name: "warden_cleanup_duration_seconds",
			Help: "Duration of cleanup runs in seconds",
		}),
		SnapshotRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_lockout_snapshot_runs_total",
			Help: "Lockout snapshot runs, by status",
		}, []string{"status"}),
	}
}

func (m *Metrics) IncrementFailures(operation string) {
	if m == nil {
		return
	}
	m.LockoutFailuresTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncrementTransition(operation, state string) {
	if m == nil {
		return
	}
	m.LockoutTransitionsTotal.WithLabelValues(operation, state).Inc()
}

func (m *Metrics) IncrementDecision(operation, decision string) {
	if m == nil {
		return
	}
	m.LockoutDecisionsTotal.WithLabelValues(operation, decision).Inc()
}

func (m *Metrics) IncrementDegraded(operation, failMode string) {
	if m == nil {
		return
	}
	m.LockoutDegradedTotal.WithLabelValues(operation, failMode).Inc()
}

func (m *Metrics) ObserveCheckDuration(seconds float64) {
	if m == nil {
		return
	}
	m.LockoutCheckDurationSeconds.Observe(seconds)
}

func (m *Metrics) SetLockoutRecords(n int) {
	if m == nil {
		return
	}
	m.LockoutRecords.Set(float64(n))
}

func (m *Metrics) IncrementCounterEvictions() {
	if m == nil {
		return
	}
	m.CounterEvictionsTotal.Inc()
}

func (m *Metrics) IncrementCounterStoreErrors(call string) {
	if m == nil {
		return
	}
	m.CounterStoreErrorsTotal.WithLabelValues(call).Inc()
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CounterBreakerOpen.Set(1)
		return
	}
	m.CounterBreakerOpen.Set(0)
}

// RuleTriggered and RuleEvaluationFailed satisfy rules.Observer.
func (m *Metrics) RuleTriggered(ruleID string) {
	if m == nil {
		return
	}
	m.RuleTriggersTotal.WithLabelValues(ruleID).Inc()
}

func (m *Metrics) RuleEvaluationFailed(ruleID string) {
	if m == nil {
		return
	}
	m.RuleEvaluationErrorsTotal.WithLabelValues(ruleID).Inc()
}

func (m *Metrics) ObserveRiskScore(operation string, score float64) {
	if m == nil {
		return
	}
	m.RiskScore.WithLabelValues(operation).Observe(score)
}

func (m *Metrics) IncrementDetections(tier string) {
	if m == nil {
		return
	}
	m.DetectionsRecordedTotal.WithLabelValues(tier).Inc()
}

func (m *Metrics) IncrementStatusUpdates(status string) {
	if m == nil {
		return
	}
	m.DetectionStatusUpdatesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementStatusConflicts() {
	if m == nil {
		return
	}
	m.DetectionStatusConflictTotal.Inc()
}

func (m *Metrics) SetPolicyVersion(version int64) {
	if m == nil {
		return
	}
	m.PolicyVersion.Set(float64(version))
}

func (m *Metrics) IncrementCleanupRuns(status string) {
	if m == nil {
		return
	}
	m.CleanupRunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) AddCleanupRemoved(store string, n int) {
	if m == nil {
		return
	}
	m.CleanupRemovedTotal.WithLabelValues(store).Add(float64(n))
}

func (m *Metrics) ObserveCleanupDuration(durationSeconds float64) {
	if m == nil {
		return
	}
	m.CleanupDurationSeconds.Observe(durationSeconds)
}

func (m *Metrics) IncrementSnapshotRuns(status string) {
	if m == nil {
		return
	}
	m.SnapshotRunsTotal.WithLabelValues(status).Inc()
}
