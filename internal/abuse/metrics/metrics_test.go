package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementFailures("login")
		m.IncrementTransition("login", "blocked")
		m.IncrementDecision("login", "allowed")
		m.IncrementDegraded("login", "fail_closed")
		m.ObserveCheckDuration(0.001)
		m.SetLockoutRecords(3)
		m.IncrementCounterEvictions()
		m.IncrementCounterStoreErrors("increment")
		m.SetBreakerOpen(true)
		m.RuleTriggered("r1")
		m.RuleEvaluationFailed("r1")
		m.ObserveRiskScore("login", 42)
		m.IncrementDetections("high")
		m.IncrementStatusUpdates("confirmed")
		m.IncrementStatusConflicts()
		m.SetPolicyVersion(7)
		m.IncrementCleanupRuns("success")
		m.AddCleanupRemoved("lockouts", 2)
		m.ObserveCleanupDuration(0.5)
		m.IncrementSnapshotRuns("success")
	})
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncrementDecision("login", "blocked")
	m.IncrementDecision("login", "blocked")
	m.IncrementDegraded("search", "fail_open")
	m.SetBreakerOpen(true)
	m.SetPolicyVersion(4)
	m.AddCleanupRemoved("counters", 5)
	m.RuleTriggered("country-change")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LockoutDecisionsTotal.WithLabelValues("login", "blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LockoutDegradedTotal.WithLabelValues("search", "fail_open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterBreakerOpen))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PolicyVersion))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.CleanupRemovedTotal.WithLabelValues("counters")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuleTriggersTotal.WithLabelValues("country-change")))

	m.SetBreakerOpen(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CounterBreakerOpen))

	n, err := testutil.GatherAndCount(reg, "warden_lockout_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegisteringTwiceOnOneRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
