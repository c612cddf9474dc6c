package models

import (
	"time"
)

// LockoutState is the coarse decision for an identifier/operation pair.
type LockoutState string

const (
	StateAllowed           LockoutState = "allowed"
	StateChallengeRequired LockoutState = "challenge_required"
	StateBlocked           LockoutState = "blocked"
)

// Severity orders states from least to most restrictive.
func (s LockoutState) Severity() int {
	switch s {
	case StateChallengeRequired:
		return 1
	case StateBlocked:
		return 2
	}
	return 0
}

// IsValid reports whether s is a known state.
func (s LockoutState) IsValid() bool {
	return s == StateAllowed || s == StateChallengeRequired || s == StateBlocked
}

// MostRestrictive returns the stricter of two states.
func MostRestrictive(a, b LockoutState) LockoutState {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// CounterRecord summarizes the rolling log of one counter key.
// Invariants: Count >= 0 and LastSeen >= FirstSeen.
type CounterRecord struct {
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// LockoutRecord is the persisted state of one identifier/operation pair.
// A non-allowed state always carries ExpiresAt; once it passes, the record
// reads as allowed until the next write.
type LockoutRecord struct {
	Identifier          Identifier   `json:"identifier"`
	Operation           Operation    `json:"operation"`
	State               LockoutState `json:"state"`
	ExpiresAt           *time.Time   `json:"expires_at,omitempty"`
	ConsecutiveLockouts int          `json:"consecutive_lockouts"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// NewLockoutRecord returns an allowed record with no escalation history.
func NewLockoutRecord(id Identifier, op Operation, now time.Time) *LockoutRecord {
	return &LockoutRecord{
		Identifier: id,
		Operation:  op,
		State:      StateAllowed,
		UpdatedAt:  now,
	}
}

// Key returns the storage key of the record.
func (r *LockoutRecord) Key() string {
	return LockoutKey(r.Identifier, r.Operation)
}

// EffectiveState applies lazy expiry without mutating the record.
func (r *LockoutRecord) EffectiveState(now time.Time) LockoutState {
	if r == nil || r.State == StateAllowed {
		return StateAllowed
	}
	if r.ExpiresAt == nil || !now.Before(*r.ExpiresAt) {
		return StateAllowed
	}
	return r.State
}

// IsExpired reports whether the record carries a restriction that has lapsed.
func (r *LockoutRecord) IsExpired(now time.Time) bool {
	return r.State != StateAllowed && r.EffectiveState(now) == StateAllowed
}

// IsIdle reports whether the record holds no information worth keeping:
// it reads as allowed and has no escalation streak.
func (r *LockoutRecord) IsIdle(now time.Time) bool {
	return r.EffectiveState(now) == StateAllowed && r.ConsecutiveLockouts == 0
}

// Transition moves the record into state until expiresAt.
func (r *LockoutRecord) Transition(state LockoutState, expiresAt time.Time, now time.Time) {
	r.State = state
	r.ExpiresAt = &expiresAt
	r.UpdatedAt = now
}

// Reset returns the record to allowed and forgives any escalation.
func (r *LockoutRecord) Reset(now time.Time) {
	r.State = StateAllowed
	r.ExpiresAt = nil
	r.ConsecutiveLockouts = 0
	r.UpdatedAt = now
}

// Clone returns a deep copy so callers cannot mutate stored records.
func (r *LockoutRecord) Clone() *LockoutRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

// LockoutStatus is the read view of one identifier for one operation.
type LockoutStatus struct {
	Identifier Identifier
	Operation  Operation
	State      LockoutState
	ExpiresAt  *time.Time
	RetryAfter time.Duration
}

// StatusOf projects a record (possibly nil) into its effective status at now.
func StatusOf(id Identifier, op Operation, r *LockoutRecord, now time.Time) LockoutStatus {
	status := LockoutStatus{Identifier: id, Operation: op, State: r.EffectiveState(now)}
	if status.State != StateAllowed {
		expires := *r.ExpiresAt
		status.ExpiresAt = &expires
		status.RetryAfter = expires.Sub(now)
	}
	return status
}

// Decision is the combined lockout outcome across all identifiers of an event.
// The most restrictive state governs; among equally restrictive states the
// longest retry-after wins.
type Decision struct {
	State      LockoutState
	Governing  *Identifier
	RetryAfter time.Duration
	Degraded   bool
	Statuses   []LockoutStatus
}

// Combine folds per-identifier statuses into a Decision.
func Combine(statuses []LockoutStatus) *Decision {
	d := &Decision{State: StateAllowed, Statuses: statuses}
	for i := range statuses {
		st := statuses[i]
		stricter := st.State.Severity() > d.State.Severity()
		longer := st.State == d.State && st.State != StateAllowed && st.RetryAfter > d.RetryAfter
		if stricter || longer {
			id := st.Identifier
			d.State = st.State
			d.Governing = &id
			d.RetryAfter = st.RetryAfter
		}
	}
	return d
}
