package limiters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/accountcore/store"
)

var t0 = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func testPolicy() *LockoutPolicy {
	return NewLockoutPolicy(LockoutConfig{
		Threshold:    3,
		Window:       10 * time.Minute,
		BaseDuration: time.Minute,
		MaxDuration:  5 * time.Minute,
	})
}

func TestLockoutThresholdLocks(t *testing.T) {
	p := testPolicy()
	var st store.LockoutState

	for i := 0; i < 2; i++ {
		out := p.RecordFailure(st, t0)
		require.False(t, out.Locked)
		st = out.State
	}
	require.Equal(t, 1, p.Evaluate(st, t0).Remaining)

	out := p.RecordFailure(st, t0)
	require.True(t, out.Locked)
	require.Equal(t, t0.Add(time.Minute), out.Until)

	d := p.Evaluate(out.State, t0.Add(30*time.Second))
	require.False(t, d.Allowed)
	require.Equal(t, out.Until, d.Until)
}

func TestLockoutFailuresWhileLockedAreIgnored(t *testing.T) {
	p := testPolicy()
	st := store.LockoutState{FailedAttempts: 3, WindowStart: t0, LockoutUntil: t0.Add(time.Minute), Escalation: 1}

	out := p.RecordFailure(st, t0.Add(10*time.Second))
	require.True(t, out.Ignored)
	require.False(t, out.Locked)
	require.Equal(t, st, out.State)
}

func TestLockoutExpiryResetsCounter(t *testing.T) {
	p := testPolicy()
	st := store.LockoutState{FailedAttempts: 3, WindowStart: t0, LockoutUntil: t0.Add(time.Minute), Escalation: 1}

	d := p.Evaluate(st, t0.Add(time.Minute))
	require.True(t, d.Allowed)
	require.Zero(t, d.State.FailedAttempts)
	require.True(t, d.State.LockoutUntil.IsZero())
	require.Equal(t, 1, d.State.Escalation)
	require.Equal(t, 3, d.Remaining)
}

func TestLockoutWindowExpiryRestartsCount(t *testing.T) {
	p := testPolicy()
	st := p.RecordFailure(store.LockoutState{}, t0).State
	st = p.RecordFailure(st, t0.Add(time.Minute)).State
	require.Equal(t, 2, st.FailedAttempts)

	out := p.RecordFailure(st, t0.Add(11*time.Minute))
	require.False(t, out.Locked)
	require.Equal(t, 1, out.State.FailedAttempts)
	require.Equal(t, t0.Add(11*time.Minute), out.State.WindowStart)
}

func TestLockoutEscalatesAndCaps(t *testing.T) {
	p := testPolicy()
	require.Equal(t, time.Minute, p.Backoff(0))
	require.Equal(t, 2*time.Minute, p.Backoff(1))
	require.Equal(t, 4*time.Minute, p.Backoff(2))
	require.Equal(t, 5*time.Minute, p.Backoff(3))
	require.Equal(t, 5*time.Minute, p.Backoff(60))

	st := store.LockoutState{}
	now := t0
	var untils []time.Duration
	for round := 0; round < 3; round++ {
		var out FailureOutcome
		for i := 0; i < 3; i++ {
			out = p.RecordFailure(st, now)
			st = out.State
		}
		require.True(t, out.Locked)
		untils = append(untils, out.Until.Sub(now))
		now = out.Until
	}
	require.Equal(t, []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute}, untils)
}

func TestLockoutResetClearsEscalation(t *testing.T) {
	p := testPolicy()
	require.Equal(t, store.LockoutState{}, p.Reset())
}

func TestLockoutInvalidConfigFallsBack(t *testing.T) {
	p := NewLockoutPolicy(LockoutConfig{})
	require.Equal(t, DefaultLockoutConfig(), p.Config())
}

func TestReserveRefusesOnceSlotsAreTaken(t *testing.T) {
	p := testPolicy()
	var st store.LockoutState

	for i := 0; i < 3; i++ {
		r := p.Reserve(st, t0)
		require.True(t, r.Allowed, "reservation %d", i)
		require.Equal(t, i == 2, r.Locked)
		st = r.State
	}
	r := p.Reserve(st, t0)
	require.False(t, r.Allowed)
	require.Equal(t, t0.Add(time.Minute), r.Until)
	require.Equal(t, 3, r.State.FailedAttempts)
}

func TestReleaseUndoesReservation(t *testing.T) {
	p := testPolicy()
	var st store.LockoutState

	r1 := p.Reserve(st, t0)
	st = p.Release(r1.State, r1, t0)
	require.Equal(t, store.LockoutState{}, st)

	st = p.Reserve(st, t0).State
	st = p.Reserve(st, t0).State
	last := p.Reserve(st, t0)
	require.True(t, last.Locked)

	st = p.Release(last.State, last, t0)
	require.True(t, st.LockoutUntil.IsZero())
	require.Equal(t, 0, st.Escalation)
	require.Equal(t, 2, st.FailedAttempts)
	require.True(t, p.Evaluate(st, t0).Allowed)
}

func TestReleaseKeepsForeignLockout(t *testing.T) {
	p := testPolicy()
	r := p.Reserve(store.LockoutState{}, t0)

	// another attempt locked the account after r was claimed
	locked := store.LockoutState{FailedAttempts: 3, WindowStart: t0, LockoutUntil: t0.Add(time.Minute), Escalation: 1}
	st := p.Release(locked, r, t0)
	require.Equal(t, t0.Add(time.Minute), st.LockoutUntil)
	require.Equal(t, 1, st.Escalation)
	require.Equal(t, 2, st.FailedAttempts)
}
