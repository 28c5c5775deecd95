package limiters

import (
	"errors"
	"time"

	"github.com/MrEthical07/accountcore/store"
)

// LockoutConfig holds configuration for failed-login lockout.
type LockoutConfig struct {
	Threshold int
	// Window bounds how long failures accumulate. 0 keeps counting until a
	// success or a lockout.
	Window       time.Duration
	BaseDuration time.Duration
	MaxDuration  time.Duration
}

// DefaultLockoutConfig returns 5 attempts in 15 minutes, locking for 15
// minutes and doubling per repeat lockout up to 24 hours.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		Threshold:    5,
		Window:       15 * time.Minute,
		BaseDuration: 15 * time.Minute,
		MaxDuration:  24 * time.Hour,
	}
}

// Validate checks the configuration.
func (c LockoutConfig) Validate() error {
	if c.Threshold < 1 {
		return errors.New("lockout threshold must be >= 1")
	}
	if c.Window < 0 {
		return errors.New("lockout window must be >= 0")
	}
	if c.BaseDuration <= 0 {
		return errors.New("lockout base duration must be > 0")
	}
	if c.MaxDuration < c.BaseDuration {
		return errors.New("lockout max duration must be >= base duration")
	}
	return nil
}

// LockoutPolicy decides lockout transitions over store.LockoutState. It holds
// no state of its own; callers persist the returned state atomically with the
// user record.
type LockoutPolicy struct {
	config LockoutConfig
}

// NewLockoutPolicy creates a policy. Invalid configs fall back to defaults.
func NewLockoutPolicy(cfg LockoutConfig) *LockoutPolicy {
	if cfg.Validate() != nil {
		cfg = DefaultLockoutConfig()
	}
	return &LockoutPolicy{config: cfg}
}

// Config returns the active configuration.
func (p *LockoutPolicy) Config() LockoutConfig {
	return p.config
}

// LockoutDecision is the result of Evaluate.
type LockoutDecision struct {
	Allowed   bool
	Until     time.Time
	Remaining int
	// State is the normalized state: an elapsed lockout or window is cleared.
	State store.LockoutState
}

// FailureOutcome is the result of RecordFailure.
type FailureOutcome struct {
	State store.LockoutState
	// Locked is true when this failure started a new lockout.
	Locked bool
	// Ignored is true when the account was already locked and the counter
	// was left untouched.
	Ignored bool
	Until   time.Time
}

// Evaluate reports whether a password comparison may proceed at now.
func (p *LockoutPolicy) Evaluate(state store.LockoutState, now time.Time) LockoutDecision {
	st := p.normalize(state, now)
	if !st.LockoutUntil.IsZero() {
		return LockoutDecision{Allowed: false, Until: st.LockoutUntil, State: st}
	}

	remaining := p.config.Threshold - st.FailedAttempts
	if remaining < 0 {
		remaining = 0
	}
	return LockoutDecision{Allowed: true, Remaining: remaining, State: st}
}

// RecordFailure counts one failed comparison. Reaching the threshold locks
// the account for Backoff(Escalation).
func (p *LockoutPolicy) RecordFailure(state store.LockoutState, now time.Time) FailureOutcome {
	st := p.normalize(state, now)
	if !st.LockoutUntil.IsZero() {
		return FailureOutcome{State: st, Ignored: true, Until: st.LockoutUntil}
	}

	if st.FailedAttempts == 0 {
		st.WindowStart = now
	}
	st.FailedAttempts++

	if st.FailedAttempts < p.config.Threshold {
		return FailureOutcome{State: st}
	}

	st.LockoutUntil = now.Add(p.Backoff(st.Escalation))
	st.Escalation++
	return FailureOutcome{State: st, Locked: true, Until: st.LockoutUntil}
}

// Reservation is one claimed password comparison. See Reserve.
type Reservation struct {
	Allowed bool
	// Until is the lockout end when refused, or the lockout this attempt
	// started when Locked is set.
	Until time.Time
	State store.LockoutState
	// Locked is true when the claimed attempt used the last slot and locked
	// the account ahead of the comparison.
	Locked bool
}

// Reserve counts an attempt as failed before the password is compared, so
// concurrent guesses cannot outrun the threshold. The caller persists State
// in the same atomic update that read state, compares only when Allowed,
// and hands a successful comparison back to Release.
func (p *LockoutPolicy) Reserve(state store.LockoutState, now time.Time) Reservation {
	out := p.RecordFailure(state, now)
	if out.Ignored {
		return Reservation{Until: out.Until, State: out.State}
	}
	return Reservation{Allowed: true, Until: out.Until, State: out.State, Locked: out.Locked}
}

// Release undoes reservation r after the comparison succeeded. A lockout is
// lifted only if it is still the one r started.
func (p *LockoutPolicy) Release(state store.LockoutState, r Reservation, now time.Time) store.LockoutState {
	st := p.normalize(state, now)
	if r.Locked && st.LockoutUntil.Equal(r.Until) {
		st.LockoutUntil = time.Time{}
		if st.Escalation > 0 {
			st.Escalation--
		}
	}
	if st.FailedAttempts > 0 {
		st.FailedAttempts--
	}
	if st.FailedAttempts == 0 && st.LockoutUntil.IsZero() {
		st.WindowStart = time.Time{}
	}
	return st
}

// Reset returns the state after a successful login or a manual unlock.
func (p *LockoutPolicy) Reset() store.LockoutState {
	return store.LockoutState{}
}

// Backoff returns the lockout duration after escalation previous lockouts.
func (p *LockoutPolicy) Backoff(escalation int) time.Duration {
	d := p.config.BaseDuration
	for i := 0; i < escalation; i++ {
		if d >= p.config.MaxDuration/2 {
			return p.config.MaxDuration
		}
		d *= 2
	}
	if d > p.config.MaxDuration {
		return p.config.MaxDuration
	}
	return d
}

func (p *LockoutPolicy) normalize(st store.LockoutState, now time.Time) store.LockoutState {
	if !st.LockoutUntil.IsZero() {
		if now.Before(st.LockoutUntil) {
			return st
		}
		st.LockoutUntil = time.Time{}
		st.FailedAttempts = 0
		st.WindowStart = time.Time{}
		return st
	}

	if st.FailedAttempts > 0 && p.config.Window > 0 && !now.Before(st.WindowStart.Add(p.config.Window)) {
		st.FailedAttempts = 0
		st.WindowStart = time.Time{}
	}
	if st.FailedAttempts < 0 {
		st.FailedAttempts = 0
	}
	return st
}
