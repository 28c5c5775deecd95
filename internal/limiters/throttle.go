package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/accountcore/internal/rate"
)

var (
	// ErrThrottled is returned when a request budget is exhausted.
	ErrThrottled = errors.New("request throttled")
	// ErrThrottleUnavailable indicates the throttle backend is unreachable.
	ErrThrottleUnavailable = errors.New("throttle backend unavailable")
)

// ThrottleConfig sets per-window budgets. A zero budget disables that check.
type ThrottleConfig struct {
	Window          time.Duration
	LoginPerIP      int
	SignupPerIP     int
	ResetPerEmail   int
	VerifyPerEmail  int
	MFAPerChallenge int
}

// DefaultThrottleConfig returns conservative budgets over a 15 minute window.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		Window:          15 * time.Minute,
		LoginPerIP:      50,
		SignupPerIP:     10,
		ResetPerEmail:   3,
		VerifyPerEmail:  3,
		MFAPerChallenge: 10,
	}
}

// Throttle applies request budgets in front of the account flows. It is
// independent of account lockout: it limits request volume, lockout limits
// password guesses per account. A nil *Throttle allows everything.
type Throttle struct {
	limiter *rate.Limiter
	config  ThrottleConfig
}

// NewThrottle builds a throttle over a rate limiter.
func NewThrottle(limiter *rate.Limiter, cfg ThrottleConfig) *Throttle {
	if limiter == nil {
		return nil
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultThrottleConfig().Window
	}
	return &Throttle{limiter: limiter, config: cfg}
}

// Login counts a login attempt from ip.
func (t *Throttle) Login(ctx context.Context, ip string) error {
	if t == nil || ip == "" {
		return nil
	}
	return t.hit(ctx, "login:ip:"+ip, t.config.LoginPerIP)
}

// Signup counts a signup attempt from ip.
func (t *Throttle) Signup(ctx context.Context, ip string) error {
	if t == nil || ip == "" {
		return nil
	}
	return t.hit(ctx, "signup:ip:"+ip, t.config.SignupPerIP)
}

// ResetRequest counts a password reset request for email.
func (t *Throttle) ResetRequest(ctx context.Context, email string) error {
	if t == nil || email == "" {
		return nil
	}
	return t.hit(ctx, "reset:email:"+email, t.config.ResetPerEmail)
}

// VerificationRequest counts an email verification request for email.
func (t *Throttle) VerificationRequest(ctx context.Context, email string) error {
	if t == nil || email == "" {
		return nil
	}
	return t.hit(ctx, "verify:email:"+email, t.config.VerifyPerEmail)
}

// MFAAttempt counts a code submission against a challenge.
func (t *Throttle) MFAAttempt(ctx context.Context, challenge string) error {
	if t == nil || challenge == "" {
		return nil
	}
	return t.hit(ctx, "mfa:"+challenge, t.config.MFAPerChallenge)
}

// ForgetMFA drops the attempt counter of a consumed challenge.
func (t *Throttle) ForgetMFA(ctx context.Context, challenge string) error {
	if t == nil || challenge == "" {
		return nil
	}
	if err := t.limiter.Reset(ctx, "mfa:"+challenge); err != nil {
		return fmt.Errorf("%w: %v", ErrThrottleUnavailable, err)
	}
	return nil
}

func (t *Throttle) hit(ctx context.Context, key string, max int) error {
	err := t.limiter.Hit(ctx, key, max, t.config.Window)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return ErrThrottled
	default:
		return fmt.Errorf("%w: %v", ErrThrottleUnavailable, err)
	}
}
