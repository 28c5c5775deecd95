package accountcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/internal/limiters"
	"github.com/MrEthical07/accountcore/internal/sessions"
	"github.com/MrEthical07/accountcore/internal/tokens"
	"github.com/MrEthical07/accountcore/store"
)

// Login authenticates identifier (email or username) and password.
//
// An unknown identifier and a wrong password both return
// ErrCredentialInvalid after the same hashing work. A locked account returns
// a *LockoutError without comparing the password. When MFA is enabled the
// result carries only a TempToken for VerifyMFA.
func (e *Engine) Login(ctx context.Context, identifier, pw string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || pw == "" {
		return nil, ErrInvalidInput
	}

	if err := e.throttled("login", e.throttle.Login(ctx, clientIPFromContext(ctx))); err != nil {
		e.metricInc(MetricLoginRateLimited)
		return nil, err
	}

	rec, err := e.users.FindUserByLogin(ctx, identifier)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, unavailable(err)
		}
		e.passwordHash.VerifyDummy(pw)
		e.metricInc(MetricLoginFailure)
		e.log.Info("login failed for unknown identifier", zap.String("client_ip", clientIPFromContext(ctx)))
		return nil, ErrCredentialInvalid
	}

	if err := e.verifyGated(ctx, rec, pw, store.ActionLoginFailed, "invalid password"); err != nil {
		return nil, err
	}

	e.maybeUpgradeHash(ctx, rec, pw)

	if rec.Settings.MFAEnabled {
		if rec.Disabled {
			e.recordFailure(ctx, rec.ID, store.ActionLoginFailed, "account disabled")
			return nil, ErrAccountDisabled
		}
		return e.issueMFAChallenge(ctx, rec.ID)
	}

	return e.completeLogin(ctx, rec.ID)
}

// verifyGated compares pw against rec under the lockout policy. The attempt
// is claimed on the locked row before any hashing work, so a burst of
// parallel guesses gets at most Threshold comparisons. It returns nil for
// the right password, a *LockoutError when no attempt may be made and
// ErrCredentialInvalid otherwise.
func (e *Engine) verifyGated(ctx context.Context, rec *store.UserRecord, pw string, action store.Action, details string) error {
	var res limiters.Reservation
	_, err := e.updateUser(ctx, rec.ID, func(r *store.UserRecord) error {
		res = e.lockout.Reserve(r.Lockout, e.now())
		if !res.Allowed {
			return &LockoutError{Until: res.Until}
		}
		r.Lockout = res.State
		return nil
	})
	var locked *LockoutError
	if errors.As(err, &locked) {
		if action == store.ActionLoginFailed {
			e.metricInc(MetricLoginLocked)
		}
		e.recordWarning(ctx, rec.ID, action, "account locked")
		return locked
	}
	if err != nil {
		return err
	}

	ok, err := e.checkPassword(rec, pw)
	if err != nil || !ok {
		e.metricInc(MetricLoginFailure)
		e.recordFailure(ctx, rec.ID, action, details)
		if res.Locked {
			e.metricInc(MetricAccountLocked)
			e.recordWarning(ctx, rec.ID, store.ActionAccountLocked, "locked until "+res.Until.UTC().Format(time.RFC3339))
			e.log.Warn("account locked", zap.String("user_id", rec.ID), zap.Time("until", res.Until))
		}
		if err != nil {
			return err
		}
		return ErrCredentialInvalid
	}

	if _, err := e.updateUser(ctx, rec.ID, func(r *store.UserRecord) error {
		r.Lockout = e.lockout.Release(r.Lockout, res, e.now())
		return nil
	}); err != nil {
		return err
	}
	return nil
}

// maybeUpgradeHash rehashes pw under the current parameters. Failures are
// logged and ignored; the old digest still verifies.
func (e *Engine) maybeUpgradeHash(ctx context.Context, rec *store.UserRecord, pw string) {
	if !e.config.Password.UpgradeOnLogin || !rec.HasPassword() {
		return
	}
	stale, err := e.passwordHash.NeedsUpgrade(digestOf(rec.Credential))
	if err != nil || !stale {
		return
	}
	cred, err := e.hashPassword(pw)
	if err != nil {
		return
	}
	old := rec.Credential.Params
	_, err = e.users.UpdateUser(ctx, rec.ID, func(r *store.UserRecord) error {
		if r.Credential == nil || r.Credential.Params != old {
			return errHashChanged
		}
		r.Credential = cred
		return nil
	})
	if err != nil && !errors.Is(err, errHashChanged) {
		e.log.Warn("password hash upgrade failed", zap.String("user_id", rec.ID), zap.Error(err))
	}
}

var errHashChanged = errors.New("password hash changed concurrently")

func (e *Engine) issueMFAChallenge(ctx context.Context, userID string) (*LoginResult, error) {
	temp, err := e.tokens.Issue(ctx, store.TokenMFAChallenge, userID, e.config.Tokens.MFAChallengeTTL)
	if err != nil {
		return nil, unavailable(err)
	}
	e.metricInc(MetricMFARequired)
	e.recordWarning(ctx, userID, store.ActionMFAVerify, "challenge issued")
	return &LoginResult{MFARequired: true, TempToken: temp}, nil
}

// completeLogin opens a session for a user whose first factor (and second,
// when enabled) has been verified.
func (e *Engine) completeLogin(ctx context.Context, userID string) (*LoginResult, error) {
	rec, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec.Disabled {
		e.recordFailure(ctx, rec.ID, store.ActionLoginFailed, "account disabled")
		return nil, ErrAccountDisabled
	}

	issued, err := e.sessions.Create(ctx, rec.ID, requestMeta(ctx))
	if err != nil {
		return nil, unavailable(err)
	}

	if rec.Lockout != (store.LockoutState{}) {
		updated, err := e.updateUser(ctx, rec.ID, func(r *store.UserRecord) error {
			r.Lockout = e.lockout.Reset()
			return nil
		})
		if err != nil {
			e.revokeQuietly(ctx, issued.Session.ID)
			return nil, err
		}
		rec = updated
	}

	if err := e.recordSuccess(ctx, rec.ID, store.ActionLoginSuccess, ""); err != nil {
		e.revokeQuietly(ctx, issued.Session.ID)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)

	u := rec.User
	sess := issued.Session
	return &LoginResult{
		User:         &u,
		Session:      &sess,
		SessionToken: issued.Token,
	}, nil
}

func (e *Engine) revokeQuietly(ctx context.Context, sessionID string) {
	if err := e.sessions.Revoke(ctx, sessionID); err != nil {
		e.log.Error("session rollback failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (e *Engine) observeLatency(start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.Observe(MetricAuthenticateLatency, e.now().Sub(start))
}

// VerifyMFA completes a login that returned MFARequired. A wrong code
// returns ErrInvalidCode and counts against the challenge; an expired,
// consumed or exhausted challenge returns ErrMFAExpired.
func (e *Engine) VerifyMFA(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	if tempToken == "" || strings.TrimSpace(code) == "" {
		return nil, ErrInvalidInput
	}

	if err := e.throttled("mfa", e.throttle.MFAAttempt(ctx, e.tokenHasher.Hash(tempToken))); err != nil {
		e.metricInc(MetricLoginRateLimited)
		return nil, err
	}

	challenge, err := e.tokens.Peek(ctx, store.TokenMFAChallenge, tempToken)
	if err != nil {
		if errors.Is(err, tokens.ErrUnavailable) {
			return nil, unavailable(err)
		}
		e.recordTokenRejection(ctx, store.ActionMFAVerify, err, "")
		return nil, ErrMFAExpired
	}

	rec, err := e.loadUser(ctx, challenge.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrMFAExpired
		}
		return nil, err
	}
	if !rec.Settings.MFAEnabled || len(rec.MFA.Secret) == 0 {
		return nil, ErrMFAExpired
	}

	counter, err := e.acceptTOTP(ctx, rec, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			if _, aerr := e.tokens.RecordAttempt(ctx, store.TokenMFAChallenge, tempToken, e.config.Tokens.MFAMaxAttempts); aerr != nil && errors.Is(aerr, tokens.ErrUnavailable) {
				e.log.Warn("mfa attempt not recorded", zap.String("user_id", rec.ID), zap.Error(aerr))
			}
			e.metricInc(MetricMFAFailure)
			e.recordFailure(ctx, rec.ID, store.ActionMFAVerify, "invalid code")
		}
		return nil, err
	}

	if _, err := e.tokens.Consume(ctx, store.TokenMFAChallenge, tempToken); err != nil {
		if errors.Is(err, tokens.ErrUnavailable) {
			return nil, unavailable(err)
		}
		e.recordTokenRejection(ctx, store.ActionMFAVerify, err, rec.ID)
		return nil, ErrMFAExpired
	}

	if err := e.throttle.ForgetMFA(ctx, e.tokenHasher.Hash(tempToken)); err != nil {
		e.log.Warn("mfa throttle counter not cleared", zap.Error(err))
	}

	e.metricInc(MetricMFASuccess)
	if err := e.recordSuccess(ctx, rec.ID, store.ActionMFAVerify, "code accepted"); err != nil {
		return nil, err
	}
	e.log.Debug("totp counter accepted", zap.String("user_id", rec.ID), zap.Int64("counter", counter))
	return e.completeLogin(ctx, rec.ID)
}

// acceptTOTP verifies code against the enrolled secret and advances the
// replay counter atomically. A code whose counter is not newer than the last
// accepted one returns ErrInvalidCode.
func (e *Engine) acceptTOTP(ctx context.Context, rec *store.UserRecord, code string) (int64, error) {
	ok, counter, err := e.totp.VerifyCode(rec.MFA.Secret, code, e.now())
	if err != nil {
		e.log.Error("totp verification failed", zap.String("user_id", rec.ID), zap.Error(err))
		return 0, ErrInvalidCode
	}
	if !ok {
		return 0, ErrInvalidCode
	}

	_, err = e.updateUser(ctx, rec.ID, func(r *store.UserRecord) error {
		if counter <= r.MFA.LastCounter {
			return ErrInvalidCode
		}
		r.MFA.LastCounter = counter
		return nil
	})
	if errors.Is(err, ErrInvalidCode) {
		e.metricInc(MetricMFAReplay)
	}
	return counter, err
}

// Logout revokes sessionID. Logging out an unknown session is not an error.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	if sessionID == "" {
		return nil
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrUnavailable) {
			return unavailable(err)
		}
		// Expired or already gone: make sure nothing is left behind.
		_ = e.sessions.Revoke(ctx, sessionID)
		return nil
	}

	if err := e.sessions.Revoke(ctx, sess.ID); err != nil {
		return unavailable(err)
	}
	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionRevoked)
	return e.recordSuccess(ctx, sess.UserID, store.ActionLogout, "")
}
