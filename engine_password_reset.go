package accountcore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/internal/tokens"
	"github.com/MrEthical07/accountcore/store"
)

// RequestPasswordReset issues a reset token for email and hands it to the
// mailer. It returns nil for unknown or disabled accounts, and when delivery
// fails, so callers cannot learn which addresses are registered.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	addr, err := normalizeEmailAddress(email)
	if err != nil {
		return err
	}

	if err := e.throttled("password_reset", e.throttle.ResetRequest(ctx, addr)); err != nil {
		return err
	}

	rec, err := e.users.FindUserByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return unavailable(err)
	}
	if rec.Disabled {
		return nil
	}

	raw, err := e.tokens.Issue(ctx, store.TokenPasswordReset, rec.ID, e.config.Tokens.ResetTTL)
	if err != nil {
		return unavailable(err)
	}
	if err := e.recordSuccess(ctx, rec.ID, store.ActionPasswordResetRequest, ""); err != nil {
		_ = e.tokens.InvalidateAll(ctx, store.TokenPasswordReset, rec.ID)
		return err
	}
	e.metricInc(MetricPasswordResetRequest)

	if e.mailer == nil {
		e.log.Warn("password reset requested without a mailer", zap.String("user_id", rec.ID))
		return nil
	}
	if err := e.mailer.SendPasswordReset(ctx, rec.Email, rec.Username, raw); err != nil {
		e.log.Error("password reset mail failed", zap.String("user_id", rec.ID), zap.Error(err))
	}
	return nil
}

// ResetPassword consumes a reset token and sets newPassword. On success all
// of the user's sessions are revoked and the lockout state is cleared.
func (e *Engine) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	if rawToken == "" {
		return ErrInvalidToken
	}

	t, err := e.tokens.Peek(ctx, store.TokenPasswordReset, rawToken)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.recordTokenRejection(ctx, store.ActionPasswordReset, err, "")
		return mapTokenErr(err)
	}

	rec, err := e.loadUser(ctx, t.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	if err := e.checkPolicy(newPassword, rec.Username, rec.Email); err != nil {
		e.metricInc(MetricPasswordResetFailure)
		return err
	}
	cred, err := e.hashPassword(newPassword)
	if err != nil {
		return ErrWeakPassword
	}

	userID, err := e.tokens.Consume(ctx, store.TokenPasswordReset, rawToken)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.recordTokenRejection(ctx, store.ActionPasswordReset, err, t.UserID)
		return mapTokenErr(err)
	}

	if _, err := e.updateUser(ctx, userID, func(r *store.UserRecord) error {
		r.Credential = cred
		r.Lockout = e.lockout.Reset()
		r.UpdatedAt = e.now()
		return nil
	}); err != nil {
		return err
	}

	n, err := e.sessions.RevokeAll(ctx, userID, "")
	if err != nil {
		return unavailable(err)
	}
	if err := e.tokens.InvalidateAll(ctx, store.TokenMFAChallenge, userID); err != nil {
		return unavailable(err)
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.log.Info("password reset", zap.String("user_id", userID), zap.Int("sessions_revoked", n))
	return e.recordSuccess(ctx, userID, store.ActionPasswordReset, fmt.Sprintf("sessions revoked: %d", n))
}

// ChangePassword replaces the password of a signed-in user. Wrong current
// passwords count toward lockout. Every session except currentSessionID is
// revoked.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentSessionID, oldPassword, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	rec, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if rec.Disabled {
		return ErrAccountDisabled
	}

	if err := e.verifyGated(ctx, rec, oldPassword, store.ActionPasswordChange, "invalid current password"); err != nil {
		if errors.Is(err, ErrCredentialInvalid) {
			e.metricInc(MetricPasswordChangeInvalidOld)
		}
		return err
	}

	if oldPassword == newPassword {
		e.metricInc(MetricPasswordChangeReuseRejected)
		e.recordFailure(ctx, rec.ID, store.ActionPasswordChange, "password reuse")
		return ErrPasswordReuse
	}
	if err := e.checkPolicy(newPassword, rec.Username, rec.Email); err != nil {
		return err
	}
	cred, err := e.hashPassword(newPassword)
	if err != nil {
		return ErrWeakPassword
	}

	if _, err := e.updateUser(ctx, rec.ID, func(r *store.UserRecord) error {
		r.Credential = cred
		r.Lockout = e.lockout.Reset()
		r.UpdatedAt = e.now()
		return nil
	}); err != nil {
		return err
	}

	n, err := e.sessions.RevokeAll(ctx, rec.ID, currentSessionID)
	if err != nil {
		return unavailable(err)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	return e.recordSuccess(ctx, rec.ID, store.ActionPasswordChange, fmt.Sprintf("sessions revoked: %d", n))
}

// SetPassword adds a password to an account that signs in only through
// OAuth. Accounts that already have one must use ChangePassword.
func (e *Engine) SetPassword(ctx context.Context, userID, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	rec, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if rec.HasPassword() {
		return ErrPasswordAlreadySet
	}
	if err := e.checkPolicy(newPassword, rec.Username, rec.Email); err != nil {
		return err
	}
	cred, err := e.hashPassword(newPassword)
	if err != nil {
		return ErrWeakPassword
	}

	if _, err := e.updateUser(ctx, rec.ID, func(r *store.UserRecord) error {
		if r.HasPassword() {
			return ErrPasswordAlreadySet
		}
		r.Credential = cred
		r.UpdatedAt = e.now()
		return nil
	}); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	return e.recordSuccess(ctx, rec.ID, store.ActionPasswordChange, "password set")
}

// mapTokenErr translates token service errors for reset and verification
// tokens.
func mapTokenErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tokens.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, tokens.ErrNotFound), errors.Is(err, tokens.ErrAlreadyUsed), errors.Is(err, store.ErrInvalidArgument):
		return ErrInvalidToken
	default:
		return unavailable(err)
	}
}
