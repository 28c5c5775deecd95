package accountcore

import (
	"bytes"
	"context"
	"errors"

	"github.com/MrEthical07/accountcore/store"
)

// BeginMFAEnrollment generates a TOTP secret and stores it as pending. The
// secret takes effect only after ConfirmMFAEnrollment; calling Begin again
// replaces the pending secret.
func (e *Engine) BeginMFAEnrollment(ctx context.Context, userID string) (*MFAEnrollment, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	secret, encoded, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	rec, err := e.updateUser(ctx, userID, func(r *store.UserRecord) error {
		if r.Settings.MFAEnabled {
			return ErrMFAAlreadyEnabled
		}
		r.MFA.PendingSecret = secret
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &MFAEnrollment{
		SecretBase32: encoded,
		URI:          e.totp.ProvisionURI(encoded, rec.Email),
	}, nil
}

// ConfirmMFAEnrollment enables MFA once code verifies against the pending
// secret.
func (e *Engine) ConfirmMFAEnrollment(ctx context.Context, userID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	rec, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if rec.Settings.MFAEnabled {
		return ErrMFAAlreadyEnabled
	}
	if len(rec.MFA.PendingSecret) == 0 {
		return ErrMFANotPending
	}

	ok, counter, err := e.totp.VerifyCode(rec.MFA.PendingSecret, code, e.now())
	if err != nil || !ok {
		e.metricInc(MetricMFAFailure)
		e.recordFailure(ctx, rec.ID, store.ActionMFAEnable, "invalid code")
		return ErrInvalidCode
	}

	pending := rec.MFA.PendingSecret
	if _, err := e.updateUser(ctx, rec.ID, func(r *store.UserRecord) error {
		if r.Settings.MFAEnabled {
			return ErrMFAAlreadyEnabled
		}
		if !bytes.Equal(r.MFA.PendingSecret, pending) {
			return ErrMFANotPending
		}
		r.MFA.Secret = r.MFA.PendingSecret
		r.MFA.PendingSecret = nil
		r.MFA.LastCounter = counter
		r.Settings.MFAEnabled = true
		r.UpdatedAt = e.now()
		return nil
	}); err != nil {
		return err
	}

	return e.recordSuccess(ctx, rec.ID, store.ActionMFAEnable, "")
}

// DisableMFA turns MFA off after re-authentication: the current password
// when the account has one, and a valid code. Pending MFA challenges are
// voided.
func (e *Engine) DisableMFA(ctx context.Context, userID, pw, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	rec, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !rec.Settings.MFAEnabled {
		return ErrMFANotEnabled
	}

	if rec.HasPassword() {
		if err := e.verifyGated(ctx, rec, pw, store.ActionMFADisable, "invalid password"); err != nil {
			return err
		}
	}

	if _, err := e.acceptTOTP(ctx, rec, code); err != nil {
		if errors.Is(err, ErrInvalidCode) {
			e.metricInc(MetricMFAFailure)
			e.recordFailure(ctx, rec.ID, store.ActionMFADisable, "invalid code")
		}
		return err
	}

	if _, err := e.updateUser(ctx, rec.ID, func(r *store.UserRecord) error {
		r.Settings.MFAEnabled = false
		r.MFA = store.MFAState{}
		r.UpdatedAt = e.now()
		return nil
	}); err != nil {
		return err
	}
	if err := e.tokens.InvalidateAll(ctx, store.TokenMFAChallenge, rec.ID); err != nil {
		return unavailable(err)
	}

	return e.recordSuccess(ctx, rec.ID, store.ActionMFADisable, "")
}
